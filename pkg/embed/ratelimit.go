package embed

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultBackoff applies when a provider reports 429 without Retry-After.
const defaultBackoff = 5 * time.Second

// RateLimited throttles an Embedder with a token bucket. After a provider
// reports a rate limit, calls wait for the advertised backoff first.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

var _ Embedder = (*RateLimited)(nil)

// WithRateLimit wraps next with a limiter allowing perSecond calls and the
// given burst. A non-positive perSecond returns next unchanged.
func WithRateLimit(next Embedder, perSecond float64, burst int) Embedder {
	if perSecond <= 0 {
		return next
	}
	return NewRateLimited(next, perSecond, burst)
}

// NewRateLimited returns a RateLimited wrapper.
func NewRateLimited(next Embedder, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token, then calls the wrapped embedder.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := r.next.Embed(ctx, text)
	var rl *RateLimitError
	if errors.As(err, &rl) {
		r.backoff(rl.RetryAfter)
	}
	return vec, err
}

func (r *RateLimited) wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return r.limiter.Wait(ctx)
}

func (r *RateLimited) backoff(d time.Duration) {
	if d <= 0 {
		d = defaultBackoff
	}
	r.mu.Lock()
	r.retryAt = time.Now().Add(d)
	r.mu.Unlock()
}
