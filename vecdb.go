package vecdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/liliang-cn/vecdb/internal/config"
	"github.com/liliang-cn/vecdb/pkg/api"
	"github.com/liliang-cn/vecdb/pkg/core"
	"github.com/liliang-cn/vecdb/pkg/embed"
	"github.com/liliang-cn/vecdb/pkg/index"
	"github.com/liliang-cn/vecdb/pkg/snapshot"
)

// Config is the full vecdb configuration.
type Config = config.Config

// DefaultConfig returns a configuration that runs fully offline with the
// hash embedder and a JSON file snapshot.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a TOML file over the defaults and applies VECDB_*
// environment variables. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DB is an opened store together with the configuration it was built from.
type DB struct {
	*core.Store
	config Config
	logger core.Logger
}

type options struct {
	logger      core.Logger
	embedder    core.Embedder
	snapshotter snapshot.Snapshotter
	logOutput   io.Writer
}

// Option overrides a component Open would otherwise build from Config.
type Option func(*options)

// WithLogger uses l instead of a logger built from Config.Log.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e core.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithSnapshotter uses s instead of the configured backend. The DB closes it.
func WithSnapshotter(s snapshot.Snapshotter) Option {
	return func(o *options) { o.snapshotter = s }
}

// WithLogOutput sends logs built from Config.Log to w (default os.Stderr).
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// Open validates cfg, builds the logger, embedder and snapshot backend, and
// restores the persisted state.
func Open(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = NewLogger(cfg.Log, o.logOutput)
	}

	embedder := o.embedder
	if embedder == nil {
		e, err := newEmbedder(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	snap := o.snapshotter
	if snap == nil {
		s, err := snapshot.Open(cfg.Snapshot.Backend, cfg.Snapshot.Path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		snap = s
	}

	store, err := core.NewStore(core.Config{
		DefaultIndex: index.Type(cfg.Store.DefaultIndex),
		Cluster: index.ClusterOptions{
			Centroids: cfg.Store.Centroids,
			Probe:     cfg.Store.Probe,
		},
		Embedder:         embedder,
		Snapshotter:      snap,
		EmbedConcurrency: cfg.Store.EmbedConcurrency,
		Logger:           logger,
	})
	if err != nil {
		if snap != nil {
			snap.Close()
		}
		return nil, err
	}
	if err := store.Open(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("vecdb opened",
		"backend", cfg.Snapshot.Backend,
		"path", cfg.Snapshot.Path,
		"embedding", cfg.Embedding.Provider,
		"default_index", cfg.Store.DefaultIndex)
	return &DB{Store: store, config: cfg, logger: logger}, nil
}

// newEmbedder builds the configured provider, rate limited when
// cfg.RateLimit is positive.
func newEmbedder(cfg config.EmbeddingConfig) (core.Embedder, error) {
	var opts []embed.Option
	if cfg.Model != "" {
		opts = append(opts, embed.WithModel(cfg.Model))
	}
	if cfg.Dimension > 0 {
		opts = append(opts, embed.WithDimension(cfg.Dimension))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, embed.WithBaseURL(cfg.BaseURL))
	}
	e, err := embed.New(cfg.Provider, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("open embedder: %w", err)
	}
	return embed.WithRateLimit(e, cfg.RateLimit, cfg.Burst), nil
}

// NewLogger builds a logger from cfg writing to w. The text format uses the
// built-in key=value logger and json goes through log/slog.
func NewLogger(cfg config.LogConfig, w io.Writer) core.Logger {
	level := core.ParseLogLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "json") {
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.SlogLevel()})
		return core.NewSlogLogger(slog.New(h))
	}
	return core.NewLogger(w, level)
}

// Config returns the configuration the DB was opened with.
func (db *DB) Config() Config {
	return db.config
}

// Logger returns the DB logger.
func (db *DB) Logger() core.Logger {
	return db.logger
}

// Handler returns the HTTP API for the DB.
func (db *DB) Handler() http.Handler {
	return api.NewServer(db.Store, db.logger)
}

// ListenAndServe serves the HTTP API on addr, or Config.Server.Addr when addr
// is empty, until ctx is cancelled. Shutdown waits up to five seconds for
// in-flight requests.
func (db *DB) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = db.config.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           db.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		db.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	db.logger.Info("http server stopped", "addr", addr)
	return nil
}
