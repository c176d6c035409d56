package core

import (
	"context"
	"fmt"
)

// Open loads the persisted snapshot and rebuilds every library index from
// its chunks in stored order. Without a Snapshotter it does nothing.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("open", ErrStoreClosed)
	}
	if s.config.Snapshotter == nil {
		s.logger.Info("store opened without snapshot backend")
		return nil
	}

	snap, err := s.config.Snapshotter.Load(ctx)
	if err != nil {
		return wrapError("open", fmt.Errorf("load snapshot: %w", err))
	}
	if err := s.restoreLocked(snap); err != nil {
		return wrapError("open", err)
	}

	s.logger.Info("store opened", "libraries", len(s.order))
	return nil
}
