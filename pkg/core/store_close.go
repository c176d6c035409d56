package core

// Close releases the snapshot backend. Later calls return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.config.Snapshotter != nil {
		if err := s.config.Snapshotter.Close(); err != nil {
			return wrapError("close", err)
		}
	}

	s.logger.Info("store closed")
	return nil
}
