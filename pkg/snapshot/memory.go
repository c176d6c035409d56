package snapshot

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory keeps the last saved snapshot as encoded JSON, so loads never alias
// the caller's records.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()

	if data == nil {
		return empty(), nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Saves reports how many snapshots have been written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
