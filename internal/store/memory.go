package store

import (
	"context"
	"sync"
	"time"

	"github.com/qcekey/iget/internal/model"
)

var _ model.FingerprintIndex = (*MemoryIndex)(nil)

// MemoryIndex is a process-local fingerprint index. Nothing survives a restart.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]time.Time)}
}

func (m *MemoryIndex) Record(_ context.Context, fp string, seenAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fp]; ok {
		return false, nil
	}
	m.entries[fp] = seenAt
	return true, nil
}

func (m *MemoryIndex) RecordBatch(_ context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := make([]bool, len(fps))
	for i, fp := range fps {
		if _, ok := m.entries[fp]; ok {
			continue
		}
		m.entries[fp] = seenAt
		added[i] = true
	}
	return added, nil
}

func (m *MemoryIndex) Contains(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[fp]
	return ok, nil
}

func (m *MemoryIndex) Evict(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for fp, seen := range m.entries {
		if seen.Before(before) {
			delete(m.entries, fp)
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Stats(_ context.Context) (model.IndexStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := model.IndexStats{Size: int64(len(m.entries))}
	for _, seen := range m.entries {
		if stats.Oldest.IsZero() || seen.Before(stats.Oldest) {
			stats.Oldest = seen
		}
	}
	return stats, nil
}

func (m *MemoryIndex) Close() error { return nil }
