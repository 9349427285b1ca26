// Package checkpoint provides CheckpointPort implementations: a SQLite
// store for durable sweeps and an in-memory store for tests.
package checkpoint

import (
	"context"
	"sync"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/sweep"
)

// MemoryStore keeps snapshots in process memory. Save and Load deep-copy
// so callers can keep mutating their checkpoint after a save.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[core.SweepParamsHash]*sweep.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[core.SweepParamsHash]*sweep.Checkpoint)}
}

func (s *MemoryStore) Load(_ context.Context, hash core.SweepParamsHash) (*sweep.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.snapshots[hash]
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemoryStore) Save(_ context.Context, cp *sweep.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[cp.ParamsHash] = cloneCheckpoint(cp)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, hash core.SweepParamsHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, hash)
	return nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func cloneCheckpoint(cp *sweep.Checkpoint) *sweep.Checkpoint {
	out := *cp
	out.Done = append([]bool(nil), cp.Done...)
	out.Counts = append([]int(nil), cp.Counts...)
	out.Failures = append([]sweep.PositionFailure(nil), cp.Failures...)
	out.Values = make([][][]float64, len(cp.Values))
	for a := range cp.Values {
		out.Values[a] = make([][]float64, len(cp.Values[a]))
		for p := range cp.Values[a] {
			out.Values[a][p] = append([]float64(nil), cp.Values[a][p]...)
		}
	}
	return &out
}
