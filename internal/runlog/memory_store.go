package runlog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu sync.Mutex

	records map[common.Hash]Run
	order   []common.Hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[common.Hash]Run)}
}

func (s *MemoryStore) Save(_ context.Context, run Run) error {
	if s == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[run.RunID]; !ok {
		s.order = append(s.order, run.RunID)
	}
	s.records[run.RunID] = cloneRun(run)

	if len(s.order) > MaxRecent {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.records, evict)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID common.Hash) (Run, error) {
	if s == nil {
		return Run{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(rec), nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	limit = ClampLimit(limit)

	s.mu.Lock()
	out := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, cloneRun(s.records[s.order[i]]))
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
