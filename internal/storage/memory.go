package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore keeps encoded records, so callers never share a Record with
// the store.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string][]byte
	meta        map[string]RunMetadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string][]byte)
	s.meta = make(map[string]RunMetadata)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, r *Record) error {
	if err := prepare(r); err != nil {
		return err
	}
	payload, err := EncodeRecord(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.Meta.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.runs[r.Meta.ID] = payload
	s.meta[r.Meta.ID] = r.Meta
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	r, err := DecodeRecord(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return r, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunMetadata, 0, len(s.meta))
	for _, m := range s.meta {
		runs = append(runs, m)
	}
	sortRuns(runs)
	return runs, nil
}
