package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryCap = 1000

// InMemoryStore keeps the most recent records in process.
type InMemoryStore struct {
	mu    sync.RWMutex
	cap   int
	order []string
	byID  map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cap: defaultInMemoryCap, byID: make(map[string]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if prev, ok := s.byID[record.ID]; ok {
		record.CreatedAt = prev.CreatedAt
	} else {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		s.order = append(s.order, record.ID)
		if len(s.order) > s.cap {
			delete(s.byID, s.order[0])
			s.order = s.order[1:]
		}
	}
	record.UpdatedAt = now
	s.byID[record.ID] = record
	return nil
}

// Recent returns up to limit records, newest first.
func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]Record, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[s.order[i]])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
