package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps buckets in process. It is the fallback when no shared
// store is configured or reachable.
type MemoryStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(DefaultWindow, time.Minute)}
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, expireIn time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.c.Add(key, int64(1), expireIn); err == nil {
		return 1, nil
	}

	n, err := s.c.IncrementInt64(key, 1)
	if err != nil {
		// expired between Add and Increment
		s.c.Set(key, int64(1), expireIn)
		return 1, nil
	}
	return n, nil
}

// Len reports the number of live buckets.
func (s *MemoryStore) Len() int {
	return s.c.ItemCount()
}
