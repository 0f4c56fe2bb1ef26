// Package memory is the in-process store.Challenges used when no shared
// Redis is configured. State is lost on restart and not shared between
// replicas.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/patrickmn/go-cache"
)

type Challenges struct {
	mu    sync.Mutex
	cache *cache.Cache
}

var _ store.Challenges = (*Challenges)(nil)

func NewChallenges() *Challenges {
	return &Challenges{cache: cache.New(5*time.Minute, time.Minute)}
}

func (c *Challenges) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *Challenges) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Take reads and deletes under one lock, which is what makes it
// single-use across goroutines.
func (c *Challenges) Take(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	c.cache.Delete(key)
	return v.([]byte), nil
}

func (c *Challenges) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(key)
	return nil
}

func (c *Challenges) Ping(context.Context) error { return nil }

// Len reports the number of live entries.
func (c *Challenges) Len() int { return c.cache.ItemCount() }
