// Package redis stores short-lived ceremony state in Redis so pending MFA
// logins and WebAuthn sessions survive across service replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "np:auth:chal:"

// Challenges implements store.Challenges. Take relies on GETDEL, so of
// several concurrent takes exactly one sees the value.
type Challenges struct {
	client redis.UniversalClient
	prefix string
}

var _ store.Challenges = (*Challenges)(nil)

func NewChallenges(client redis.UniversalClient, prefix string) *Challenges {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Challenges{client: client, prefix: prefix}
}

func (c *Challenges) key(k string) string { return c.prefix + k }

func (c *Challenges) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("challenges: ttl must be positive")
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Challenges) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (c *Challenges) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.GetDel(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (c *Challenges) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *Challenges) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
