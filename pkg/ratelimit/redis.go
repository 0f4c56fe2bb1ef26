package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments and sets the expiry on first hit in one round trip,
// so a bucket can never be left without a TTL.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStore keeps buckets in redis so every replica shares them.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string, expireIn time.Duration) (int64, error) {
	ms := expireIn.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return incrScript.Run(ctx, s.client, []string{key}, ms).Int64()
}
