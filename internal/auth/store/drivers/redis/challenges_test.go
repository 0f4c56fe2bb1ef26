package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	chalredis "github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newChallenges(t *testing.T) (*chalredis.Challenges, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return chalredis.NewChallenges(client, ""), mr
}

func TestChallenges_PutGetTake(t *testing.T) {
	ctx := context.Background()
	c, mr := newChallenges(t)

	require.NoError(t, c.Put(ctx, "webauthn:reg:abc", []byte("session"), time.Minute))
	require.True(t, mr.Exists(chalredis.DefaultPrefix+"webauthn:reg:abc"))

	v, err := c.Get(ctx, "webauthn:reg:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("session"), v)

	v, err = c.Take(ctx, "webauthn:reg:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("session"), v)

	_, err = c.Take(ctx, "webauthn:reg:abc")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = c.Get(ctx, "webauthn:reg:abc")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallenges_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newChallenges(t)

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := c.Take(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallenges_ConcurrentTakeSingleWinner(t *testing.T) {
	ctx := context.Background()
	c, _ := newChallenges(t)
	require.NoError(t, c.Put(ctx, "mfa:login:tok", []byte("pending"), time.Minute))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Take(ctx, "mfa:login:tok"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, winners.Load())
}

func TestChallenges_PingAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newChallenges(t)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	require.Error(t, c.Put(ctx, "k", []byte("v"), 0))
}
