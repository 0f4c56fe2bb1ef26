package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/memory"
	"github.com/stretchr/testify/require"
)

func TestChallenges_TakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := memory.NewChallenges()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	v, err = c.Take(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	_, err = c.Take(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Zero(t, c.Len())
}

func TestChallenges_Expiry(t *testing.T) {
	ctx := context.Background()
	c := memory.NewChallenges()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallenges_ConcurrentTakeSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := memory.NewChallenges()
	require.NoError(t, c.Put(ctx, "webauthn:auth:tok", []byte("session"), time.Minute))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Take(ctx, "webauthn:auth:tok"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, winners.Load())
}

func TestChallenges_PutCopiesValue(t *testing.T) {
	ctx := context.Background()
	c := memory.NewChallenges()

	buf := []byte("abc")
	require.NoError(t, c.Put(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Ping(ctx))
}
