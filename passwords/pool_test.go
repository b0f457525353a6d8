package passwords_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/passwords"
	"github.com/stretchr/testify/require"
)

func TestPool_VerifyRoundTrip(t *testing.T) {
	pool := passwords.NewPool(cheapHasher(), 2)

	digest, err := pool.Hash(context.Background(), "pool-secret")
	require.NoError(t, err)
	require.NoError(t, pool.Verify(context.Background(), "pool-secret", digest))
	require.ErrorIs(t, pool.Verify(context.Background(), "nope", digest), passwords.ErrInvalidCredential)
}

func TestPool_ConcurrentUse(t *testing.T) {
	pool := passwords.NewPool(cheapHasher(), 2)
	digest, err := pool.Hash(context.Background(), "parallel")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pool.Verify(context.Background(), "parallel", digest)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestPool_CancelledWhileWaiting(t *testing.T) {
	pool := passwords.NewPool(passwords.NewHasher(passwords.WithTime(4), passwords.WithMemory(32*1024), passwords.WithThreads(1)), 1)
	digest, err := pool.Hash(context.Background(), "slow")
	require.NoError(t, err)

	// Occupy the only slot.
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_ = pool.Verify(context.Background(), "slow", digest)
		close(done)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pool.Verify(ctx, "slow", digest)
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("occupying verification never finished")
	}
}

func TestPool_DummyDigestVerifiesNothing(t *testing.T) {
	pool := passwords.NewPool(cheapHasher(), 1)
	dummy := pool.DummyDigest()
	require.Equal(t, dummy, pool.DummyDigest())
	require.ErrorIs(t, pool.Verify(context.Background(), "anything", dummy), passwords.ErrInvalidCredential)
}

func TestPool_DummyDigestUsesPoolCost(t *testing.T) {
	pool := passwords.NewPool(cheapHasher(), 1)

	// same parameters as a real digest, so an unknown user costs one normal verify
	require.False(t, pool.NeedsRehash(pool.DummyDigest()))
}
