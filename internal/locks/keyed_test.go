package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSortsAndDedups(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Order("c", "a", "b", "a"))
	assert.Empty(t, Order())
}

func TestAcquireOppositeOrderDoesNotDeadlock(t *testing.T) {
	k := NewKeyed()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "acct:a", "acct:b")
			if !assert.NoError(t, err) {
				return
			}
			counter++
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "acct:b", "acct:a")
			if !assert.NoError(t, err) {
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, counter)
	assert.Equal(t, 0, k.Held())
}

func TestAcquireCancelledReleasesPartialHold(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "a", "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" must be free again even though "b" is still held.
	relA, err := k.Acquire(context.Background(), "a")
	require.NoError(t, err)
	relA()
	release()
	assert.Equal(t, 0, k.Held())
}

func TestReleaseIsIdempotent(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "x", "y")
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, k.Held())
}
