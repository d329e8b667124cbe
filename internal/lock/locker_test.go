package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker()
	var inside, maxInside int32

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return l.Do(context.Background(), ProjectKey(1), func() error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}

func TestLockerHonoursContext(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), CaseKey(7))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, CaseKey(7))
	assert.Error(t, err)

	// A different key is independent.
	other, err := l.Lock(context.Background(), CaseKey(8))
	require.NoError(t, err)
	other()
}
