package queue

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(b byte) Packet {
	return Packet{Data: []byte{b}, Component: 1}
}

func push(t *testing.T, q *Queue, p Packet) (dropped bool) {
	t.Helper()
	dropped, err := q.Push(p)
	require.NoError(t, err)
	return dropped
}

func TestQueueFIFO(t *testing.T) {
	q := New(0)
	for i := range 5 {
		assert.False(t, push(t, q, packet(byte(i))))
	}
	assert.Equal(t, 5, q.Len())
	for i := range 5 {
		p, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, p.Data)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueDropsOldest(t *testing.T) {
	q := New(2)
	assert.False(t, push(t, q, packet(1)))
	assert.False(t, push(t, q, packet(2)))
	assert.True(t, push(t, q, packet(3)))
	assert.Equal(t, 2, q.Len())

	p, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, p.Data)
	p, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, p.Data)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := New(0)
		done := make(chan Packet)
		go func() {
			p, err := q.Pop(context.Background())
			assert.NoError(t, err)
			done <- p
		}()
		synctest.Wait()

		q.Push(packet(7))
		p := <-done
		assert.Equal(t, []byte{7}, p.Data)
	})
}

func TestQueueUnlock(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := New(0)
		errs := make(chan error)
		go func() {
			_, err := q.Pop(context.Background())
			errs <- err
		}()
		synctest.Wait()

		q.Unlock()
		assert.ErrorIs(t, <-errs, ErrUnlocked)
		assert.True(t, q.Unlocked())

		q.Push(packet(1))
		_, ok := q.TryPop()
		assert.False(t, ok)

		q.UnlockStop()
		p, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, p.Data)
	})
}

func TestQueuePopContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := New(0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := q.Pop(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestQueueClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := New(0)
		q.Push(packet(1))
		errs := make(chan error)
		go func() {
			_, err := q.Pop(context.Background())
			assert.NoError(t, err)
			_, err = q.Pop(context.Background())
			errs <- err
		}()
		synctest.Wait()

		q.Close()
		assert.ErrorIs(t, <-errs, ErrClosed)
		dropped, err := q.Push(packet(2))
		assert.ErrorIs(t, err, ErrClosed)
		assert.False(t, dropped)
		assert.Equal(t, 0, q.Len())
		q.Close()
	})
}

func TestQueueFlush(t *testing.T) {
	q := New(0)
	q.Push(packet(1))
	q.Push(packet(2))
	assert.Equal(t, 2, q.Flush())
	assert.Equal(t, 0, q.Len())
	q.Push(packet(3))
	p, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, []byte{3}, p.Data)
}
