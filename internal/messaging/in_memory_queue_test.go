package messaging_test

import (
	"context"
	"testing"
	"time"

	"translator-backend/internal/messaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	q := messaging.NewInMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, [][]byte{[]byte("a")}))
	require.NoError(t, q.Publish(ctx, [][]byte{[]byte("b"), {1}}))

	d := <-q.Deliveries()
	assert.Equal(t, [][]byte{[]byte("a")}, d.Frames())
	assert.NoError(t, d.Ack())

	d = <-q.Deliveries()
	assert.Len(t, d.Frames(), 2)
	assert.NoError(t, d.Reject())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Publish(ctx, [][]byte{[]byte("c")}), messaging.ErrClosed)

	_, ok := <-q.Deliveries()
	assert.False(t, ok)
}

func TestInMemoryQueueFullRespectsContext(t *testing.T) {
	q := messaging.NewInMemoryQueue(1)
	require.NoError(t, q.Publish(context.Background(), [][]byte{[]byte("a")}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, [][]byte{[]byte("b")}), context.DeadlineExceeded)
}

func TestInMemoryBroadcaster(t *testing.T) {
	b := messaging.NewInMemoryBroadcaster()
	ctx := context.Background()

	first, unsubscribeFirst := b.Subscribe(4)
	second, _ := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, [][]byte{[]byte("one")}))
	// second is full, it loses this one without blocking the publisher
	require.NoError(t, b.Publish(ctx, [][]byte{[]byte("two")}))

	assert.Equal(t, [][]byte{[]byte("one")}, <-first)
	assert.Equal(t, [][]byte{[]byte("two")}, <-first)
	assert.Equal(t, [][]byte{[]byte("one")}, <-second)

	unsubscribeFirst()
	unsubscribeFirst()
	_, ok := <-first
	assert.False(t, ok)

	b.Close()
	_, ok = <-second
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(ctx, [][]byte{[]byte("three")}), messaging.ErrClosed)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
