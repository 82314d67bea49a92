package core

import (
	"fmt"
	"testing"

	"translator-backend/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneFIFO(t *testing.T) {
	l := newLane(types.NormalLane, 10)

	var ids []string
	for i := 0; i < 8; i++ {
		job := newTestJob(fmt.Sprintf("text %d", i), "fr")
		ids = append(ids, job.Id)
		require.True(t, l.tryEnqueue(workItem{job: &job}))
	}
	assert.Equal(t, 8, l.depth())

	for _, id := range ids {
		item, ok := l.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, id, item.job.Id)
		assert.False(t, item.enqueuedAt.IsZero())
	}

	_, ok := l.tryDequeue()
	assert.False(t, ok)
}

func TestLaneRejectsWhenFull(t *testing.T) {
	l := newLane(types.FastLane, 2)
	job := newTestJob("Hi", "fr")

	assert.True(t, l.tryEnqueue(workItem{job: &job}))
	assert.True(t, l.tryEnqueue(workItem{job: &job}))
	assert.False(t, l.tryEnqueue(workItem{job: &job}))
	assert.Equal(t, 2, l.depth())
	assert.Equal(t, 2, l.capacity())
}
