package core

import (
	"errors"
	"time"

	"translator-backend/internal/core/types"
)

var ErrPoolFull = errors.New("translation pool full")

// workItem is either a single job or a batch. Exactly one of the two is set.
type workItem struct {
	job        *types.Job
	batch      *types.Batch
	enqueuedAt time.Time
}

func (w workItem) jobs() []types.Job {
	if w.batch != nil {
		return w.batch.Jobs
	}
	return []types.Job{*w.job}
}

// lane is a bounded FIFO shared by any number of producers and consumers.
// Enqueue never blocks.
type lane struct {
	name  types.Lane
	items chan workItem
}

func newLane(name types.Lane, capacity int) *lane {
	return &lane{name: name, items: make(chan workItem, capacity)}
}

func (l *lane) tryEnqueue(item workItem) bool {
	if item.enqueuedAt.IsZero() {
		item.enqueuedAt = time.Now()
	}
	select {
	case l.items <- item:
		return true
	default:
		return false
	}
}

func (l *lane) tryDequeue() (workItem, bool) {
	select {
	case item := <-l.items:
		return item, true
	default:
		return workItem{}, false
	}
}

func (l *lane) depth() int {
	return len(l.items)
}

func (l *lane) capacity() int {
	return cap(l.items)
}
