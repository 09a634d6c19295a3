// Package ev moves work from goroutines that wait on device file
// descriptors to the goroutine that runs the event loop.
package ev

import (
	"errors"

	"deedles.dev/xsync/cq"
)

type Queue = cq.BulkQueue[func() error, *Events]

func NewQueue() *Queue {
	return cq.New(func(v []func() error) *Events {
		return &Events{
			events: v,
		}
	})
}

// Events is a batch of callbacks taken from a Queue.
type Events struct {
	events []func() error
}

// Len returns the number of callbacks in the batch.
func (q *Events) Len() int {
	return len(q.events)
}

// Flush runs every callback in the batch in the order they were
// queued.
func (q *Events) Flush() error {
	return errors.Join(Flush(q)...)
}

func Flush(queue *Events) (errs []error) {
	for _, ev := range queue.events {
		err := ev()
		if err != nil {
			errs = append(errs, err)
		}
	}
	queue.events = nil
	return errs
}
