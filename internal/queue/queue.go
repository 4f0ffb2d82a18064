// Package queue provides the wake channel between task creation and the
// worker pool. The durable queue is the PENDING rows in the store; a wake is
// only a hint that a new row exists, so a dropped wake costs latency (the
// workers also poll) rather than correctness. A wake that cannot be delivered
// at all is surfaced as an error so the caller can fail the task instead of
// leaving it silently parked.
package queue

import (
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueSaturated is returned when the wake buffer is full and no
	// worker is draining it.
	ErrQueueSaturated = errors.New("queue saturated")
)

// Queue delivers task wake signals to workers.
type Queue interface {
	// Enqueue signals that the task with the given id is ready for pickup.
	Enqueue(taskID string) error
	// Wake is the channel workers select on.
	Wake() <-chan string
	// Close stops the queue. Subsequent Enqueue calls fail.
	Close()
}

type chanQueue struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

// New returns a Queue backed by a bounded channel.
func New(buffer int) Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &chanQueue{ch: make(chan string, buffer)}
}

func (q *chanQueue) Enqueue(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- taskID:
		return nil
	default:
		return ErrQueueSaturated
	}
}

func (q *chanQueue) Wake() <-chan string {
	return q.ch
}

func (q *chanQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
