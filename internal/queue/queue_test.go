package queue_test

import (
	"errors"
	"testing"

	"github.com/inkwell-app/inkwell/internal/queue"
)

func TestQueue_EnqueueAndWake(t *testing.T) {
	q := queue.New(4)
	defer q.Close()

	if err := q.Enqueue("t1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case id := <-q.Wake():
		if id != "t1" {
			t.Fatalf("expected t1, got %q", id)
		}
	default:
		t.Fatal("expected a wake signal")
	}
}

func TestQueue_SaturationSurfacesError(t *testing.T) {
	q := queue.New(1)
	defer q.Close()

	if err := q.Enqueue("t1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue("t2"); !errors.Is(err, queue.ErrQueueSaturated) {
		t.Fatalf("expected ErrQueueSaturated, got %v", err)
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := queue.New(4)
	q.Close()
	q.Close() // idempotent

	if err := q.Enqueue("t1"); !errors.Is(err, queue.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
