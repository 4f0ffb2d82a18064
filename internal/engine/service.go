// Package engine owns the task lifecycle: the service callers create tasks
// through, and the worker pool that drives them to a terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/shared"
	"github.com/inkwell-app/inkwell/internal/store"
)

// TaskService is the caller-facing surface over the task store. Create
// returns as soon as the task is persisted and the wake signal is sent;
// execution happens on the worker pool.
type TaskService struct {
	store    *store.Store
	queue    queue.Queue
	bus      *bus.Bus
	notifier notify.Notifier
	log      *slog.Logger
}

// NewTaskService builds a TaskService.
func NewTaskService(s *store.Store, q queue.Queue, b *bus.Bus, n notify.Notifier, log *slog.Logger) *TaskService {
	return &TaskService{store: s, queue: q, bus: b, notifier: n, log: log}
}

// Create persists a PENDING task and enqueues it. If the enqueue fails, the
// task is transitioned straight to FAILED with the captured error so it is
// never left silently PENDING; the FAILED record is returned with a nil
// error because the task itself was created.
func (t *TaskService) Create(ctx context.Context, ownerID, taskType, payload string) (*store.Task, error) {
	task, err := t.store.CreateTask(ctx, ownerID, taskType, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	t.announce(ctx, task, "", store.TaskStatusPending)

	if err := t.queue.Enqueue(task.ID); err != nil {
		t.log.Error("enqueue failed, failing task",
			"task_id", task.ID,
			"owner_id", ownerID,
			"trace_id", shared.TraceID(ctx),
			"error", err)
		msg := fmt.Sprintf("enqueue: %s", err)
		if failErr := t.store.FailPendingTask(ctx, task.ID, msg); failErr != nil {
			if errors.Is(failErr, store.ErrInvalidTransition) {
				// A polling worker claimed the task before the failure
				// landed, so the wake signal was redundant after all.
				return task, nil
			}
			return nil, fmt.Errorf("fail task after enqueue error: %w", failErr)
		}
		t.announce(ctx, task, store.TaskStatusPending, store.TaskStatusFailed)
		task.Status = store.TaskStatusFailed
		task.Error = msg
		return task, nil
	}
	return task, nil
}

// Get returns one of the owner's tasks.
func (t *TaskService) Get(ctx context.Context, ownerID, taskID string) (*store.Task, error) {
	return t.store.GetTask(ctx, ownerID, taskID)
}

// List returns the owner's recent tasks.
func (t *TaskService) List(ctx context.Context, ownerID string, limit int) ([]store.Task, error) {
	return t.store.ListTasks(ctx, ownerID, limit)
}

// announce publishes a state transition on the bus and notifies the owner.
// Both are best-effort.
func (t *TaskService) announce(ctx context.Context, task *store.Task, from, to store.TaskStatus) {
	t.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		OldStatus: string(from),
		NewStatus: string(to),
	})
	t.notifier.Notify(ctx, task.OwnerID, notify.EventTaskState, map[string]any{
		"task_id": task.ID,
		"type":    task.Type,
		"status":  string(to),
	})
}
