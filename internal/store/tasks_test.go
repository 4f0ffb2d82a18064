package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/inkwell-app/inkwell/internal/store"
)

func TestTasks_LifecycleHappyPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != store.TaskStatusPending {
		t.Fatalf("expected PENDING, got %s", task.Status)
	}

	claimed, err := s.ClaimNextPendingTask(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("expected to claim %s, got %+v", task.ID, claimed)
	}
	if claimed.Status != store.TaskStatusRunning {
		t.Fatalf("expected RUNNING after claim, got %s", claimed.Status)
	}

	if err := s.CompleteTask(ctx, task.ID, `{"ok":true}`); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Result != `{"ok":true}` {
		t.Fatalf("unexpected result %q", got.Result)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestTasks_TerminalStateIsImmutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ClaimNextPendingTask(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CompleteTask(ctx, task.ID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := s.FailTask(ctx, task.ID, "too late"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition failing a COMPLETED task, got %v", err)
	}
	if err := s.CompleteTask(ctx, task.ID, "again"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition completing twice, got %v", err)
	}

	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != "done" {
		t.Fatalf("terminal task was mutated: %q", got.Result)
	}
}

func TestTasks_FailFromPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.FailTask(ctx, task.ID, "enqueue: queue closed"); err != nil {
		t.Fatalf("fail from pending: %v", err)
	}
	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.TaskStatusFailed || got.Error != "enqueue: queue closed" {
		t.Fatalf("expected FAILED with captured error, got %s %q", got.Status, got.Error)
	}
}

func TestTasks_FailPendingRefusesClaimedTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ClaimNextPendingTask(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The task is running on a worker; the pending-only fail must lose the
	// race instead of killing it.
	if err := s.FailPendingTask(ctx, task.ID, "enqueue: queue closed"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for claimed task, got %v", err)
	}
	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.TaskStatusRunning {
		t.Fatalf("claimed task should stay RUNNING, got %s", got.Status)
	}
	// The worker can still finish normally.
	if err := s.CompleteTask(ctx, task.ID, "ok"); err != nil {
		t.Fatalf("complete after refused fail: %v", err)
	}
}

func TestTasks_FailPendingTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.FailPendingTask(ctx, task.ID, "enqueue: queue closed"); err != nil {
		t.Fatalf("fail pending: %v", err)
	}
	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
}

func TestTasks_CompleteFromPendingRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CompleteTask(ctx, task.ID, "skipped running"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for PENDING→COMPLETED, got %v", err)
	}
}

func TestTasks_ReadsAreOwnerScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another owner's read must look like a missing task, not a permission
	// error.
	if _, err := s.GetTask(ctx, "u2", task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for cross-owner read, got %v", err)
	}

	listed, err := s.ListTasks(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty list for other owner, got %d", len(listed))
	}
}

func TestTasks_ClaimReturnsNilWhenEmpty(t *testing.T) {
	s := openTestStore(t)

	task, err := s.ClaimNextPendingTask(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil claim on empty queue, got %+v", task)
	}
}

func TestTasks_ClaimIsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTask(ctx, "u1", "message.process", "1")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := s.CreateTask(ctx, "u1", "message.process", "2"); err != nil {
		t.Fatalf("create second: %v", err)
	}

	claimed, err := s.ClaimNextPendingTask(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest task %s first, got %s", first.ID, claimed.ID)
	}
}

func TestTasks_EventTrailRecordsTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "message.process", "{}")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ClaimNextPendingTask(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CompleteTask(ctx, task.ID, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events, err := s.ListTaskEvents(ctx, task.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events (created, running, completed), got %d", len(events))
	}
	if events[len(events)-1].StateTo != store.TaskStatusCompleted {
		t.Fatalf("expected final event COMPLETED, got %s", events[len(events)-1].StateTo)
	}
}
