package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an agent task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Transitions are monotonic: a terminal task is never mutated again.
// Retries create new task records instead of resurrecting old ones.
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusRunning: {},
		TaskStatusFailed:  {}, // Enqueue failure at creation time.
	},
	TaskStatusRunning: {
		TaskStatusCompleted: {},
		TaskStatusFailed:    {},
	},
}

// ErrTaskNotFound is returned for unknown task ids and for reads scoped to a
// different owner. Cross-owner reads deliberately look identical to missing
// tasks so task ids don't leak existence.
var ErrTaskNotFound = errors.New("task not found")

// Task is a durable record of one asynchronous unit of work.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Type        string     `json:"type"`
	Status      TaskStatus `json:"status"`
	Payload     string     `json:"payload"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskEvent is one row of the task transition trail.
type TaskEvent struct {
	EventID   int64      `json:"event_id"`
	TaskID    string     `json:"task_id"`
	OwnerID   string     `json:"owner_id"`
	StateFrom TaskStatus `json:"state_from,omitempty"`
	StateTo   TaskStatus `json:"state_to"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateTask persists a new PENDING task and returns it.
func (s *Store) CreateTask(ctx context.Context, ownerID, taskType, payload string) (*Task, error) {
	task := &Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Type:      taskType,
		Status:    TaskStatusPending,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, owner_id, type, status, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, task.ID, ownerID, taskType, TaskStatusPending, payload, task.CreatedAt); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := appendTaskEventTx(ctx, tx, task.ID, ownerID, "", TaskStatusPending, "created"); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns the task with the given id, scoped to ownerID.
func (s *Store) GetTask(ctx context.Context, ownerID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, type, status, payload, COALESCE(result, ''), COALESCE(error, ''), created_at, completed_at
		FROM tasks
		WHERE id = ? AND owner_id = ?;
	`, taskID, ownerID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns the owner's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, ownerID string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, status, payload, COALESCE(result, ''), COALESCE(error, ''), created_at, completed_at
		FROM tasks
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?;
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// ClaimNextPendingTask atomically transitions the oldest PENDING task to
// RUNNING and returns it. Returns nil when the queue is empty.
func (s *Store) ClaimNextPendingTask(ctx context.Context) (*Task, error) {
	var result *Task
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id, owner_id, type, status, payload, COALESCE(result, ''), COALESCE(error, ''), created_at, completed_at
			FROM tasks
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1;
		`, TaskStatusPending)
		task, scanErr := scanTask(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				result = nil
				return nil
			}
			return fmt.Errorf("select pending task: %w", scanErr)
		}

		ok, err := transitionTaskTx(ctx, tx, task.ID, []TaskStatus{TaskStatusPending}, TaskStatusRunning, "claimed", nil, nil)
		if err != nil {
			return err
		}
		if !ok {
			// Another worker claimed it between SELECT and UPDATE.
			result = nil
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		task.Status = TaskStatusRunning
		result = task
		return nil
	})
	return result, err
}

// CompleteTask transitions a RUNNING task to COMPLETED with its result.
func (s *Store) CompleteTask(ctx context.Context, taskID, result string) error {
	return s.finishTask(ctx, taskID, nil, TaskStatusCompleted, &result, nil)
}

// FailTask transitions a task to FAILED with the captured error message.
// Valid from PENDING (enqueue failure) and RUNNING (execution failure).
func (s *Store) FailTask(ctx context.Context, taskID, errMsg string) error {
	return s.finishTask(ctx, taskID, nil, TaskStatusFailed, nil, &errMsg)
}

// FailPendingTask fails a task only while it is still PENDING. If a worker
// has already claimed it the call reports ErrInvalidTransition and leaves the
// running task alone.
func (s *Store) FailPendingTask(ctx context.Context, taskID, errMsg string) error {
	return s.finishTask(ctx, taskID, []TaskStatus{TaskStatusPending}, TaskStatusFailed, nil, &errMsg)
}

func (s *Store) finishTask(ctx context.Context, taskID string, from []TaskStatus, to TaskStatus, result, errMsg *string) error {
	if from == nil {
		for src, dsts := range allowedTransitions {
			if _, ok := dsts[to]; ok {
				from = append(from, src)
			}
		}
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin finish task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		ok, err := transitionTaskTx(ctx, tx, taskID, from, to, "finished", result, errMsg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s: %w", taskID, ErrInvalidTransition)
		}
		return tx.Commit()
	})
}

// ErrInvalidTransition is returned when a status update would violate the
// monotonic state machine (including any write to a terminal task).
var ErrInvalidTransition = errors.New("invalid task transition")

// transitionTaskTx moves a task to the target status if its current status is
// one of the allowed source statuses. Reports false without error when the
// guard fails, letting callers distinguish lost races from storage errors.
func transitionTaskTx(ctx context.Context, tx *sql.Tx, taskID string, from []TaskStatus, to TaskStatus, detail string, result, errMsg *string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no transition into %s: %w", to, ErrInvalidTransition)
	}

	var ownerID string
	var current TaskStatus
	placeholders := "?"
	args := []any{taskID, from[0]}
	for _, src := range from[1:] {
		placeholders += ", ?"
		args = append(args, src)
	}
	err := tx.QueryRowContext(ctx, `
		SELECT owner_id, status FROM tasks
		WHERE id = ? AND status IN (`+placeholders+`);
	`, args...).Scan(&ownerID, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read task for transition: %w", err)
	}

	var completedAt any
	if to == TaskStatusCompleted || to == TaskStatusFailed {
		completedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?,
			result = COALESCE(?, result),
			error = COALESCE(?, error),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?;
	`, to, result, errMsg, completedAt, taskID, current)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if n != 1 {
		return false, nil
	}
	if err := appendTaskEventTx(ctx, tx, taskID, ownerID, current, to, detail); err != nil {
		return false, err
	}
	return true, nil
}

func appendTaskEventTx(ctx context.Context, tx *sql.Tx, taskID, ownerID string, from, to TaskStatus, detail string) error {
	var stateFrom any
	if from != "" {
		stateFrom = string(from)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, owner_id, state_from, state_to, detail)
		VALUES (?, ?, ?, ?, ?);
	`, taskID, ownerID, stateFrom, to, detail); err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// ListTaskEvents returns the transition trail for a task, oldest first.
func (s *Store) ListTaskEvents(ctx context.Context, taskID string) ([]TaskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, task_id, owner_id, state_from, state_to, detail, created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY event_id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var out []TaskEvent
	for rows.Next() {
		var (
			event     TaskEvent
			stateFrom sql.NullString
		)
		if err := rows.Scan(&event.EventID, &event.TaskID, &event.OwnerID, &stateFrom, &event.StateTo, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if stateFrom.Valid {
			event.StateFrom = TaskStatus(stateFrom.String)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task event rows: %w", err)
	}
	return out, nil
}

// PendingTaskCount returns how many tasks are waiting for a worker.
func (s *Store) PendingTaskCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tasks WHERE status = ?;
	`, TaskStatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending task count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var completedAt sql.NullTime
	if err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Type,
		&task.Status,
		&task.Payload,
		&task.Result,
		&task.Error,
		&task.CreatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	task.CompletedAt = scanNullTime(completedAt)
	return &task, nil
}
