// Package persona maintains the synthesized user profile: a debounced
// background trigger that enqueues synthesis tasks, and a synchronous context
// read that never blocks on synthesis.
package persona

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inkwell-app/inkwell/internal/store"
)

// TaskTypeSynthesis is the task type the synthesis workflow registers under.
const TaskTypeSynthesis = "persona.synthesis"

// TaskCreator enqueues background tasks. Satisfied by the engine's task
// service; kept as an interface to break the package cycle and to let tests
// count trigger decisions without a real queue.
type TaskCreator interface {
	Create(ctx context.Context, ownerID, taskType, payload string) (*store.Task, error)
}

// Scheduler decides when persona synthesis actually runs.
type Scheduler struct {
	store             *store.Store
	tasks             TaskCreator
	refreshAfter      time.Duration
	bootstrapMinChars int
	log               *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewScheduler builds a Scheduler.
func NewScheduler(s *store.Store, tasks TaskCreator, refreshAfter time.Duration, bootstrapMinChars int, log *slog.Logger) *Scheduler {
	if refreshAfter <= 0 {
		refreshAfter = 24 * time.Hour
	}
	if bootstrapMinChars <= 0 {
		bootstrapMinChars = 64
	}
	return &Scheduler{
		store:             s,
		tasks:             tasks,
		refreshAfter:      refreshAfter,
		bootstrapMinChars: bootstrapMinChars,
		log:               log,
		inflight:          make(map[string]struct{}),
	}
}

// Trigger enqueues a synthesis task unless the persona is fresh. It returns
// whether a task was created. Debounce rules: synthesize when forced, when
// never synthesized, when older than the refresh window, or when the profile
// is still bootstrap-thin. A per-owner in-flight guard prevents two
// near-simultaneous triggers from enqueueing duplicate tasks.
func (s *Scheduler) Trigger(ctx context.Context, ownerID string, force bool) (bool, error) {
	p, err := s.store.GetPersona(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if !force && !s.stale(p) {
		return false, nil
	}

	s.mu.Lock()
	if _, busy := s.inflight[ownerID]; busy {
		s.mu.Unlock()
		return false, nil
	}
	s.inflight[ownerID] = struct{}{}
	s.mu.Unlock()

	task, err := s.tasks.Create(ctx, ownerID, TaskTypeSynthesis, "")
	if err != nil {
		s.Done(ownerID)
		return false, err
	}
	if task.Status != store.TaskStatusPending && task.Status != store.TaskStatusRunning {
		// The task died at creation (failed enqueue), so the workflow will
		// never run and never release the guard. Release it here or the
		// owner could never synthesize again.
		s.Done(ownerID)
		s.log.Warn("persona synthesis task failed at creation",
			"owner_id", ownerID,
			"task_id", task.ID,
			"error", task.Error)
		return false, nil
	}
	s.log.Info("persona synthesis enqueued", "owner_id", ownerID, "forced", force)
	return true, nil
}

// Done releases the owner's in-flight guard. The synthesis workflow calls
// this when it reaches a terminal state, success or not.
func (s *Scheduler) Done(ownerID string) {
	s.mu.Lock()
	delete(s.inflight, ownerID)
	s.mu.Unlock()
}

// Context returns the owner's persona markdown for prompt injection. It is a
// plain read: if synthesis has never run it returns the placeholder, and it
// never waits for an in-flight synthesis.
func (s *Scheduler) Context(ctx context.Context, ownerID string) (string, error) {
	p, err := s.store.GetPersona(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return p.Markdown, nil
}

func (s *Scheduler) stale(p *store.Persona) bool {
	if p.LastSynthesized == nil {
		return true
	}
	if time.Since(*p.LastSynthesized) > s.refreshAfter {
		return true
	}
	return len(p.Markdown) < s.bootstrapMinChars
}
