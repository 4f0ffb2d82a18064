package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/shared"
	"github.com/inkwell-app/inkwell/internal/store"
	"github.com/inkwell-app/inkwell/internal/telemetry"
	"github.com/inkwell-app/inkwell/internal/workflow"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	WorkerCount  int
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// Pool claims PENDING tasks and executes them through the workflow registry.
// Workers wake on queue signals but also poll: a lost wake only delays a task
// until the next tick.
type Pool struct {
	store    *store.Store
	registry *workflow.Registry
	queue    queue.Queue
	bus      *bus.Bus
	notifier notify.Notifier
	log      *slog.Logger
	cfg      PoolConfig

	tracer  trace.Tracer
	metrics *telemetry.Metrics

	once sync.Once
	wg   sync.WaitGroup
}

// NewPool builds a Pool. tracer and metrics may be nil when telemetry is off.
func NewPool(s *store.Store, reg *workflow.Registry, q queue.Queue, b *bus.Bus, n notify.Notifier, log *slog.Logger, cfg PoolConfig, tracer trace.Tracer, metrics *telemetry.Metrics) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	return &Pool{
		store:    s,
		registry: reg,
		queue:    q,
		bus:      b,
		notifier: n,
		log:      log,
		cfg:      cfg,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.cfg.WorkerCount; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.worker(ctx)
			}()
		}
		p.log.Info("worker pool started", "workers", p.cfg.WorkerCount)
	})
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		task, err := p.store.ClaimNextPendingTask(ctx)
		if err != nil {
			p.log.Error("claim failed", "error", err)
		}
		if task != nil {
			p.handle(ctx, task)
			// Drain the backlog before sleeping again.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-p.queue.Wake():
			if !ok {
				return
			}
		}
	}
}

// handle runs one claimed task to a terminal state. The task is already
// RUNNING when it arrives here.
func (p *Pool) handle(ctx context.Context, task *store.Task) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	ctx = shared.WithOwnerID(ctx, task.OwnerID)
	ctx = shared.WithTaskID(ctx, task.ID)

	if p.tracer != nil {
		var span trace.Span
		ctx, span = telemetry.StartSpan(ctx, p.tracer, "task.execute",
			telemetry.AttrTaskID.String(task.ID),
			telemetry.AttrTaskType.String(task.Type),
			telemetry.AttrOwnerID.String(task.OwnerID),
		)
		defer span.End()
	}

	p.log.Info("task running",
		"task_id", task.ID,
		"type", task.Type,
		"owner_id", task.OwnerID,
		"trace_id", traceID)
	p.announce(ctx, task, store.TaskStatusPending, store.TaskStatusRunning)

	start := time.Now()
	result := p.execute(ctx, task)
	p.record(ctx, task, result, time.Since(start))
}

func (p *Pool) execute(ctx context.Context, task *store.Task) workflow.Result {
	wf, err := p.registry.Resolve(task.Type)
	if err != nil {
		return workflow.Failed(fmt.Sprintf("no workflow for type %q", task.Type))
	}

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	result, err := wf.Execute(taskCtx, task)
	if err != nil {
		return workflow.Failed(err.Error())
	}
	if result.Status != workflow.StatusCompleted && result.Status != workflow.StatusFailed {
		return workflow.Failed(fmt.Sprintf("workflow returned non-terminal status %q", result.Status))
	}
	return result
}

// record writes the terminal state. Terminal writes use a background context:
// a cancelled task context must not leave the row RUNNING forever.
func (p *Pool) record(ctx context.Context, task *store.Task, result workflow.Result, took time.Duration) {
	writeCtx := context.WithoutCancel(ctx)
	span := trace.SpanFromContext(ctx)

	switch result.Status {
	case workflow.StatusCompleted:
		if err := p.store.CompleteTask(writeCtx, task.ID, result.Output); err != nil {
			p.log.Error("complete task failed", "task_id", task.ID, "error", err)
			return
		}
		p.log.Info("task completed",
			"task_id", task.ID,
			"type", task.Type,
			"took", took.Round(time.Millisecond),
			"trace_id", shared.TraceID(ctx))
		p.announce(ctx, task, store.TaskStatusRunning, store.TaskStatusCompleted)
		p.bus.Publish(bus.TopicTaskCompleted, map[string]any{"task_id": task.ID, "owner_id": task.OwnerID})
		if p.metrics != nil {
			p.metrics.TasksCompleted.Add(writeCtx, 1, metric.WithAttributes(attribute.String("type", task.Type)))
		}
	default:
		if err := p.store.FailTask(writeCtx, task.ID, result.ErrorMessage); err != nil {
			p.log.Error("fail task failed", "task_id", task.ID, "error", err)
			return
		}
		p.log.Warn("task failed",
			"task_id", task.ID,
			"type", task.Type,
			"error", result.ErrorMessage,
			"trace_id", shared.TraceID(ctx))
		p.announce(ctx, task, store.TaskStatusRunning, store.TaskStatusFailed)
		p.bus.Publish(bus.TopicTaskFailed, map[string]any{"task_id": task.ID, "owner_id": task.OwnerID, "error": result.ErrorMessage})
		span.SetStatus(codes.Error, result.ErrorMessage)
		if p.metrics != nil {
			p.metrics.TasksFailed.Add(writeCtx, 1, metric.WithAttributes(attribute.String("type", task.Type)))
		}
	}
	if p.metrics != nil {
		p.metrics.TaskDuration.Record(writeCtx, took.Seconds(), metric.WithAttributes(attribute.String("type", task.Type)))
	}
}

func (p *Pool) announce(ctx context.Context, task *store.Task, from, to store.TaskStatus) {
	p.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		OldStatus: string(from),
		NewStatus: string(to),
	})
	p.notifier.Notify(ctx, task.OwnerID, notify.EventTaskState, map[string]any{
		"task_id": task.ID,
		"type":    task.Type,
		"status":  string(to),
	})
}
