// Package workflow defines the unit of agent work and the registry that maps
// task types to executors.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/inkwell-app/inkwell/internal/store"
)

// ResultStatus is the terminal outcome of a workflow execution.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "COMPLETED"
	StatusFailed    ResultStatus = "FAILED"
)

// Result is what a workflow reports back to the worker pool. Output is only
// meaningful for completed results, ErrorMessage only for failed ones.
type Result struct {
	Status       ResultStatus
	Output       string
	ErrorMessage string
}

// Completed builds a successful result.
func Completed(output string) Result {
	return Result{Status: StatusCompleted, Output: output}
}

// Failed builds a failed result.
func Failed(msg string) Result {
	return Result{Status: StatusFailed, ErrorMessage: msg}
}

// Workflow executes one kind of agent task.
type Workflow interface {
	// Type is the task type this workflow handles.
	Type() string
	// Execute runs the task to a terminal result. Infrastructure errors are
	// returned as err; domain failures go into a StatusFailed result.
	Execute(ctx context.Context, task *store.Task) (Result, error)
}

var (
	// ErrDuplicateWorkflow is returned when a type is registered twice.
	ErrDuplicateWorkflow = errors.New("workflow type already registered")
	// ErrWorkflowNotFound is returned when resolving an unregistered type.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// Registry maps task types to workflows. Registration happens at startup;
// resolution happens on the worker hot path, so reads take an RLock.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Workflow)}
}

// Register adds a workflow. A second registration for the same type is an
// error: silently replacing an executor would reroute already-queued tasks.
func (r *Registry) Register(w Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := w.Type()
	if t == "" {
		return fmt.Errorf("register workflow: empty type")
	}
	if _, ok := r.workflows[t]; ok {
		return fmt.Errorf("register %q: %w", t, ErrDuplicateWorkflow)
	}
	r.workflows[t] = w
	return nil
}

// Resolve returns the workflow for taskType.
func (r *Registry) Resolve(taskType string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[taskType]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", taskType, ErrWorkflowNotFound)
	}
	return w, nil
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workflows))
	for t := range r.workflows {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
