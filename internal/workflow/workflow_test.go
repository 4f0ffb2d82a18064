package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/inkwell-app/inkwell/internal/store"
	"github.com/inkwell-app/inkwell/internal/workflow"
)

type stub struct {
	typ string
}

func (s stub) Type() string { return s.typ }

func (s stub) Execute(context.Context, *store.Task) (workflow.Result, error) {
	return workflow.Completed("ok"), nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := workflow.NewRegistry()
	if err := r.Register(stub{typ: "message.process"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	w, err := r.Resolve("message.process")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if w.Type() != "message.process" {
		t.Fatalf("resolved wrong workflow %q", w.Type())
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := workflow.NewRegistry()
	if err := r.Register(stub{typ: "message.process"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stub{typ: "message.process"}); !errors.Is(err, workflow.ErrDuplicateWorkflow) {
		t.Fatalf("expected ErrDuplicateWorkflow, got %v", err)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := workflow.NewRegistry()
	if _, err := r.Resolve("nope"); !errors.Is(err, workflow.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestRegistry_EmptyTypeRejected(t *testing.T) {
	r := workflow.NewRegistry()
	if err := r.Register(stub{typ: ""}); err == nil {
		t.Fatal("expected error for empty type")
	}
}
