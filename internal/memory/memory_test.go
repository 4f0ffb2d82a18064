package memory_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/inkwell-app/inkwell/internal/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTier is an in-memory Tier with switchable failure modes.
type fakeTier struct {
	mu        sync.Mutex
	msgs      map[string][]memory.Message
	max       int
	failAll   bool
	failRead  bool
	appendCap int // when > 0, appends beyond this many fail
	appended  int
}

func newFakeTier(max int) *fakeTier {
	return &fakeTier{msgs: make(map[string][]memory.Message), max: max}
}

func (f *fakeTier) Append(_ context.Context, ownerID string, msg memory.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("tier down")
	}
	if f.appendCap > 0 && f.appended >= f.appendCap {
		return errors.New("tier down")
	}
	f.appended++
	f.msgs[ownerID] = append(f.msgs[ownerID], msg)
	if len(f.msgs[ownerID]) > f.max {
		f.msgs[ownerID] = f.msgs[ownerID][len(f.msgs[ownerID])-f.max:]
	}
	return nil
}

func (f *fakeTier) Recent(_ context.Context, ownerID string, limit int) ([]memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failRead {
		return nil, errors.New("tier down")
	}
	msgs := f.msgs[ownerID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeTier) Clear(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("tier down")
	}
	delete(f.msgs, ownerID)
	return nil
}

func TestMemory_WindowHoldsNewestForty(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		msg := memory.Message{Role: "user", Content: fmt.Sprintf("msg-%02d", i)}
		if err := mem.Append(ctx, "u1", msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got := mem.Recent(ctx, "u1", 40)
	if len(got) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(got))
	}
	if got[0].Content != "msg-05" || got[39].Content != "msg-44" {
		t.Fatalf("wrong window: first=%q last=%q", got[0].Content, got[39].Content)
	}
}

func TestMemory_FastTierFailureFallsThroughToDurable(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	misses := 0
	mem := memory.New(durable, 40, discardLogger(),
		memory.WithFastTier(fast),
		memory.WithMissCounter(func(context.Context) { misses++ }))
	ctx := context.Background()

	if err := mem.Append(ctx, "u1", memory.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	fast.failRead = true
	got := mem.Recent(ctx, "u1", 40)
	if len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("expected durable content on fast failure, got %v", got)
	}
	if misses != 1 {
		t.Fatalf("expected 1 recorded miss, got %d", misses)
	}
}

func TestMemory_FastWriteFailureDoesNotBlockAppend(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	fast.failAll = true
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	if err := mem.Append(ctx, "u1", memory.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append should survive fast tier outage: %v", err)
	}
	got := mem.Recent(ctx, "u1", 40)
	if len(got) != 1 {
		t.Fatalf("expected durable copy, got %d messages", len(got))
	}
}

func TestMemory_DoubleFailureDegradesToEmpty(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	if err := mem.Append(ctx, "u1", memory.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	fast.failAll = true
	durable.failAll = true

	got := mem.Recent(ctx, "u1", 40)
	if len(got) != 0 {
		t.Fatalf("expected empty history when both tiers fail, got %d", len(got))
	}
}

func TestMemory_RefillAfterFastMiss(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	// Write directly to durable, simulating a cold cache.
	if err := durable.Append(ctx, "u1", memory.Message{Role: "user", Content: "cold"}); err != nil {
		t.Fatalf("seed durable: %v", err)
	}

	if got := mem.Recent(ctx, "u1", 40); len(got) != 1 {
		t.Fatalf("expected durable read on miss, got %d", len(got))
	}
	// The fast tier should now answer by itself.
	cached, err := fast.Recent(ctx, "u1", 40)
	if err != nil {
		t.Fatalf("fast read: %v", err)
	}
	if len(cached) != 1 || cached[0].Content != "cold" {
		t.Fatalf("expected refilled fast tier, got %v", cached)
	}
}

func TestMemory_FastReadErrorDoesNotDuplicateOnRecovery(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		msg := memory.Message{Role: "user", Content: fmt.Sprintf("m%d", i)}
		if err := mem.Append(ctx, "u1", msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Transient fast-tier outage: durable answers, but the cache still holds
	// the same three messages and must not be refilled on top of them.
	fast.failRead = true
	if got := mem.Recent(ctx, "u1", 40); len(got) != 3 {
		t.Fatalf("expected 3 messages from durable during outage, got %d", len(got))
	}
	fast.failRead = false

	got := mem.Recent(ctx, "u1", 40)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after recovery, got %d: %v", len(got), contents(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].Content != want {
			t.Fatalf("message %d: got %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestMemory_PartialRefillLeavesNoStaleWindow(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		msg := memory.Message{Role: "user", Content: fmt.Sprintf("m%d", i)}
		if err := durable.Append(ctx, "u1", msg); err != nil {
			t.Fatalf("seed durable %d: %v", i, err)
		}
	}

	// The refill dies after one append; the half-written window must be wiped
	// rather than left to answer as if it were the whole history.
	fast.appendCap = fast.appended + 1
	if got := mem.Recent(ctx, "u1", 40); len(got) != 3 {
		t.Fatalf("expected full durable read, got %d", len(got))
	}
	cached, err := fast.Recent(ctx, "u1", 40)
	if err != nil {
		t.Fatalf("fast read: %v", err)
	}
	if len(cached) != 0 {
		t.Fatalf("expected empty fast tier after partial refill, got %v", contents(cached))
	}
}

func contents(msgs []memory.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestMemory_ClearWipesBothTiers(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	if err := mem.Append(ctx, "u1", memory.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mem.Clear(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := mem.Recent(ctx, "u1", 40); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %d", len(got))
	}
}

func TestMemory_ClearDurableEvenIfFastFails(t *testing.T) {
	durable := newFakeTier(40)
	fast := newFakeTier(40)
	mem := memory.New(durable, 40, discardLogger(), memory.WithFastTier(fast))
	ctx := context.Background()

	if err := mem.Append(ctx, "u1", memory.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	fast.failAll = true

	if err := mem.Clear(ctx, "u1"); err == nil {
		t.Fatal("expected error when fast clear fails")
	}
	if msgs, _ := durable.Recent(ctx, "u1", 40); len(msgs) != 0 {
		t.Fatalf("durable tier should be cleared regardless, got %d", len(msgs))
	}
}
