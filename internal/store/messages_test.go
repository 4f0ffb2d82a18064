package store_test

import (
	"context"
	"fmt"
	"testing"
)

func TestMessages_TrimKeepsNewestForty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		if err := s.AppendMessage(ctx, "u1", "user", fmt.Sprintf("msg-%02d", i), 40); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.RecentMessages(ctx, "u1", 40)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 40 {
		t.Fatalf("expected 40 messages after 45 appends, got %d", len(got))
	}
	// The 5 oldest are evicted; the rest keep their original order.
	if got[0].Content != "msg-05" {
		t.Fatalf("expected oldest survivor msg-05, got %q", got[0].Content)
	}
	if got[39].Content != "msg-44" {
		t.Fatalf("expected newest msg-44, got %q", got[39].Content)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
}

func TestMessages_OwnersAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "u1", "user", "mine", 40); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.RecentMessages(ctx, "u2", 40)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages for other owner, got %d", len(got))
	}
}

func TestMessages_InvalidRoleRejected(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage(context.Background(), "u1", "operator", "x", 40); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestMessages_Clear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "u1", "user", "a", 40); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.ClearMessages(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := s.RecentMessages(ctx, "u1", 40)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(got))
	}
}
