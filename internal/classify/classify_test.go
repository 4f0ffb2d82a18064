package classify

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultResult_JournalingWithToday(t *testing.T) {
	now := time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC)

	r := DefaultResult(now, "")
	if len(r.Intents) != 1 {
		t.Fatalf("expected one intent, got %d", len(r.Intents))
	}
	if r.Intents[0].Kind != KindJournaling {
		t.Fatalf("expected JOURNALING, got %s", r.Intents[0].Kind)
	}
	if r.Intents[0].Entities["date"] != "2026-08-31" {
		t.Fatalf("expected today's date, got %q", r.Intents[0].Entities["date"])
	}
	if r.Summary != "Saved as daily entry" {
		t.Fatalf("unexpected summary %q", r.Summary)
	}
}

func TestDefaultResult_RespectsTimezone(t *testing.T) {
	// 23:30 UTC on the 31st is already Sep 1 in Tokyo.
	now := time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC)
	r := DefaultResult(now, "Asia/Tokyo")
	if r.Intents[0].Entities["date"] != "2026-09-01" {
		t.Fatalf("expected local date 2026-09-01, got %q", r.Intents[0].Entities["date"])
	}
}

func TestDefaultResult_BadTimezoneFallsBackToUTC(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	r := DefaultResult(now, "Not/AZone")
	if r.Intents[0].Entities["date"] != "2026-08-31" {
		t.Fatalf("expected UTC date, got %q", r.Intents[0].Entities["date"])
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced block", "Here you go:\n```json\n{\"a\":1}\n```\n", `{"a":1}`},
		{"surrounded by prose", `Sure! {"a":1} Hope that helps.`, `{"a":1}`},
		{"no json", "I can't answer that.", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.in); got != tc.want {
				t.Fatalf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestResultValidator_AcceptsWellFormedResult(t *testing.T) {
	v, err := newResultValidator()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	raw := `{"intents":[{"kind":"REMINDER","parsed_entities":{"message":"stretch","when":"2026-09-01T09:00:00Z"}}],"summary":"Reminder set"}`
	got, err := v.validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(got, "REMINDER") {
		t.Fatalf("unexpected validated JSON %q", got)
	}
}

func TestResultValidator_RejectsBadKind(t *testing.T) {
	v, err := newResultValidator()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	raw := `{"intents":[{"kind":"SHOPPING"}],"summary":"nope"}`
	if _, err := v.validate(raw); err == nil {
		t.Fatal("expected schema rejection for unknown kind")
	}
}

func TestResultValidator_RejectsMissingSummary(t *testing.T) {
	v, err := newResultValidator()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := v.validate(`{"intents":[]}`); err == nil {
		t.Fatal("expected schema rejection for missing summary")
	}
}
