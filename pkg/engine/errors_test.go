package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineErrorFormatting(t *testing.T) {
	err := NewFetchFailure("download failed", errors.New("connection refused")).
		WithResource("http://repo/manifests/site_default").
		WithOperation("fetch")

	msg := err.Error()
	for _, want := range []string{"[fetch_failure]", "download failed", "resource=http://repo/manifests/site_default", "operation=fetch", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestEngineErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		check       func(error) bool
		recoverable bool
	}{
		{"fetch", NewFetchFailure("x", nil), IsFetchFailure, true},
		{"not found", NewNotFound("x", nil), IsNotFound, true},
		{"busy", NewResourceBusy("x", nil), IsResourceBusy, true},
		{"operation", NewResourceOperationFailure("x", nil), IsResourceOperation, true},
		{"persistence", NewPersistenceFailure("x", nil), IsPersistence, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("classification lost through wrapping")
			}
			if IsRecoverable(wrapped) != tt.recoverable {
				t.Errorf("expected recoverable=%v", tt.recoverable)
			}
		})
	}

	if IsNotFound(errors.New("plain")) {
		t.Error("plain error should not be classified")
	}
}

func TestEngineErrorIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewNotFound("manifest missing", nil))
	if !errors.Is(err, &EngineError{Class: ErrorClassNotFound, Code: ErrCodeNotFound}) {
		t.Error("errors.Is should match on class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassFetchFailure, Code: ErrCodeFetchFailed}) {
		t.Error("errors.Is should not match a different class")
	}
}

func TestRunInfoMarkSeen(t *testing.T) {
	run := NewRunInfo()
	if !run.MarkSeen("hp1") {
		t.Fatal("first visit should be new")
	}
	if run.MarkSeen("hp1") {
		t.Error("second visit should be reported as duplicate")
	}
	if !run.Seen("hp1") || run.Seen("hp2") {
		t.Error("unexpected Seen result")
	}
	if run.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", run.Len())
	}
}

func TestRunSummaryCounts(t *testing.T) {
	s := &RunSummary{}
	s.Add(ItemResult{ID: "a", Outcome: OutcomeInstalled})
	s.Add(ItemResult{ID: "b", Outcome: OutcomeSatisfied})
	s.Add(ItemResult{ID: "c", Outcome: OutcomeRemoved})
	s.Add(ItemResult{ID: "d", Outcome: OutcomeDeferred})

	if got := s.Count(OutcomeSatisfied); got != 1 {
		t.Errorf("expected 1 satisfied, got %d", got)
	}
	if got := s.Mutations(); got != 2 {
		t.Errorf("expected 2 mutations, got %d", got)
	}
}

func TestRunSummaryStatus(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     string
	}{
		{"empty", nil, RunStatusSucceeded},
		{"all good", []Outcome{OutcomeInstalled, OutcomeSatisfied, OutcomeSkipped}, RunStatusSucceeded},
		{"deferred", []Outcome{OutcomeInstalled, OutcomeDeferred}, RunStatusPartial},
		{"some failed", []Outcome{OutcomeFailed, OutcomeRemoved}, RunStatusPartial},
		{"all failed", []Outcome{OutcomeFailed, OutcomeSkipped, OutcomeFailed}, RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &RunSummary{}
			for i, o := range tt.outcomes {
				s.Add(ItemResult{ID: string(rune('a' + i)), Outcome: o})
			}
			if got := s.Status(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
