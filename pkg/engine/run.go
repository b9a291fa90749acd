package engine

import (
	"fmt"
	"time"
)

// Scope identifies who requested a managed item.
type Scope string

const (
	// ScopeSystem marks items mandated by the client manifest tree.
	ScopeSystem Scope = "system"

	// ScopeUser marks items selected locally by a user. User-scoped items
	// are tracked in the persisted known-resources list.
	ScopeUser Scope = "user"
)

// Validate checks if the scope is valid.
func (s Scope) Validate() error {
	switch s {
	case ScopeSystem, ScopeUser:
		return nil
	default:
		return fmt.Errorf("invalid scope: %s", s)
	}
}

// Action is the direction of a reconciliation.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
)

// Outcome is the result of reconciling a single item.
type Outcome string

const (
	// OutcomeSatisfied indicates the observed state already matched; no mutation was issued.
	OutcomeSatisfied Outcome = "satisfied"

	// OutcomeInstalled indicates the resource was (re)created and stamped.
	OutcomeInstalled Outcome = "installed"

	// OutcomeRemoved indicates the resource was deleted.
	OutcomeRemoved Outcome = "removed"

	// OutcomeAbsent indicates an uninstall found nothing to remove.
	OutcomeAbsent Outcome = "absent"

	// OutcomeDeferred indicates the resource was busy; the item is retried next run.
	OutcomeDeferred Outcome = "deferred"

	// OutcomeSkipped indicates the item was not processed (duplicate, unknown, or denied).
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed indicates an operation failed; the item is retried next run.
	OutcomeFailed Outcome = "failed"
)

// IsMutating returns true if the outcome changed the resource.
func (o Outcome) IsMutating() bool {
	return o == OutcomeInstalled || o == OutcomeRemoved
}

// RunInfo records item identifiers already handled in the current pass.
// It is ephemeral and scoped to one direction of one run.
type RunInfo struct {
	seen map[string]struct{}
}

// NewRunInfo creates an empty RunInfo.
func NewRunInfo() *RunInfo {
	return &RunInfo{seen: make(map[string]struct{})}
}

// MarkSeen records id and reports whether it was newly added.
// A false return means the id was already handled in this pass.
func (r *RunInfo) MarkSeen(id string) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

// Seen reports whether id was already handled.
func (r *RunInfo) Seen(id string) bool {
	_, ok := r.seen[id]
	return ok
}

// Len returns the number of handled ids.
func (r *RunInfo) Len() int {
	return len(r.seen)
}

// ItemResult captures the outcome of one reconciliation.
type ItemResult struct {
	ID       string        `json:"id"`
	Scope    Scope         `json:"scope"`
	Action   Action        `json:"action"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunSummary aggregates the results of one client run.
type RunSummary struct {
	RunID       string       `json:"run_id"`
	Identifier  string       `json:"identifier,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Results     []ItemResult `json:"results"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Add appends a result to the summary.
func (s *RunSummary) Add(result ItemResult) {
	s.Results = append(s.Results, result)
}

// Count returns the number of results with the given outcome.
func (s *RunSummary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Mutations returns the number of results that changed a resource.
func (s *RunSummary) Mutations() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome.IsMutating() {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Run statuses reported by RunSummary.Status.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Status classifies the run: failed when every attempted item failed,
// partial when some items failed or were deferred, succeeded otherwise.
func (s *RunSummary) Status() string {
	failed := s.Count(OutcomeFailed)
	deferred := s.Count(OutcomeDeferred)
	switch {
	case failed > 0 && failed+s.Count(OutcomeSkipped) == len(s.Results):
		return RunStatusFailed
	case failed > 0 || deferred > 0:
		return RunStatusPartial
	default:
		return RunStatusSucceeded
	}
}
