package policy

import (
	"strings"
	"time"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/printers"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the install.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string   `json:"policy"`
	Printer  string   `json:"printer"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating every enabled policy for one printer.
type Decision struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and evaluation failures.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Reason joins the messages of the blocking violations.
func (d *Decision) Reason() string {
	msgs := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, v.Policy+": "+v.Message)
	}
	return strings.Join(msgs, "; ")
}

// PrinterInput is the printer as seen by Rego policies (input.printer).
type PrinterInput struct {
	Name        string            `json:"name"`
	Model       string            `json:"model"`
	DeviceURI   string            `json:"device_uri"`
	Location    string            `json:"location"`
	Description string            `json:"description"`
	PPDURL      string            `json:"ppd_url"`
	Driver      bool              `json:"driver"`
	LastUpdate  int64             `json:"last_update"`
	Options     map[string]string `json:"options,omitempty"`
}

// Input represents the input document for policy evaluation.
type Input struct {
	Printer   PrinterInput   `json:"printer"`
	Scope     engine.Scope   `json:"scope"`
	Facts     map[string]any `json:"facts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewInput builds the input for a printer descriptor.
func NewInput(d *printers.Descriptor, scope engine.Scope, facts map[string]any) *Input {
	return &Input{
		Printer: PrinterInput{
			Name:        d.Name,
			Model:       d.Model,
			DeviceURI:   d.DeviceURI,
			Location:    d.Location,
			Description: d.Description,
			PPDURL:      d.PPDURL,
			Driver:      d.IsDriverReference(),
			LastUpdate:  d.LastUpdate,
			Options:     d.PPDOptions,
		},
		Scope:     scope,
		Facts:     facts,
		Timestamp: time.Now().UTC(),
	}
}
