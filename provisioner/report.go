package provisioner

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"platformenv/environment"
)

// Step names, in the order Initialize runs them
const (
	StepDatabase  = "database"
	StepCache     = "cache"
	StepVariables = "variables"
	StepTier      = "tier"
	StepMerge     = "merge"
	StepAdmin     = "admin"
)

// Outcome of a single provisioning step
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets reports render outcomes by name in JSON
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// StepResult is what one step did. Err is set only for OutcomeFailed.
type StepResult struct {
	Step    string  `json:"step"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
	Err     error   `json:"-"`
}

// Report describes one Initialize call
type Report struct {
	Hosting   HostingContext   `json:"-"`
	Enabled   bool             `json:"enabled"`
	Tier      environment.Tier `json:"tier,omitempty"`
	Merged    []string         `json:"merged,omitempty"`
	Steps     []StepResult     `json:"steps"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

func (r *Report) add(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// Step returns the result of the named step
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Failed returns the failed steps
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			out = append(out, s)
		}
	}
	return out
}

// Err aggregates step failures, or returns nil when every step succeeded or was skipped
func (r *Report) Err() error {
	var result *multierror.Error
	for _, s := range r.Failed() {
		result = multierror.Append(result, s.Err)
	}
	return result.ErrorOrNil()
}

// skipError marks a step as not applicable rather than failed
type skipError struct {
	reason string
}

func (e skipError) Error() string { return "skipped: " + e.reason }

func errSkip(reason string) error {
	return skipError{reason: reason}
}

func skipped(step, reason string) StepResult {
	return StepResult{Step: step, Outcome: OutcomeSkipped, Detail: reason}
}
