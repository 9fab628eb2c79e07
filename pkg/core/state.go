package core

import "time"

// RunStore records validation runs.
type RunStore interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(project, ref string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, result *ValidationResult) error
	FailRun(id string, errMsg string) error
	ListRuns(limit int) ([]*Run, error)

	// Result operations
	GetTestResults(runID string) ([]TestResult, error)
	GetRunErrors(runID string) ([]SQLError, error)
}

// RunStatus represents the status of a validation run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
	RunStatusErrored RunStatus = "errored"
)

// Run represents one recorded validation run.
type Run struct {
	ID          string
	Project     string
	Ref         string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Passed      int
	Failed      int
	Skipped     int
	Error       string
}

// Duration returns the run's wall time, zero while it is still running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
