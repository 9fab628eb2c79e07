package core

import "sort"

// SQLError is a failure attributed to an explore or to one of its dimensions.
type SQLError struct {
	Model     string `json:"model"`
	Explore   string `json:"explore"`
	Dimension string `json:"dimension,omitempty"`
	Message   string `json:"message"`
	SQL       string `json:"sql,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// TestStatus is the outcome of one explore.
type TestStatus string

// Test status constants.
const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
)

// TestResult is the per-explore outcome.
type TestResult struct {
	Model      string     `json:"model"`
	Explore    string     `json:"explore"`
	Status     TestStatus `json:"status"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
}

// ValidationResult is the overall outcome of a validator run.
type ValidationResult struct {
	Validator string             `json:"validator"`
	Status    TestStatus         `json:"status"`
	Tested    []TestResult       `json:"tested"`
	Errors    []SQLError         `json:"errors"`
	Successes []Success          `json:"successes,omitempty"`
	Timing    map[string]float64 `json:"timing,omitempty"`
}

// NewValidationResult returns an empty passing result for the named validator.
func NewValidationResult(validator string) *ValidationResult {
	return &ValidationResult{
		Validator: validator,
		Status:    StatusPassed,
		Tested:    []TestResult{},
		Errors:    []SQLError{},
		Timing:    map[string]float64{},
	}
}

// AddTest records an explore outcome. A failed explore fails the run.
func (r *ValidationResult) AddTest(t TestResult) {
	r.Tested = append(r.Tested, t)
	if t.Status == StatusFailed {
		r.Status = StatusFailed
	}
}

// AddErrors rolls errors into the result and fails the run.
func (r *ValidationResult) AddErrors(errs ...SQLError) {
	if len(errs) == 0 {
		return
	}
	r.Errors = append(r.Errors, errs...)
	r.Status = StatusFailed
}

// Counts returns the number of passed, failed and skipped explores.
func (r *ValidationResult) Counts() (passed, failed, skipped int) {
	for _, t := range r.Tested {
		switch t.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}

// SortErrors orders errors by model, explore and dimension.
func (r *ValidationResult) SortErrors() {
	sort.SliceStable(r.Errors, func(i, j int) bool {
		a, b := r.Errors[i], r.Errors[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Explore != b.Explore {
			return a.Explore < b.Explore
		}
		return a.Dimension < b.Dimension
	})
}
