package looker

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Model is a LookML model and the explores it exposes.
type Model struct {
	Name        string         `json:"name"`
	ProjectName string         `json:"project_name"`
	Explores    []ModelExplore `json:"explores"`
}

// ModelExplore is an explore reference inside a model listing.
type ModelExplore struct {
	Name   string `json:"name"`
	Hidden bool   `json:"hidden"`
}

// DimensionField is a dimension as returned by the explore metadata endpoint.
type DimensionField struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	SQL        string   `json:"sql"`
	Hidden     bool     `json:"hidden"`
	LookMLLink string   `json:"lookml_link"`
}

// GitBranch is a branch of a project repository.
type GitBranch struct {
	Name     string `json:"name"`
	Ref      string `json:"ref"`
	Personal bool   `json:"personal"`
	Readonly bool   `json:"readonly"`
}

// CreatedQuery identifies a saved query.
type CreatedQuery struct {
	ID       string `json:"id"`
	ShareURL string `json:"share_url"`
}

// TaskStatus is the state of an asynchronous query task.
type TaskStatus string

// Task statuses reported by the multi-results endpoint.
const (
	TaskComplete TaskStatus = "complete"
	TaskError    TaskStatus = "error"
	TaskRunning  TaskStatus = "running"
	TaskAdded    TaskStatus = "added"
	TaskExpired  TaskStatus = "expired"
	TaskKilled   TaskStatus = "killed"
)

// Terminal reports whether no further polling can change the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskError || s == TaskKilled
}

// TaskResult is one entry of a multi-results response.
type TaskResult struct {
	Status TaskStatus `json:"status"`
	Data   TaskData   `json:"data"`
}

// TaskData is the json_detail payload of a task.
type TaskData struct {
	Runtime *FlexFloat        `json:"runtime"`
	SQL     string            `json:"sql"`
	Error   json.RawMessage   `json:"error"`
	Errors  []TaskErrorDetail `json:"errors"`
}

// TaskErrorDetail is one entry of a failed task's error list.
type TaskErrorDetail struct {
	Message        string `json:"message"`
	MessageDetails string `json:"message_details"`
}

// Runtime returns the task runtime in seconds, if reported.
func (r TaskResult) Runtime() (float64, bool) {
	if r.Data.Runtime == nil {
		return 0, false
	}
	return float64(*r.Data.Runtime), true
}

// ErrorMessage extracts a readable message from a failed task: the
// message_details (else message) of each listed error joined with "; ",
// falling back to the payload's error string.
func (r TaskResult) ErrorMessage() string {
	var parts []string
	for _, e := range r.Data.Errors {
		switch {
		case e.MessageDetails != "":
			parts = append(parts, e.MessageDetails)
		case e.Message != "":
			parts = append(parts, e.Message)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	if msg := r.rawError(); msg != "" {
		return msg
	}
	return "unknown error"
}

// IsAuthError reports an error payload caused by an expired session.
func (r TaskResult) IsAuthError() bool {
	if r.Status != TaskError {
		return false
	}
	if isAuthMessage(r.rawError()) {
		return true
	}
	for _, e := range r.Data.Errors {
		if isAuthMessage(e.Message) || isAuthMessage(e.MessageDetails) {
			return true
		}
	}
	return false
}

func (r TaskResult) rawError() string {
	raw := bytes.TrimSpace(r.Data.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// FlexFloat is a number the API may encode as a JSON number or a numeric string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}
