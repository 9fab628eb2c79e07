package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/lookval/internal/looker"
)

// FakeExplore is an explore fixture served by FakeAPI.
type FakeExplore struct {
	Model      string
	Name       string
	Hidden     bool
	Dimensions []looker.DimensionField
}

// FakeAPI is an in-memory stand-in for the Looker API. It serves explore
// fixtures per git ref, simulates asynchronous query tasks and records
// every interaction for assertions.
//
// Behavior knobs are plain fields; set them before the run starts.
type FakeAPI struct {
	mu sync.Mutex

	Project string
	// ReleaseVersion is reported by Version.
	ReleaseVersion string
	// Refs maps a git ref (branch or commit) to the explores visible on it.
	// "production" is used for the production workspace and as a fallback.
	Refs map[string][]FakeExplore
	// Imports maps a project to the local projects it imports.
	Imports map[string][]string
	// PersonalBranches maps a project to the caller's personal branch.
	PersonalBranches map[string]string

	// FailingDimensions makes any task including the dimension fail with the message.
	FailingDimensions map[string]string
	// KilledDimensions makes any task including the dimension report killed.
	KilledDimensions map[string]bool
	// CreateFailures makes query creation fail for queries including the dimension.
	CreateFailures map[string]string
	// DimensionErrors makes ListDimensions fail for "model/explore".
	DimensionErrors map[string]error
	// Runtimes sets a dimension's runtime in seconds; a task reports the max.
	Runtimes map[string]float64

	// StatusSequence is reported for every task before its terminal status.
	StatusSequence []looker.TaskStatus
	// MissingPolls omits each task from its first N poll responses.
	MissingPolls int
	// HangTasks keeps every task running until cancelled.
	HangTasks bool
	// CreateAuthFailures rejects the first N query creations as unauthorized.
	CreateAuthFailures int
	// PollAuthFailures turns the first N terminal results into session-expiry errors.
	PollAuthFailures int
	// PollErrors fails the first N multi-result calls outright.
	PollErrors int
	// FailOps makes the named workspace operation fail ("checkout", "create_branch", ...).
	FailOps map[string]error

	// Instrumentation.
	CreatedQueries  [][]string
	Cancelled       []string
	Authentications int
	Polls           int
	MaxBatch        int
	MaxOutstanding  int
	Calls           []string

	outstanding int
	nextID      int
	queries     map[string]fakeQuery
	tasks       map[string]*fakeTask

	workspace string
	active    map[string]string
	branches  map[string]map[string]string
}

type fakeQuery struct {
	model   string
	explore string
	dims    []string
}

type fakeTask struct {
	query fakeQuery
	polls int
	done  bool
}

// NewFakeAPI returns a fake serving a single project in the production workspace.
func NewFakeAPI(project string) *FakeAPI {
	return &FakeAPI{
		Project:           project,
		ReleaseVersion:    "24.6.0",
		Refs:              map[string][]FakeExplore{},
		Imports:           map[string][]string{},
		PersonalBranches:  map[string]string{},
		FailingDimensions: map[string]string{},
		KilledDimensions:  map[string]bool{},
		CreateFailures:    map[string]string{},
		DimensionErrors:   map[string]error{},
		Runtimes:          map[string]float64{},
		FailOps:           map[string]error{},
		queries:           map[string]fakeQuery{},
		tasks:             map[string]*fakeTask{},
		workspace:         looker.WorkspaceProduction,
		active:            map[string]string{project: "main"},
		branches:          map[string]map[string]string{project: {"main": "main"}},
	}
}

// AddExplore registers an explore on ref with dimensions named "<view>.<name>".
func (f *FakeAPI) AddExplore(ref, model, explore string, dims ...looker.DimensionField) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refs[ref] = append(f.Refs[ref], FakeExplore{Model: model, Name: explore, Dimensions: dims})
}

// Dim builds a dimension fixture with a SQL expression derived from its name.
func Dim(name string) looker.DimensionField {
	return looker.DimensionField{Name: name, Type: "string", SQL: "${TABLE}." + name, LookMLLink: "https://looker.test/projects/p/files/" + name}
}

// Dims builds n dimensions named "<view>.d<i>".
func Dims(view string, n int) []looker.DimensionField {
	out := make([]looker.DimensionField, n)
	for i := range out {
		out[i] = Dim(fmt.Sprintf("%s.d%d", view, i))
	}
	return out
}

// Outstanding returns the number of tasks created but not yet finished.
func (f *FakeAPI) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outstanding
}

// CurrentWorkspace returns the session workspace.
func (f *FakeAPI) CurrentWorkspace() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workspace
}

// CurrentBranch returns the active branch of project.
func (f *FakeAPI) CurrentBranch(project string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[project]
}

// HasBranch reports whether project has branch.
func (f *FakeAPI) HasBranch(project, branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[project][branch]
	return ok
}

// CallLog returns a copy of the recorded workspace operations.
func (f *FakeAPI) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// Authenticate records a credential refresh.
func (f *FakeAPI) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Authentications++
	return nil
}

// Version returns ReleaseVersion.
func (f *FakeAPI) Version(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReleaseVersion, nil
}

// ListModels returns the models visible on the current ref.
func (f *FakeAPI) ListModels(ctx context.Context, project string) ([]looker.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if project != f.Project {
		return nil, nil
	}

	var models []looker.Model
	index := map[string]int{}
	for _, e := range f.exploresLocked() {
		i, ok := index[e.Model]
		if !ok {
			i = len(models)
			index[e.Model] = i
			models = append(models, looker.Model{Name: e.Model, ProjectName: f.Project})
		}
		models[i].Explores = append(models[i].Explores, looker.ModelExplore{Name: e.Name, Hidden: e.Hidden})
	}
	return models, nil
}

// ListDimensions returns an explore's dimensions on the current ref.
func (f *FakeAPI) ListDimensions(ctx context.Context, model, explore string) ([]looker.DimensionField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DimensionErrors[model+"/"+explore]; err != nil {
		return nil, err
	}
	for _, e := range f.exploresLocked() {
		if e.Model == model && e.Name == explore {
			return append([]looker.DimensionField(nil), e.Dimensions...), nil
		}
	}
	return nil, &looker.APIError{Method: http.MethodGet, Path: "lookml_models", Status: http.StatusNotFound, Message: "Not found"}
}

func (f *FakeAPI) exploresLocked() []FakeExplore {
	ref := looker.WorkspaceProduction
	if f.workspace == looker.WorkspaceDev {
		ref = f.branches[f.Project][f.active[f.Project]]
	}
	if explores, ok := f.Refs[ref]; ok {
		return explores
	}
	return f.Refs[looker.WorkspaceProduction]
}

// CreateQuery saves a query.
func (f *FakeAPI) CreateQuery(ctx context.Context, model, explore string, dims []string) (*looker.CreatedQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateAuthFailures > 0 {
		f.CreateAuthFailures--
		return nil, &looker.APIError{Method: http.MethodPost, Path: "queries", Status: http.StatusUnauthorized, Message: "Requires authentication."}
	}
	for _, d := range dims {
		if msg, ok := f.CreateFailures[d]; ok {
			return nil, &looker.APIError{Method: http.MethodPost, Path: "queries", Status: http.StatusUnprocessableEntity, Message: msg}
		}
	}

	f.nextID++
	id := fmt.Sprintf("q%d", f.nextID)
	f.queries[id] = fakeQuery{model: model, explore: explore, dims: append([]string(nil), dims...)}
	f.CreatedQueries = append(f.CreatedQueries, append([]string(nil), dims...))
	return &looker.CreatedQuery{ID: id, ShareURL: "https://looker.test/x/" + id}, nil
}

// CreateQueryTask starts a task for a saved query.
func (f *FakeAPI) CreateQueryTask(ctx context.Context, queryID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[queryID]
	if !ok {
		return "", &looker.APIError{Method: http.MethodPost, Path: "query_tasks", Status: http.StatusNotFound, Message: "query not found"}
	}
	f.nextID++
	id := fmt.Sprintf("t%d", f.nextID)
	f.tasks[id] = &fakeTask{query: q}
	f.outstanding++
	if f.outstanding > f.MaxOutstanding {
		f.MaxOutstanding = f.outstanding
	}
	return id, nil
}

// PollTasks reports task states.
func (f *FakeAPI) PollTasks(ctx context.Context, taskIDs []string) (map[string]looker.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls++
	if len(taskIDs) > f.MaxBatch {
		f.MaxBatch = len(taskIDs)
	}
	if f.PollErrors > 0 {
		f.PollErrors--
		return nil, &looker.APIError{Method: http.MethodGet, Path: "query_tasks/multi_results", Status: http.StatusInternalServerError, Message: "internal error"}
	}

	out := make(map[string]looker.TaskResult, len(taskIDs))
	for _, id := range taskIDs {
		t, ok := f.tasks[id]
		if !ok {
			continue
		}
		step := t.polls
		t.polls++
		if step < f.MissingPolls {
			continue
		}
		step -= f.MissingPolls
		if f.HangTasks && !t.done {
			out[id] = looker.TaskResult{Status: looker.TaskRunning}
			continue
		}
		if step < len(f.StatusSequence) && !t.done {
			out[id] = looker.TaskResult{Status: f.StatusSequence[step]}
			continue
		}
		out[id] = f.terminalLocked(t)
	}
	return out, nil
}

func (f *FakeAPI) terminalLocked(t *fakeTask) looker.TaskResult {
	sql := "SELECT " + strings.Join(t.query.dims, ", ") + " FROM " + t.query.explore + " WHERE 1=2"

	for _, d := range t.query.dims {
		if f.KilledDimensions[d] {
			f.finishLocked(t)
			return looker.TaskResult{Status: looker.TaskKilled, Data: looker.TaskData{SQL: sql}}
		}
	}

	var errs []looker.TaskErrorDetail
	for _, d := range t.query.dims {
		if msg, ok := f.FailingDimensions[d]; ok {
			errs = append(errs, looker.TaskErrorDetail{Message: "Query failed", MessageDetails: msg})
		}
	}
	if len(errs) > 0 {
		if f.PollAuthFailures > 0 && !t.done {
			f.PollAuthFailures--
			return looker.TaskResult{Status: looker.TaskError, Data: looker.TaskData{Error: []byte(`"Must log in required"`)}}
		}
		f.finishLocked(t)
		return looker.TaskResult{Status: looker.TaskError, Data: looker.TaskData{SQL: sql, Errors: errs}}
	}

	if f.PollAuthFailures > 0 && !t.done {
		f.PollAuthFailures--
		return looker.TaskResult{Status: looker.TaskError, Data: looker.TaskData{Error: []byte(`"Must log in required"`)}}
	}
	runtime := 0.01
	for _, d := range t.query.dims {
		if rt, ok := f.Runtimes[d]; ok && rt > runtime {
			runtime = rt
		}
	}
	f.finishLocked(t)
	rt := looker.FlexFloat(runtime)
	return looker.TaskResult{Status: looker.TaskComplete, Data: looker.TaskData{Runtime: &rt, SQL: sql}}
}

func (f *FakeAPI) finishLocked(t *fakeTask) {
	if !t.done {
		t.done = true
		f.outstanding--
	}
}

// CancelTask stops a task.
func (f *FakeAPI) CancelTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, taskID)
	if t, ok := f.tasks[taskID]; ok {
		f.finishLocked(t)
	}
	return nil
}

// CancelledTasks returns the cancelled task ids in sorted order.
func (f *FakeAPI) CancelledTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Cancelled...)
	sort.Strings(out)
	return out
}

// Workspace returns the session workspace.
func (f *FakeAPI) Workspace(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workspace, nil
}

// SetWorkspace switches the session workspace.
func (f *FakeAPI) SetWorkspace(_ context.Context, ws string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.opLocked("set_workspace", ws); err != nil {
		return err
	}
	f.workspace = ws
	return nil
}

// ActiveBranch returns the active branch of project.
func (f *FakeAPI) ActiveBranch(_ context.Context, project string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureProjectLocked(project)
	return f.active[project], nil
}

// Branches lists project branches, flagging the personal one.
func (f *FakeAPI) Branches(_ context.Context, project string) ([]looker.GitBranch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureProjectLocked(project)
	if p := f.PersonalBranches[project]; p != "" {
		if _, ok := f.branches[project][p]; !ok {
			f.branches[project][p] = p
		}
	}
	var out []looker.GitBranch
	for name := range f.branches[project] {
		out = append(out, looker.GitBranch{Name: name, Personal: name == f.PersonalBranches[project]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CheckoutBranch checks out branch, creating the local tracking branch on demand.
func (f *FakeAPI) CheckoutBranch(_ context.Context, project, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.opLocked("checkout", project, branch); err != nil {
		return err
	}
	f.ensureProjectLocked(project)
	if _, ok := f.branches[project][branch]; !ok {
		f.branches[project][branch] = branch
	}
	f.active[project] = branch
	return nil
}

// HardResetBranch points branch at ref.
func (f *FakeAPI) HardResetBranch(_ context.Context, project, branch, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.opLocked("hard_reset", project, branch, ref); err != nil {
		return err
	}
	f.ensureProjectLocked(project)
	f.branches[project][branch] = strings.TrimPrefix(ref, "origin/")
	return nil
}

// CreateBranch creates branch at ref.
func (f *FakeAPI) CreateBranch(_ context.Context, project, branch, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.opLocked("create_branch", project, branch, ref); err != nil {
		return err
	}
	f.ensureProjectLocked(project)
	f.branches[project][branch] = ref
	return nil
}

// DeleteBranch removes branch; the active branch cannot be deleted.
func (f *FakeAPI) DeleteBranch(_ context.Context, project, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.opLocked("delete_branch", project, branch); err != nil {
		return err
	}
	if f.active[project] == branch {
		return &looker.APIError{Method: http.MethodDelete, Path: "git_branch", Status: http.StatusUnprocessableEntity, Message: "cannot delete the active branch"}
	}
	delete(f.branches[project], branch)
	return nil
}

// ResetToRemote records a reset.
func (f *FakeAPI) ResetToRemote(_ context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opLocked("reset_to_remote", project)
}

// ProjectImports returns the local imports of project.
func (f *FakeAPI) ProjectImports(_ context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Imports[project]...), nil
}

// ensureProjectLocked gives a project first seen a "main" branch.
func (f *FakeAPI) ensureProjectLocked(project string) {
	if f.branches[project] == nil {
		f.branches[project] = map[string]string{"main": "main"}
	}
	if f.active[project] == "" {
		f.active[project] = "main"
	}
}

func (f *FakeAPI) opLocked(op string, args ...string) error {
	f.Calls = append(f.Calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	return f.FailOps[op]
}
