// Package workspace puts Looker projects on the git state a validation run
// needs and restores the previous state afterwards.
//
// Every change made while entering pushes an undo step onto the Handle.
// Exit runs the steps in reverse order, so temporary branches are removed
// before the original workspace and branch are restored. Pinned imported
// projects are entered recursively; a visited set stops import cycles and
// self references.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/leapstack-labs/lookval/internal/looker"
)

// TempBranchPrefix names the branches created for commit refs.
const TempBranchPrefix = "tmp_lookval_"

// ErrNoPersonalBranch is returned when personal-branch mode finds no
// writable personal branch.
var ErrNoPersonalBranch = errors.New("no writable personal branch found")

// API is the subset of the Looker client needed to manage git state.
type API interface {
	Workspace(ctx context.Context) (string, error)
	SetWorkspace(ctx context.Context, workspace string) error
	ActiveBranch(ctx context.Context, project string) (string, error)
	Branches(ctx context.Context, project string) ([]looker.GitBranch, error)
	CheckoutBranch(ctx context.Context, project, branch string) error
	HardResetBranch(ctx context.Context, project, branch, ref string) error
	CreateBranch(ctx context.Context, project, branch, ref string) error
	DeleteBranch(ctx context.Context, project, branch string) error
	ResetToRemote(ctx context.Context, project string) error
	ProjectImports(ctx context.Context, project string) ([]string, error)
}

// Target is the git state to enter. With neither Branch nor Commit set the
// project is validated in production.
type Target struct {
	Project           string
	Branch            string
	Commit            string
	RemoteReset       bool
	UsePersonalBranch bool
	// PinImports maps imported project names to a branch or commit.
	PinImports map[string]string
}

// Validate checks for conflicting options.
func (t Target) Validate() error {
	if t.Project == "" {
		return errors.New("project is required")
	}
	if t.Branch != "" && t.Commit != "" {
		return errors.New("branch and commit are mutually exclusive")
	}
	if t.Commit != "" && t.RemoteReset {
		return errors.New("remote reset cannot be used with a commit ref")
	}
	return nil
}

// Ref describes the state for logs and run history.
func (t Target) Ref() string {
	switch {
	case t.Commit != "":
		return t.Commit
	case t.Branch != "":
		return t.Branch
	default:
		return looker.WorkspaceProduction
	}
}

// ParseRef splits a user supplied ref into a branch or a commit. Full refs
// ("refs/...") and 7 to 40 character hex strings are commits.
func ParseRef(ref string) (branch, commit string) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "refs/") || isCommitHash(ref) {
		return "", ref
	}
	return ref, ""
}

func isCommitHash(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// Manager enters and restores workspace state.
type Manager struct {
	api    API
	logger *slog.Logger
	suffix func() string
}

// New creates a Manager. A nil logger discards output.
func New(api API, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{api: api, logger: logger, suffix: randomSuffix}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

type undoStep struct {
	desc string
	fn   func(ctx context.Context) error
}

// Handle holds the undo steps of an entered workspace.
type Handle struct {
	Target Target
	// Branch is the branch checked out for the project, empty in production.
	Branch string

	logger *slog.Logger
	steps  []undoStep
	exited bool
}

func (h *Handle) push(desc string, fn func(ctx context.Context) error) {
	h.steps = append(h.steps, undoStep{desc: desc, fn: fn})
}

// Exit undoes every change in reverse order. All steps run even when some
// fail; the failures are joined. Exit runs once and ignores cancellation of
// ctx so that state is restored after an interrupt.
func (h *Handle) Exit(ctx context.Context) error {
	if h == nil || h.exited {
		return nil
	}
	h.exited = true
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(h.steps) - 1; i >= 0; i-- {
		step := h.steps[i]
		h.logger.Debug("restoring workspace state", "step", step.desc)
		if err := step.fn(ctx); err != nil {
			h.logger.Warn("failed to restore workspace state", "step", step.desc, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.desc, err))
		}
	}
	h.steps = nil
	return errors.Join(errs...)
}

// Enter puts the target project, and any pinned imports, on the requested
// state. On failure the changes made so far are undone before returning.
func (m *Manager) Enter(ctx context.Context, t Target) (*Handle, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	h := &Handle{Target: t, logger: m.logger}
	visited := map[string]bool{}
	if err := m.enter(ctx, h, t, visited, true); err != nil {
		if xerr := h.Exit(ctx); xerr != nil {
			return nil, errors.Join(err, xerr)
		}
		return nil, err
	}
	return h, nil
}

func (m *Manager) enter(ctx context.Context, h *Handle, t Target, visited map[string]bool, root bool) error {
	visited[t.Project] = true
	m.logger.Debug("entering workspace", "project", t.Project, "ref", t.Ref())

	if err := m.saveState(ctx, h, t.Project); err != nil {
		return err
	}
	if err := m.enterImports(ctx, h, t, visited); err != nil {
		return err
	}

	var branch string
	var err error
	switch {
	case t.Branch != "" && t.UsePersonalBranch:
		branch, err = m.personalBranch(ctx, t)
	case t.Branch != "":
		branch, err = m.checkout(ctx, t)
	case t.Commit != "":
		branch, err = m.tempBranch(ctx, h, t)
	default:
		err = m.api.SetWorkspace(ctx, looker.WorkspaceProduction)
	}
	if err != nil {
		return fmt.Errorf("failed to set up %s at %s: %w", t.Project, t.Ref(), err)
	}
	if root {
		h.Branch = branch
	}
	m.logger.Info("workspace ready", "project", t.Project, "ref", t.Ref(), "branch", branch)
	return nil
}

// saveState records the workspace and active branch and pushes the step
// that brings them back.
func (m *Manager) saveState(ctx context.Context, h *Handle, project string) error {
	ws, err := m.api.Workspace(ctx)
	if err != nil {
		return fmt.Errorf("failed to read workspace: %w", err)
	}
	var branch string
	if ws == looker.WorkspaceDev {
		if branch, err = m.api.ActiveBranch(ctx, project); err != nil {
			return fmt.Errorf("failed to read active branch of %s: %w", project, err)
		}
	}

	h.push(fmt.Sprintf("restore %s to %s", project, describeState(ws, branch)), func(ctx context.Context) error {
		if err := m.api.SetWorkspace(ctx, ws); err != nil {
			return err
		}
		if ws == looker.WorkspaceDev && branch != "" {
			return m.api.CheckoutBranch(ctx, project, branch)
		}
		return nil
	})
	return nil
}

func describeState(ws, branch string) string {
	if branch == "" {
		return ws
	}
	return ws + "/" + branch
}

func (m *Manager) enterImports(ctx context.Context, h *Handle, t Target, visited map[string]bool) error {
	if len(t.PinImports) == 0 {
		return nil
	}
	imports, err := m.api.ProjectImports(ctx, t.Project)
	if err != nil {
		return fmt.Errorf("failed to list imports of %s: %w", t.Project, err)
	}

	for _, name := range imports {
		if visited[name] {
			m.logger.Debug("skipping import already entered", "project", t.Project, "import", name)
			continue
		}
		visited[name] = true
		ref, ok := t.PinImports[name]
		if !ok {
			continue
		}
		branch, commit := ParseRef(ref)
		child := Target{
			Project:           name,
			Branch:            branch,
			Commit:            commit,
			RemoteReset:       t.RemoteReset && commit == "",
			UsePersonalBranch: t.UsePersonalBranch,
			PinImports:        t.PinImports,
		}
		if err := m.enter(ctx, h, child, visited, false); err != nil {
			return fmt.Errorf("pinned import %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) checkout(ctx context.Context, t Target) (string, error) {
	if err := m.api.SetWorkspace(ctx, looker.WorkspaceDev); err != nil {
		return "", err
	}
	if err := m.api.CheckoutBranch(ctx, t.Project, t.Branch); err != nil {
		return "", err
	}
	if t.RemoteReset {
		m.logger.Debug("resetting branch to remote", "project", t.Project, "branch", t.Branch)
		if err := m.api.ResetToRemote(ctx, t.Project); err != nil {
			return "", err
		}
	}
	return t.Branch, nil
}

// personalBranch checks out the caller's personal branch and hard resets it
// to the remote state of the requested branch.
func (m *Manager) personalBranch(ctx context.Context, t Target) (string, error) {
	if err := m.api.SetWorkspace(ctx, looker.WorkspaceDev); err != nil {
		return "", err
	}
	branches, err := m.api.Branches(ctx, t.Project)
	if err != nil {
		return "", err
	}
	var personal string
	for _, b := range branches {
		if b.Personal && !b.Readonly {
			personal = b.Name
			break
		}
	}
	if personal == "" {
		return "", ErrNoPersonalBranch
	}

	if err := m.api.CheckoutBranch(ctx, t.Project, personal); err != nil {
		return "", err
	}
	if err := m.api.ResetToRemote(ctx, t.Project); err != nil {
		return "", err
	}
	if err := m.api.HardResetBranch(ctx, t.Project, personal, "origin/"+t.Branch); err != nil {
		return "", err
	}
	return personal, nil
}

// tempBranch creates a throwaway branch at the commit and checks it out.
// The branch is deleted on exit after switching back to the branch that was
// active before it.
func (m *Manager) tempBranch(ctx context.Context, h *Handle, t Target) (string, error) {
	if err := m.api.SetWorkspace(ctx, looker.WorkspaceDev); err != nil {
		return "", err
	}
	previous, err := m.api.ActiveBranch(ctx, t.Project)
	if err != nil {
		return "", err
	}

	name := TempBranchPrefix + m.suffix()
	if err := m.api.CreateBranch(ctx, t.Project, name, t.Commit); err != nil {
		return "", err
	}
	h.push(fmt.Sprintf("delete %s branch %s", t.Project, name), func(ctx context.Context) error {
		if err := m.api.SetWorkspace(ctx, looker.WorkspaceDev); err != nil {
			return err
		}
		if previous != "" && previous != name {
			if err := m.api.CheckoutBranch(ctx, t.Project, previous); err != nil {
				return err
			}
		}
		return m.api.DeleteBranch(ctx, t.Project, name)
	})

	if err := m.api.CheckoutBranch(ctx, t.Project, name); err != nil {
		return "", err
	}
	return name, nil
}
