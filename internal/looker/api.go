package looker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Workspace names.
const (
	WorkspaceProduction = "production"
	WorkspaceDev        = "dev"
)

// Version returns the platform release version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Release string `json:"looker_release_version"`
	}
	if err := c.do(ctx, http.MethodGet, "versions", nil, nil, &out); err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}
	return out.Release, nil
}

// Workspace returns the session's current workspace.
func (c *Client) Workspace(ctx context.Context) (string, error) {
	var out struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := c.do(ctx, http.MethodGet, "session", nil, nil, &out); err != nil {
		return "", fmt.Errorf("failed to get workspace: %w", err)
	}
	c.setWorkspace(out.WorkspaceID)
	return out.WorkspaceID, nil
}

// SetWorkspace switches the session to the production or dev workspace.
func (c *Client) SetWorkspace(ctx context.Context, workspace string) error {
	if workspace != WorkspaceProduction && workspace != WorkspaceDev {
		return fmt.Errorf("unknown workspace %q", workspace)
	}
	body := map[string]string{"workspace_id": workspace}
	if err := c.do(ctx, http.MethodPatch, "session", nil, body, nil); err != nil {
		return fmt.Errorf("failed to set workspace to %s: %w", workspace, err)
	}
	c.setWorkspace(workspace)
	return nil
}

func (c *Client) setWorkspace(ws string) {
	c.mu.Lock()
	c.workspace = ws
	c.mu.Unlock()
}

func (c *Client) inDev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspace == WorkspaceDev
}

// ActiveBranch returns the checked-out branch of a project.
func (c *Client) ActiveBranch(ctx context.Context, project string) (string, error) {
	var out GitBranch
	if err := c.do(ctx, http.MethodGet, projectPath(project, "git_branch"), nil, nil, &out); err != nil {
		return "", fmt.Errorf("failed to get active branch of %s: %w", project, err)
	}
	return out.Name, nil
}

// Branches lists a project's branches.
func (c *Client) Branches(ctx context.Context, project string) ([]GitBranch, error) {
	var out []GitBranch
	if err := c.do(ctx, http.MethodGet, projectPath(project, "git_branches"), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list branches of %s: %w", project, err)
	}
	return out, nil
}

// CheckoutBranch checks out an existing branch.
func (c *Client) CheckoutBranch(ctx context.Context, project, branch string) error {
	body := map[string]string{"name": branch}
	if err := c.do(ctx, http.MethodPut, projectPath(project, "git_branch"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to check out %s in %s: %w", branch, project, err)
	}
	return nil
}

// HardResetBranch points branch at ref.
func (c *Client) HardResetBranch(ctx context.Context, project, branch, ref string) error {
	body := map[string]string{"name": branch, "ref": ref}
	if err := c.do(ctx, http.MethodPut, projectPath(project, "git_branch"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to reset %s to %s in %s: %w", branch, ref, project, err)
	}
	return nil
}

// CreateBranch creates branch from ref, or from the current branch when ref is empty.
func (c *Client) CreateBranch(ctx context.Context, project, branch, ref string) error {
	body := map[string]string{"name": branch}
	if ref != "" {
		body["ref"] = ref
	}
	if err := c.do(ctx, http.MethodPost, projectPath(project, "git_branch"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to create branch %s in %s: %w", branch, project, err)
	}
	return nil
}

// DeleteBranch deletes a branch.
func (c *Client) DeleteBranch(ctx context.Context, project, branch string) error {
	path := projectPath(project, "git_branch") + "/" + url.PathEscape(branch)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete branch %s in %s: %w", branch, project, err)
	}
	return nil
}

// ResetToRemote discards local changes on the active branch.
func (c *Client) ResetToRemote(ctx context.Context, project string) error {
	if err := c.do(ctx, http.MethodPost, projectPath(project, "reset_to_remote"), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to reset %s to remote: %w", project, err)
	}
	return nil
}

// ProjectImports returns the names of the local projects a project imports.
func (c *Client) ProjectImports(ctx context.Context, project string) ([]string, error) {
	var out struct {
		Imports []struct {
			Name     string `json:"name"`
			IsRemote bool   `json:"is_remote"`
		} `json:"imports"`
	}
	if err := c.do(ctx, http.MethodGet, projectPath(project, "manifest"), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get manifest of %s: %w", project, err)
	}
	var names []string
	for _, imp := range out.Imports {
		if !imp.IsRemote {
			names = append(names, imp.Name)
		}
	}
	return names, nil
}

// ListModels returns the models of a project with their explores.
func (c *Client) ListModels(ctx context.Context, project string) ([]Model, error) {
	params := url.Values{"fields": {"name,project_name,explores"}}
	if c.inDev() {
		params.Set("cache", "false")
	}
	var all []Model
	if err := c.do(ctx, http.MethodGet, "lookml_models", params, nil, &all); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	models := make([]Model, 0, len(all))
	for _, m := range all {
		if m.ProjectName == project {
			models = append(models, m)
		}
	}
	return models, nil
}

// ListDimensions returns the dimensions of an explore. LookML links are
// made absolute.
func (c *Client) ListDimensions(ctx context.Context, model, explore string) ([]DimensionField, error) {
	params := url.Values{"fields": {"fields"}}
	if c.inDev() {
		params.Set("cache", "false")
	}
	var out struct {
		Fields struct {
			Dimensions []DimensionField `json:"dimensions"`
		} `json:"fields"`
	}
	path := "lookml_models/" + url.PathEscape(model) + "/explores/" + url.PathEscape(explore)
	if err := c.do(ctx, http.MethodGet, path, params, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get dimensions of %s.%s: %w", model, explore, err)
	}
	dims := out.Fields.Dimensions
	for i := range dims {
		dims[i].LookMLLink = c.absoluteLink(dims[i].LookMLLink)
	}
	return dims, nil
}

func (c *Client) absoluteLink(link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return c.baseURL + "/" + strings.TrimLeft(link, "/")
}

// CreateQuery saves a query selecting dims that matches no rows.
func (c *Client) CreateQuery(ctx context.Context, model, explore string, dims []string) (*CreatedQuery, error) {
	body := map[string]any{
		"model":             model,
		"view":              explore,
		"fields":            dims,
		"limit":             "0",
		"filter_expression": "1=2",
	}
	params := url.Values{"fields": {"id,share_url"}, "cache": {"false"}}
	var out CreatedQuery
	if err := c.do(ctx, http.MethodPost, "queries", params, body, &out); err != nil {
		return nil, fmt.Errorf("failed to create query on %s.%s: %w", model, explore, err)
	}
	return &out, nil
}

// CreateQueryTask starts an asynchronous run of a saved query.
func (c *Client) CreateQueryTask(ctx context.Context, queryID string) (string, error) {
	body := map[string]string{"query_id": queryID, "result_format": "json_detail"}
	params := url.Values{"fields": {"id"}, "cache": {"false"}}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "query_tasks", params, body, &out); err != nil {
		return "", fmt.Errorf("failed to create query task for query %s: %w", queryID, err)
	}
	return out.ID, nil
}

// PollTasks fetches the state of several tasks in one call.
func (c *Client) PollTasks(ctx context.Context, taskIDs []string) (map[string]TaskResult, error) {
	params := url.Values{"query_task_ids": {strings.Join(taskIDs, ",")}}
	out := map[string]TaskResult{}
	if err := c.do(ctx, http.MethodGet, "query_tasks/multi_results", params, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to poll %d query tasks: %w", len(taskIDs), err)
	}
	return out, nil
}

// CancelTask stops a running task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	if err := c.do(ctx, http.MethodDelete, "running_queries/"+url.PathEscape(taskID), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel query task %s: %w", taskID, err)
	}
	return nil
}

func projectPath(project, rest string) string {
	return "projects/" + url.PathEscape(project) + "/" + rest
}
