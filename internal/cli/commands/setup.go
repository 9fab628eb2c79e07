package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/config"
	"github.com/leapstack-labs/lookval/internal/cli/output"
	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/state"
	"github.com/leapstack-labs/lookval/internal/validator"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// Client is the Looker API surface the commands use.
type Client interface {
	validator.API
	Version(ctx context.Context) (string, error)
}

// ClientFactory builds a Client from connection settings.
type ClientFactory func(cfg looker.Config) (Client, error)

// NewLookerClient is the ClientFactory backed by the HTTP API client.
func NewLookerClient(cfg looker.Config) (Client, error) {
	c, err := looker.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the config, logger and renderer stored by the
// root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// NewClient builds an API client from the loaded settings.
func (c *CommandContext) NewClient(factory ClientFactory) (Client, error) {
	lc := c.Cfg.LookerConfig()
	lc.Logger = c.Logger
	client, err := factory(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// OpenStore opens the run history database at the configured state path.
// The returned cleanup function must be called (typically via defer).
func (c *CommandContext) OpenStore() (core.RunStore, func(), error) {
	path := c.Cfg.StatePath
	if path == "" {
		return nil, nil, fmt.Errorf("no state_path configured\nHint: set state_path in lookval.yaml or pass --state")
	}

	// Ensure state directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(path); err != nil {
		return nil, nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			c.Logger.Warn("failed to close state database", "error", err)
		}
	}
	return store, cleanup, nil
}
