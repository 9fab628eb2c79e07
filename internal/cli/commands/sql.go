package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/lookval/internal/cli/config"
	"github.com/leapstack-labs/lookval/internal/validator"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// ErrValidationFailed is returned when the run found SQL errors.
var ErrValidationFailed = errors.New("validation failed")

// NewSQLCommand creates the sql command.
func NewSQLCommand(newClient ClientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Validate the SQL of every explore dimension",
		Long: `Run a query per explore containing all of its dimensions and narrow any
failure down to the dimensions that cause it.

The project is validated on production unless a branch or commit is given.
A commit is validated on a temporary branch that is deleted afterwards.
In incremental mode only explores whose dimension SQL differs from --target
are queried.`,
		Example: `  # Validate production
  lookval sql --project shop

  # Validate a branch, only the sales model, without the users explore
  lookval sql --project shop --branch feature -e 'sales/*' -e '-sales/users'

  # Validate only what changed against main
  lookval sql --project shop --branch feature --incremental --target main

  # Profile slow queries and emit JSON for CI
  lookval sql --project shop --profile -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSQL(cmd, newClient)
		},
	}

	// Flags are read by the config loader and mapped to snake_case keys.
	cmd.Flags().String("branch", "", "Branch to validate")
	cmd.Flags().String("commit-ref", "", "Commit to validate on a temporary branch")
	cmd.Flags().Bool("remote-reset", false, "Reset the branch to its remote state first")
	cmd.Flags().Bool("use-personal-branch", false, "Validate on your personal dev branch")
	cmd.Flags().String("pin-imports", "", "Pin imported projects (project:ref,project2:ref2)")
	cmd.Flags().StringSliceP("explores", "e", nil, "Explore selectors (model/explore, wildcards, '-' to exclude)")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency, "Maximum concurrent queries")
	cmd.Flags().Int("chunk-size", config.DefaultChunkSize, "Maximum dimensions per query")
	cmd.Flags().Bool("fail-fast", false, "Report failing explores without isolating dimensions and stop at the first")
	cmd.Flags().Bool("profile", false, "Report queries slower than --runtime-threshold")
	cmd.Flags().Int("runtime-threshold", config.DefaultRuntimeThreshold, "Profiler threshold in seconds")
	cmd.Flags().Bool("incremental", false, "Only validate explores that changed against --target")
	cmd.Flags().String("target", "", "Branch or commit to compare against in incremental mode")
	cmd.Flags().Bool("ignore-hidden", false, "Skip hidden dimensions")

	return cmd
}

func runSQL(cmd *cobra.Command, newClient ClientFactory) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger

	if err := cfg.ValidateSQL(logger); err != nil {
		return err
	}

	client, err := cmdCtx.NewClient(newClient)
	if err != nil {
		return err
	}

	var rec *runRecorder
	if cfg.StatePath != "" {
		store, cleanup, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer cleanup()
		rec, err = startRun(store, cfg, logger)
		if err != nil {
			return err
		}
	}

	engineCfg := cfg.EngineConfig()
	engineCfg.Logger = logger
	v := validator.New(client, validator.Config{
		Workspace:    cfg.WorkspaceTarget(),
		Selectors:    cfg.Explores,
		IgnoreHidden: cfg.IgnoreHidden,
		Incremental:  cfg.Incremental,
		CompareRef:   cfg.Target,
		Engine:       engineCfg,
		Logger:       logger,
	})

	out, runErr := v.Run(cmd.Context())
	runID := rec.finish(out.Result, runErr)
	if cfg.LogDir != "" {
		if path, err := saveResult(cfg.LogDir, out.Result); err != nil {
			logger.Warn("failed to save results", "error", err)
		} else {
			logger.Info("saved results", "path", path)
		}
	}

	if err := renderSQL(cmdCtx.Renderer, out, runID); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to render results: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	if out.Result.Status == core.StatusFailed {
		return ErrValidationFailed
	}
	return nil
}

// saveResult writes the result document to <dir>/<validator>_results.json,
// replacing the one from the previous run.
func saveResult(dir string, result *core.ValidationResult) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	path := filepath.Join(dir, result.Validator+"_results.json")
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	return path, nil
}

// describeRef names the git state a run validates.
func describeRef(cfg *config.Config) string {
	switch {
	case cfg.CommitRef != "":
		return cfg.CommitRef
	case cfg.Branch != "":
		return cfg.Branch
	case cfg.UsePersonalBranch:
		return "personal"
	default:
		return "production"
	}
}

// runRecorder stores a run in the history database. A nil recorder does
// nothing.
type runRecorder struct {
	store  core.RunStore
	run    *core.Run
	logger *slog.Logger
}

func startRun(store core.RunStore, cfg *config.Config, logger *slog.Logger) (*runRecorder, error) {
	run, err := store.CreateRun(cfg.Project, describeRef(cfg))
	if err != nil {
		return nil, err
	}
	logger.Debug("recording run", "id", run.ID)
	return &runRecorder{store: store, run: run, logger: logger}, nil
}

// finish records the outcome and returns the run id. Runs that ended with
// an error are recorded as errored. Storage failures are only logged.
func (rec *runRecorder) finish(result *core.ValidationResult, runErr error) string {
	if rec == nil {
		return ""
	}
	var err error
	if runErr != nil {
		err = rec.store.FailRun(rec.run.ID, runErr.Error())
	} else {
		err = rec.store.CompleteRun(rec.run.ID, result)
	}
	if err != nil {
		rec.logger.Warn("failed to record run", "id", rec.run.ID, "error", err)
	}
	return rec.run.ID
}
