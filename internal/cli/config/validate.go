package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var outputModes = []string{"auto", "text", "markdown", "json"}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	valid := false
	for _, m := range outputModes {
		if c.OutputFormat == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid output %q: expected one of %s", c.OutputFormat, strings.Join(outputModes, ", "))
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.Timeout)
	}
	return nil
}

// ValidateConnection checks the settings needed to reach the API.
func (c *Config) ValidateConnection() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s\nHint: set them in lookval.yaml, as %s* environment variables or with flags",
			strings.Join(missing, ", "), EnvPrefix)
	}
	return nil
}

// ValidateSQL checks the settings of a SQL validation run. Fail-fast is
// switched off in incremental mode.
func (c *Config) ValidateSQL(logger *slog.Logger) error {
	if err := c.ValidateConnection(); err != nil {
		return err
	}
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.Branch != "" && c.CommitRef != "" {
		return fmt.Errorf("branch and commit_ref cannot be used together")
	}
	if c.CommitRef != "" && c.RemoteReset {
		return fmt.Errorf("commit_ref and remote_reset cannot be used together")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.RuntimeThreshold <= 0 {
		return fmt.Errorf("runtime_threshold must be positive, got %d", c.RuntimeThreshold)
	}
	if c.Incremental {
		if c.Target == "" {
			return fmt.Errorf("incremental mode requires a target")
		}
		if c.FailFast {
			if logger != nil {
				logger.Warn("fail_fast is not supported in incremental mode and has been disabled")
			}
			c.FailFast = false
		}
	}
	return nil
}
