// Package config provides configuration management for the lookval CLI.
//
// Settings are layered from defaults, a lookval.yaml file, LOOKER_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"time"

	"github.com/leapstack-labs/lookval/internal/engine"
	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/internal/workspace"
)

// Config holds all CLI configuration options.
type Config struct {
	BaseURL      string `koanf:"base_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Port         int    `koanf:"port"`
	APIVersion   string `koanf:"api_version"`
	// Timeout is the HTTP timeout in seconds.
	Timeout int `koanf:"timeout"`

	Project           string `koanf:"project"`
	Branch            string `koanf:"branch"`
	CommitRef         string `koanf:"commit_ref"`
	RemoteReset       bool   `koanf:"remote_reset"`
	UsePersonalBranch bool   `koanf:"use_personal_branch"`
	// PinImports maps imported projects to the ref they are validated at.
	// It is read from either a "proj:ref,proj2:ref2" string or a map.
	PinImports map[string]string `koanf:"-"`

	Explores     []string `koanf:"explores"`
	Concurrency  int      `koanf:"concurrency"`
	ChunkSize    int      `koanf:"chunk_size"`
	FailFast     bool     `koanf:"fail_fast"`
	Profile      bool     `koanf:"profile"`
	IgnoreHidden bool     `koanf:"ignore_hidden"`
	// RuntimeThreshold is the profiler threshold in seconds.
	RuntimeThreshold int    `koanf:"runtime_threshold"`
	Incremental      bool   `koanf:"incremental"`
	Target           string `koanf:"target"`

	StatePath    string `koanf:"state_path"`
	LogDir       string `koanf:"log_dir"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultAPIVersion       = looker.DefaultAPIVersion
	DefaultTimeout          = int(looker.DefaultTimeout / time.Second)
	DefaultConcurrency      = engine.DefaultConcurrency
	DefaultChunkSize        = engine.DefaultChunkSize
	DefaultRuntimeThreshold = int(engine.DefaultRuntimeThreshold / time.Second)
	DefaultOutput           = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	LogFileName             = "lookval.log"
)

// LookerConfig returns the client settings.
func (c *Config) LookerConfig() looker.Config {
	return looker.Config{
		BaseURL:      c.BaseURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Port:         c.Port,
		APIVersion:   c.APIVersion,
		Timeout:      time.Duration(c.Timeout) * time.Second,
	}
}

// WorkspaceTarget returns the git state validation runs against.
func (c *Config) WorkspaceTarget() workspace.Target {
	return workspace.Target{
		Project:           c.Project,
		Branch:            c.Branch,
		Commit:            c.CommitRef,
		RemoteReset:       c.RemoteReset,
		UsePersonalBranch: c.UsePersonalBranch,
		PinImports:        c.PinImports,
	}
}

// EngineConfig returns the query engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Concurrency:      c.Concurrency,
		ChunkSize:        c.ChunkSize,
		FailFast:         c.FailFast,
		Profile:          c.Profile,
		RuntimeThreshold: time.Duration(c.RuntimeThreshold) * time.Second,
	}
}
