package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read as settings.
const EnvPrefix = "LOOKER_"

// configFileNames are searched in order in each directory.
var configFileNames = []string{"lookval.yaml", "lookval.yml"}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// Context keys shared by the root command and the subcommands.
type (
	configKey struct{}
	loggerKey struct{}
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// configIn returns the config file in dir, or "" when there is none.
func configIn(dir string) string {
	for _, name := range configFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigFileUpward searches upward from startDir for a lookval config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findConfigFileUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if path := configIn(dir); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// findConfigFile finds the config file to use.
// Priority: explicit path > lookval.yaml > lookval.yml, searched upward from CWD.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findConfigFileUpward(cwd)
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"api_version":       DefaultAPIVersion,
		"timeout":           DefaultTimeout,
		"concurrency":       DefaultConcurrency,
		"chunk_size":        DefaultChunkSize,
		"runtime_threshold": DefaultRuntimeThreshold,
		"verbose":           false,
		"output":            DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFile := findConfigFile(cfgFile)
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	// 3. Load environment variables (LOOKER_ prefix)
	// Transform: LOOKER_BASE_URL -> base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses --state for brevity, the config key is state_path
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	pins, err := parsePinImports(k.Get("pin_imports"))
	if err != nil {
		return nil, err
	}
	cfg.PinImports = pins
	cfg.Explores = splitList(cfg.Explores)

	cfg.BaseURL = expandEnvVars(cfg.BaseURL)
	cfg.ClientID = expandEnvVars(cfg.ClientID)
	cfg.ClientSecret = expandEnvVars(cfg.ClientSecret)
	cfg.ConfigFile = configFile

	return &cfg, nil
}

// parsePinImports accepts "proj:ref,proj2:ref2", a list of "proj:ref"
// entries or a project-to-ref map.
func parsePinImports(raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return ParsePinImports(strings.Split(v, ","))
	case []string:
		return ParsePinImports(v)
	case []interface{}:
		entries := make([]string, 0, len(v))
		for _, e := range v {
			entries = append(entries, fmt.Sprint(e))
		}
		return ParsePinImports(entries)
	case map[string]interface{}:
		pins := make(map[string]string, len(v))
		for project, ref := range v {
			if ref == nil || fmt.Sprint(ref) == "" {
				return nil, fmt.Errorf("pin_imports: empty ref for project %q", project)
			}
			pins[project] = fmt.Sprint(ref)
		}
		return pins, nil
	default:
		return nil, fmt.Errorf("pin_imports: unsupported value of type %T", raw)
	}
}

// splitList splits comma-separated entries, as given by env vars.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParsePinImports parses "project:ref" entries.
func ParsePinImports(entries []string) (map[string]string, error) {
	pins := make(map[string]string, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		project, ref, ok := strings.Cut(entry, ":")
		project, ref = strings.TrimSpace(project), strings.TrimSpace(ref)
		if !ok || project == "" || ref == "" {
			return nil, fmt.Errorf("pin_imports: expected project:ref, got %q", entry)
		}
		pins[project] = ref
	}
	if len(pins) == 0 {
		return nil, nil
	}
	return pins, nil
}

// FormatPinImports renders pins in the "proj:ref,proj2:ref2" form, sorted by project.
func FormatPinImports(pins map[string]string) string {
	projects := make([]string, 0, len(pins))
	for p := range pins {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	parts := make([]string, len(projects))
	for i, p := range projects {
		parts[i] = p + ":" + pins[p]
	}
	return strings.Join(parts, ",")
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	// Return default config if none in context
	return &Config{
		APIVersion:       DefaultAPIVersion,
		Timeout:          DefaultTimeout,
		Concurrency:      DefaultConcurrency,
		ChunkSize:        DefaultChunkSize,
		RuntimeThreshold: DefaultRuntimeThreshold,
		OutputFormat:     DefaultOutput,
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}
