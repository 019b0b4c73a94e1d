// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the updater.
//
// Configuration is loaded from a single file specified by:
//   - HALYARD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${HOME} and similar path variables
// for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halyard-systems/halyard/lib/mirror"
)

// Config is the master configuration for an update target.
type Config struct {
	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Git configures the source repository.
	Git GitConfig `yaml:"git"`

	// Install configures dependency installation.
	Install InstallConfig `yaml:"install"`

	// Build configures the build step.
	Build BuildConfig `yaml:"build"`

	// Supervisor configures how the running service is restarted onto
	// new output.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Mirrors configures fetch mirror selection.
	Mirrors MirrorsConfig `yaml:"mirrors"`

	// Timeouts bounds the pipeline's subprocess stages.
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Target is the working tree the updater manages.
	Target string `yaml:"target"`

	// Output is the live build output directory inside or beside the
	// target.
	Output string `yaml:"output"`

	// State is where the updater keeps its own records: attempt
	// archives, the last-attempt record, the restart watchdog.
	State string `yaml:"state"`

	// Lock is the cross-process lock file. Default: <state>/update.lock.
	Lock string `yaml:"lock"`
}

// GitConfig configures the source repository.
type GitConfig struct {
	// Remote is the remote name the updater manages. Default: origin.
	Remote string `yaml:"remote"`

	// Branch is the branch whose tip is fetched. Default: main.
	Branch string `yaml:"branch"`
}

// InstallConfig configures dependency installation.
type InstallConfig struct {
	// Manager is the package manager binary. Default: npm.
	Manager string `yaml:"manager"`

	// ModulesDir is the dependency directory purged on rollback,
	// relative to the target. Default: node_modules.
	ModulesDir string `yaml:"modules_dir"`

	// AllowScripts permits dependency lifecycle scripts during
	// install. Default: false.
	AllowScripts bool `yaml:"allow_scripts"`
}

// BuildConfig configures the build step.
type BuildConfig struct {
	// Tool is the build command binary.
	Tool string `yaml:"tool"`

	// Args is the build command's argument list.
	Args []string `yaml:"args"`
}

// SupervisorConfig configures the service restart.
type SupervisorConfig struct {
	// Tool is the supervisor control binary. Default: systemctl.
	Tool string `yaml:"tool"`

	// Unit is the service unit to reload or restart.
	Unit string `yaml:"unit"`

	// ReloadDelay is how long after a successful swap the restart
	// fires. The delay lets the updater report success and release
	// resources before the service bounces. Default: 2s.
	ReloadDelay Duration `yaml:"reload_delay"`
}

// MirrorsConfig configures fetch mirror selection.
type MirrorsConfig struct {
	// Manifest is an optional JSONC file listing mirror candidates.
	// When set it replaces Candidates.
	Manifest string `yaml:"manifest"`

	// Candidates is the inline candidate list used when no manifest
	// is configured.
	Candidates []mirror.Candidate `yaml:"candidates"`
}

// TimeoutsConfig bounds the pipeline's subprocess stages. Zero values
// fall back to each stage's default.
type TimeoutsConfig struct {
	// Probe bounds a single mirror reachability probe.
	Probe Duration `yaml:"probe"`

	// Fetch bounds each git subprocess.
	Fetch Duration `yaml:"fetch"`

	// Verify bounds each signature-verification subprocess.
	Verify Duration `yaml:"verify"`

	// Install bounds each dependency-install subprocess.
	Install Duration `yaml:"install"`

	// Build bounds the build subprocess.
	Build Duration `yaml:"build"`
}

// Duration wraps time.Duration with YAML support for strings like
// "90s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback —
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".cache", "halyard")

	return &Config{
		Paths: PathsConfig{
			State: defaultState,
		},
		Git: GitConfig{
			Remote: "origin",
			Branch: "main",
		},
		Install: InstallConfig{
			Manager:    "npm",
			ModulesDir: "node_modules",
		},
		Build: BuildConfig{
			Tool: "npm",
			Args: []string{"run", "build"},
		},
		Supervisor: SupervisorConfig{
			Tool:        "systemctl",
			ReloadDelay: Duration(2 * time.Second),
		},
	}
}

// Load loads configuration from the HALYARD_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit
// path. There are no fallbacks or defaults — if HALYARD_CONFIG is not
// set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("HALYARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HALYARD_CONFIG environment variable not set; " +
			"set it to the path of your halyard.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// applyDerivedDefaults fills fields whose defaults depend on other
// fields.
func (c *Config) applyDerivedDefaults() {
	if c.Paths.Lock == "" && c.Paths.State != "" {
		c.Paths.Lock = filepath.Join(c.Paths.State, "update.lock")
	}
	if c.Paths.Output == "" && c.Paths.Target != "" {
		c.Paths.Output = filepath.Join(c.Paths.Target, "dist")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.Target = expandVars(c.Paths.Target, vars)
	c.Paths.Output = expandVars(c.Paths.Output, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Lock = expandVars(c.Paths.Lock, vars)
	c.Mirrors.Manifest = expandVars(c.Mirrors.Manifest, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Target == "" {
		errs = append(errs, fmt.Errorf("paths.target is required"))
	} else if !filepath.IsAbs(c.Paths.Target) {
		errs = append(errs, fmt.Errorf("paths.target must be absolute, got %q", c.Paths.Target))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Git.Remote == "" {
		errs = append(errs, fmt.Errorf("git.remote is required"))
	}
	if c.Git.Branch == "" {
		errs = append(errs, fmt.Errorf("git.branch is required"))
	}
	if c.Build.Tool == "" {
		errs = append(errs, fmt.Errorf("build.tool is required"))
	}
	if c.Supervisor.Unit == "" {
		errs = append(errs, fmt.Errorf("supervisor.unit is required"))
	}
	if c.Mirrors.Manifest == "" && len(c.Mirrors.Candidates) == 0 {
		errs = append(errs, fmt.Errorf("mirrors: either a manifest or inline candidates are required"))
	}
	for i, candidate := range c.Mirrors.Candidates {
		if candidate.Name == "" || candidate.CloneURL == "" || candidate.ProbeURL == "" {
			errs = append(errs, fmt.Errorf("mirrors.candidates[%d]: name, clone_url and probe_url are required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MirrorCandidates resolves the effective mirror list: the manifest
// when one is configured, the inline candidates otherwise.
func (c *Config) MirrorCandidates() ([]mirror.Candidate, error) {
	if c.Mirrors.Manifest != "" {
		return mirror.LoadManifest(c.Mirrors.Manifest)
	}
	return c.Mirrors.Candidates, nil
}

// EnsurePaths creates the state directory. Target and output are the
// deployment's responsibility; the updater only owns its state.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.State, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
