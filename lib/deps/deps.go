// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package deps installs the target's package dependencies after a
// checkout. The reproducible lockfile-exact install is tried first;
// only when it fails does the installer fall back to a plain install,
// which may rewrite the lockfile but at least produces a buildable
// tree. Lifecycle scripts are disabled by default so that fetching
// dependencies cannot execute repository-controlled code before the
// signature-verified build step.
package deps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halyard-systems/halyard/lib/fallback"
	"github.com/halyard-systems/halyard/lib/proc"
)

// DefaultManager is the package manager invoked when the
// configuration names none.
const DefaultManager = "npm"

// DefaultModulesDir is the dependency directory purged during
// rollback, relative to the working tree.
const DefaultModulesDir = "node_modules"

// Options configures an Installer.
type Options struct {
	// Manager is the package manager binary name. Empty means
	// DefaultManager.
	Manager string

	// ModulesDir is the dependency directory relative to the working
	// tree. Empty means DefaultModulesDir.
	ModulesDir string

	// AllowScripts permits dependency lifecycle scripts to run during
	// install. Off by default.
	AllowScripts bool

	// Timeout bounds each install subprocess. Zero uses the runner's
	// default.
	Timeout time.Duration

	// Observer receives install output lines for live progress.
	Observer proc.Observer

	// Logger records install outcomes. Required.
	Logger *slog.Logger
}

// Installer installs dependencies into a specific working tree.
type Installer struct {
	workDir      string
	exec         proc.Executor
	manager      string
	modulesDir   string
	allowScripts bool
	timeout      time.Duration
	observer     proc.Observer
	logger       *slog.Logger
}

// New returns an Installer for the working tree at workDir.
func New(workDir string, executor proc.Executor, options Options) *Installer {
	manager := options.Manager
	if manager == "" {
		manager = DefaultManager
	}
	modulesDir := options.ModulesDir
	if modulesDir == "" {
		modulesDir = DefaultModulesDir
	}
	return &Installer{
		workDir:      workDir,
		exec:         executor,
		manager:      manager,
		modulesDir:   modulesDir,
		allowScripts: options.AllowScripts,
		timeout:      options.Timeout,
		observer:     options.Observer,
		logger:       options.Logger,
	}
}

// Install fetches dependencies for the working tree. It tries the
// lockfile-exact install first and falls back to a plain install,
// returning the name of the strategy that succeeded.
func (inst *Installer) Install(ctx context.Context) (string, error) {
	strategies := []fallback.Strategy{
		{Name: inst.manager + " ci", Run: func(ctx context.Context) error {
			return inst.run(ctx, "ci")
		}},
		{Name: inst.manager + " install", Run: func(ctx context.Context) error {
			return inst.run(ctx, "install")
		}},
	}

	winner, err := fallback.Attempt(ctx, func(format string, args ...any) {
		inst.logger.Warn("install strategy failed", "detail", fmt.Sprintf(format, args...))
	}, strategies)
	if err != nil {
		return "", fmt.Errorf("installing dependencies: %w", err)
	}
	inst.logger.Info("dependencies installed", "strategy", winner)
	return winner, nil
}

// Purge removes the dependency directory so a rollback reinstall
// starts from a clean slate. A missing directory is not an error.
func (inst *Installer) Purge() error {
	target := filepath.Join(inst.workDir, inst.modulesDir)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("purging %s: %w", inst.modulesDir, err)
	}
	return nil
}

// run invokes one install subcommand in the working tree.
func (inst *Installer) run(ctx context.Context, subcommand string) error {
	args := []string{subcommand}
	if !inst.allowScripts {
		args = append(args, "--ignore-scripts")
	}

	result, err := inst.exec.Run(ctx, proc.Command{
		Name:     inst.manager,
		Args:     args,
		Dir:      inst.workDir,
		Timeout:  inst.timeout,
		Observer: inst.observer,
	})
	if err != nil {
		if proc.IsNotFound(err) {
			return fmt.Errorf("%s not installed: %w", inst.manager, err)
		}
		return err
	}
	if result.TimedOut {
		return fmt.Errorf("%s %s timed out", inst.manager, subcommand)
	}
	if !result.OK() {
		return fmt.Errorf("%s %s exited %d: %s",
			inst.manager, subcommand, result.ExitCode, lastLine(result.Transcript))
	}
	return nil
}

// lastLine extracts the final non-empty transcript line, which for
// package managers usually carries the actual error.
func lastLine(transcript string) string {
	lines := strings.Split(strings.TrimSpace(transcript), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "(no output)"
}
