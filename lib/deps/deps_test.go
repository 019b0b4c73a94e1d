// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package deps

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halyard-systems/halyard/lib/proc"
)

// scriptedExecutor scripts outcomes per invocation and records every
// command it receives.
type scriptedExecutor struct {
	results []scriptedResult
	calls   []proc.Command
}

type scriptedResult struct {
	result *proc.Result
	err    error
}

func (s *scriptedExecutor) Run(ctx context.Context, command proc.Command) (*proc.Result, error) {
	s.calls = append(s.calls, command)
	if len(s.results) == 0 {
		return &proc.Result{}, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.result, nil
}

func testInstaller(t *testing.T, executor proc.Executor, options Options) *Installer {
	t.Helper()
	options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(t.TempDir(), executor, options)
}

func TestInstall_LockfileExactFirst(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 0}},
	}}
	installer := testInstaller(t, executor, Options{})

	winner, err := installer.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if winner != "npm ci" {
		t.Errorf("winner = %q, want npm ci", winner)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(executor.calls))
	}
	call := executor.calls[0]
	if call.Name != "npm" || call.Args[0] != "ci" {
		t.Errorf("unexpected command: %s %v", call.Name, call.Args)
	}
}

func TestInstall_FallsBackToPlainInstall(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 1, Transcript: "npm ERR! lockfile out of sync"}},
		{result: &proc.Result{ExitCode: 0}},
	}}
	installer := testInstaller(t, executor, Options{})

	winner, err := installer.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if winner != "npm install" {
		t.Errorf("winner = %q, want npm install", winner)
	}
	if len(executor.calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(executor.calls))
	}
	if executor.calls[1].Args[0] != "install" {
		t.Errorf("second call args = %v, want install first", executor.calls[1].Args)
	}
}

func TestInstall_BothStrategiesFail(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 1, Transcript: "npm ERR! ci failed"}},
		{result: &proc.Result{ExitCode: 1, Transcript: "npm ERR! install failed"}},
	}}
	installer := testInstaller(t, executor, Options{})

	_, err := installer.Install(context.Background())
	if err == nil {
		t.Fatal("Install succeeded with both strategies failing")
	}
	// The aggregate error carries both strategy failures.
	if !strings.Contains(err.Error(), "npm ci") || !strings.Contains(err.Error(), "npm install") {
		t.Errorf("aggregate error missing strategy names: %v", err)
	}
}

func TestInstall_ManagerMissing(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{err: exec.ErrNotFound},
		{err: exec.ErrNotFound},
	}}
	installer := testInstaller(t, executor, Options{})

	_, err := installer.Install(context.Background())
	if err == nil {
		t.Fatal("Install succeeded with the package manager missing")
	}
	if !strings.Contains(err.Error(), "not installed") {
		t.Errorf("error does not name the missing manager: %v", err)
	}
}

func TestInstall_ScriptsDisabledByDefault(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 0}},
	}}
	installer := testInstaller(t, executor, Options{})

	if _, err := installer.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	args := executor.calls[0].Args
	found := false
	for _, arg := range args {
		if arg == "--ignore-scripts" {
			found = true
		}
	}
	if !found {
		t.Errorf("args = %v, want --ignore-scripts present", args)
	}
}

func TestInstall_AllowScriptsDropsFlag(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 0}},
	}}
	installer := testInstaller(t, executor, Options{AllowScripts: true})

	if _, err := installer.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	for _, arg := range executor.calls[0].Args {
		if arg == "--ignore-scripts" {
			t.Errorf("args = %v, --ignore-scripts present despite AllowScripts", executor.calls[0].Args)
		}
	}
}

func TestInstall_CustomManager(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{results: []scriptedResult{
		{result: &proc.Result{ExitCode: 0}},
	}}
	installer := testInstaller(t, executor, Options{Manager: "pnpm"})

	winner, err := installer.Install(context.Background())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if winner != "pnpm ci" {
		t.Errorf("winner = %q, want pnpm ci", winner)
	}
	if executor.calls[0].Name != "pnpm" {
		t.Errorf("manager = %q, want pnpm", executor.calls[0].Name)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	modules := filepath.Join(workDir, "node_modules")
	if err := os.MkdirAll(filepath.Join(modules, "left-pad"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modules, "left-pad", "index.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	installer := New(workDir, &scriptedExecutor{}, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := installer.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(modules); !os.IsNotExist(err) {
		t.Error("dependency directory still present after Purge")
	}

	// Purging an already-clean tree is not an error.
	if err := installer.Purge(); err != nil {
		t.Fatalf("second Purge: %v", err)
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()

	if got := lastLine("a\nb\n\n"); got != "b" {
		t.Errorf("lastLine = %q, want b", got)
	}
	if got := lastLine(""); got != "(no output)" {
		t.Errorf("lastLine empty = %q", got)
	}
}
