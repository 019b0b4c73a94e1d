// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// halyard-update runs one update attempt against the configured
// target: fetch the signed tip from the best mirror, verify it,
// rebuild, swap the output atomically, and schedule the service
// reload. On any post-checkout failure the working tree is rolled
// back to the commit it started from.
//
// Configuration comes from a single YAML file named by --config or
// the HALYARD_CONFIG environment variable. With --info the command
// prints a diagnostic snapshot instead of updating.
//
// Exit codes: 0 on success (or an up-to-date tree), 1 when the
// attempt failed, 2 for configuration and usage errors.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/halyard-systems/halyard/lib/build"
	"github.com/halyard-systems/halyard/lib/clock"
	"github.com/halyard-systems/halyard/lib/config"
	"github.com/halyard-systems/halyard/lib/deps"
	"github.com/halyard-systems/halyard/lib/gitrepo"
	"github.com/halyard-systems/halyard/lib/lockfile"
	"github.com/halyard-systems/halyard/lib/mirror"
	"github.com/halyard-systems/halyard/lib/proc"
	"github.com/halyard-systems/halyard/lib/signature"
	"github.com/halyard-systems/halyard/lib/update"
	"github.com/halyard-systems/halyard/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var jsonOutput bool
	var showInfo bool
	var verbose bool

	flagSet := pflag.NewFlagSet("halyard-update", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to halyard.yaml (default: $HALYARD_CONFIG)")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit the outcome as JSON on stdout")
	flagSet.BoolVar(&showInfo, "info", false, "print a diagnostic snapshot instead of updating")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "stream subprocess output to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Halyard
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("halyard-update %s\n", version.Info())
		return 0
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return 0
	}
	if arguments := flagSet.Args(); len(arguments) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument: %s\n", arguments[0])
		return 2
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if err := cfg.EnsurePaths(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	updater, err := assemble(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if showInfo {
		return printInfo(updater.Info(ctx), jsonOutput)
	}

	var progress update.Progress
	if verbose && !jsonOutput {
		progress = func(step update.Step, line string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", step, line)
		}
	}

	result := updater.Run(ctx, progress)
	return printResult(result, jsonOutput)
}

// assemble wires the pipeline components from the configuration.
func assemble(cfg *config.Config, logger *slog.Logger) (*update.Updater, error) {
	runner := proc.NewRunner(logger)
	clk := clock.Real()

	candidates, err := cfg.MirrorCandidates()
	if err != nil {
		return nil, fmt.Errorf("loading mirror candidates: %w", err)
	}

	// Stage subprocess output streams into whichever attempt is
	// running. The closure resolves the updater constructed below;
	// stages only run inside Run, after assembly is complete.
	var updater *update.Updater
	observer := func(line string) {
		if updater != nil {
			updater.Observe(line)
		}
	}

	repository := gitrepo.New(cfg.Paths.Target, runner, gitrepo.Options{
		Remote:   cfg.Git.Remote,
		Branch:   cfg.Git.Branch,
		Timeout:  cfg.Timeouts.Fetch.Std(),
		Observer: observer,
	})

	verifier := signature.New(cfg.Paths.Target, runner, signature.Options{
		Timeout:  cfg.Timeouts.Verify.Std(),
		Observer: observer,
		Logger:   logger,
	})

	installer := deps.New(cfg.Paths.Target, runner, deps.Options{
		Manager:      cfg.Install.Manager,
		ModulesDir:   cfg.Install.ModulesDir,
		AllowScripts: cfg.Install.AllowScripts,
		Timeout:      cfg.Timeouts.Install.Std(),
		Observer:     observer,
		Logger:       logger,
	})

	builder := build.New(cfg.Paths.Target, cfg.Paths.Output, runner, build.Options{
		Tool:     cfg.Build.Tool,
		Args:     cfg.Build.Args,
		Timeout:  cfg.Timeouts.Build.Std(),
		Observer: observer,
		Logger:   logger,
	})

	selector := mirror.NewSelector(candidates, cfg.Timeouts.Probe.Std(), logger)

	scheduler := update.NewScheduler(runner, update.SchedulerOptions{
		Tool:         cfg.Supervisor.Tool,
		Unit:         cfg.Supervisor.Unit,
		WatchdogPath: filepath.Join(cfg.Paths.State, "transition.json"),
		Delay:        cfg.Supervisor.ReloadDelay.Std(),
		Clock:        clk,
		Logger:       logger,
	})

	coordinator := update.NewCoordinator(
		lockfile.New(cfg.Paths.Lock, lockfile.DefaultTTL, clk))

	updater = update.New(update.Options{
		TargetDir:   cfg.Paths.Target,
		StateDir:    cfg.Paths.State,
		Coordinator: coordinator,
		Repository:  repository,
		Verifier:    verifier,
		Installer:   installer,
		Builder:     builder,
		Selector:    selector,
		Scheduler:   scheduler,
		Clock:       clk,
		Logger:      logger,
	})
	return updater, nil
}

// printResult reports the attempt outcome and returns the exit code.
func printResult(result *update.Result, jsonOutput bool) int {
	if jsonOutput {
		output := map[string]any{
			"attempt_id": result.AttemptID,
			"success":    result.Success,
			"step":       result.Step,
			"message":    result.Message,
			"path":       result.Path,
		}
		if result.Failure != nil {
			output["failure_kind"] = result.Failure.Kind
			output["error"] = result.Failure.Error()
		}
		if result.NewCommit != "" {
			output["previous_commit"] = result.PreviousCommit
			output["new_commit"] = result.NewCommit
		}
		if result.OutputDigest != "" {
			output["output_digest"] = result.OutputDigest
		}
		if result.ArchivePath != "" {
			output["transcript"] = result.ArchivePath
		}
		json.NewEncoder(os.Stdout).Encode(output)
	} else if result.Success {
		fmt.Println(result.Message)
	} else {
		fmt.Fprintf(os.Stderr, "update failed: %v\n", result.Failure)
		if result.ArchivePath != "" {
			fmt.Fprintf(os.Stderr, "full transcript: %s\n", result.ArchivePath)
		}
	}

	if result.Success {
		return 0
	}
	return 1
}

// printInfo reports the diagnostic snapshot and returns the exit code.
func printInfo(info update.Info, jsonOutput bool) int {
	if jsonOutput {
		output := map[string]any{
			"path":        info.Path,
			"is_valid":    info.IsValid,
			"in_progress": info.InProgress,
		}
		if info.Message != "" {
			output["message"] = info.Message
		}
		if info.InProgress {
			output["step"] = info.Step
		}
		if info.LastAttempt != nil {
			output["last_attempt"] = map[string]any{
				"attempt_id":  info.LastAttempt.AttemptID,
				"success":     info.LastAttempt.Success,
				"step":        info.LastAttempt.Step,
				"message":     info.LastAttempt.Message,
				"finished_at": info.LastAttempt.FinishedAt.Format(time.RFC3339),
			}
		}
		json.NewEncoder(os.Stdout).Encode(output)
		return 0
	}

	fmt.Printf("target: %s\n", info.Path)
	if info.IsValid {
		fmt.Println("status: valid git working tree")
	} else {
		fmt.Printf("status: invalid (%s)\n", info.Message)
	}
	if info.InProgress {
		fmt.Printf("attempt in progress: %s\n", info.Step)
	}
	if last := info.LastAttempt; last != nil {
		outcome := "succeeded"
		if !last.Success {
			outcome = fmt.Sprintf("failed (%s)", last.FailureKind)
		}
		fmt.Printf("last attempt: %s at %s — %s\n",
			outcome, last.FinishedAt.Format(time.RFC3339), last.Message)
	}
	return 0
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Halyard updater — fetch, verify, rebuild and reload one managed target.

The update pipeline fetches the configured branch tip from the most
responsive mirror, verifies its signature against the compiled-in
publisher allowlist, installs dependencies, builds into a scratch
directory, swaps the output atomically, and schedules a service
reload. Any failure after checkout rolls the working tree back.

Usage: halyard-update [flags]

Flags:
%s
Configuration is read from --config, or from the file named by the
HALYARD_CONFIG environment variable.
`, flagSet.FlagUsages())
}
