// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package build produces the target's build output and swaps it into
// place atomically. The build tool writes into a scratch directory
// next to the live output; only after the tool exits cleanly and the
// scratch tree is sanity-checked does the swap happen, as two renames
// on the same filesystem. A consumer of the live directory therefore
// sees either the previous output or the new one, never a half-built
// tree, and a failed build leaves the live output untouched.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/halyard-systems/halyard/lib/dirhash"
	"github.com/halyard-systems/halyard/lib/proc"
)

// OutputDirEnv names the environment variable through which the build
// tool is told where to write its output tree.
const OutputDirEnv = "HALYARD_BUILD_OUTPUT"

// Options configures a Builder.
type Options struct {
	// Tool is the build command binary name. Required.
	Tool string

	// Args is the build command's argument list.
	Args []string

	// Timeout bounds the build subprocess. Zero uses the runner's
	// default.
	Timeout time.Duration

	// Observer receives build output lines for live progress.
	Observer proc.Observer

	// Logger records build outcomes. Required.
	Logger *slog.Logger
}

// Output describes a completed, swapped-in build.
type Output struct {
	// LiveDir is the output directory the new tree now occupies.
	LiveDir string

	// TreeDigest is the keyed digest of the swapped-in tree.
	TreeDigest string
}

// Builder builds a working tree and installs the result at a fixed
// live output path.
type Builder struct {
	workDir  string
	liveDir  string
	exec     proc.Executor
	tool     string
	args     []string
	timeout  time.Duration
	observer proc.Observer
	logger   *slog.Logger
}

// New returns a Builder running the configured tool in workDir and
// installing its output at liveDir.
func New(workDir, liveDir string, executor proc.Executor, options Options) *Builder {
	return &Builder{
		workDir:  workDir,
		liveDir:  liveDir,
		exec:     executor,
		tool:     options.Tool,
		args:     options.Args,
		timeout:  options.Timeout,
		observer: options.Observer,
		logger:   options.Logger,
	}
}

// Build runs the build tool against a scratch directory and, on
// success, swaps the scratch tree into the live path. attemptID keys
// the scratch and backup directory names so concurrent leftovers from
// a crashed attempt can never be mistaken for this one's.
func (b *Builder) Build(ctx context.Context, attemptID string) (*Output, error) {
	scratch := b.liveDir + ".new-" + attemptID
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch output dir: %w", err)
	}
	// A failed build must leave nothing behind but the live tree.
	defer os.RemoveAll(scratch)

	if err := b.runTool(ctx, scratch); err != nil {
		return nil, err
	}
	if err := verifyOutput(scratch); err != nil {
		return nil, err
	}

	if err := b.swap(scratch, attemptID); err != nil {
		return nil, err
	}

	digest, err := dirhash.Tree(b.liveDir)
	if err != nil {
		// The swap itself succeeded; a digest failure degrades the
		// record, not the update.
		b.logger.Warn("digesting swapped output failed", "error", err)
		digest = ""
	}

	b.logger.Info("build output swapped in", "live", b.liveDir, "digest", digest)
	return &Output{LiveDir: b.liveDir, TreeDigest: digest}, nil
}

// runTool invokes the build command with the scratch directory
// exported through OutputDirEnv.
func (b *Builder) runTool(ctx context.Context, scratch string) error {
	result, err := b.exec.Run(ctx, proc.Command{
		Name:     b.tool,
		Args:     b.args,
		Dir:      b.workDir,
		ExtraEnv: map[string]string{OutputDirEnv: scratch},
		Timeout:  b.timeout,
		Observer: b.observer,
	})
	if err != nil {
		if proc.IsNotFound(err) {
			return fmt.Errorf("build tool %s not installed: %w", b.tool, err)
		}
		return fmt.Errorf("running build: %w", err)
	}
	if result.TimedOut {
		return fmt.Errorf("build timed out")
	}
	if !result.OK() {
		return fmt.Errorf("build exited %d", result.ExitCode)
	}
	return nil
}

// swap moves the previous live tree aside and renames the scratch
// tree into its place. If the second rename fails the previous tree
// is restored, so the live path is never left empty.
func (b *Builder) swap(scratch, attemptID string) error {
	backup := b.liveDir + ".bak-" + attemptID

	hadPrevious := true
	if err := os.Rename(b.liveDir, backup); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("moving previous output aside: %w", err)
		}
		hadPrevious = false
	}

	if err := os.Rename(scratch, b.liveDir); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backup, b.liveDir); restoreErr != nil {
				return fmt.Errorf("installing new output: %w (and restoring previous output failed: %v)",
					err, restoreErr)
			}
		}
		return fmt.Errorf("installing new output: %w", err)
	}

	if hadPrevious {
		if err := os.RemoveAll(backup); err != nil {
			// The new tree is live; a lingering backup only wastes disk.
			b.logger.Warn("removing previous output backup failed", "backup", backup, "error", err)
		}
	}
	return nil
}

// verifyOutput rejects a build that claimed success but wrote
// nothing, which would otherwise swap an empty tree over working
// output.
func verifyOutput(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("inspecting build output: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("build produced no output in %s", dir)
	}
	return nil
}
