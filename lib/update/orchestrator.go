// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package update orchestrates the self-update pipeline: detect new
// code on a signed mirror, verify it, rebuild, swap the output
// atomically, and bounce the supervised service — rolling the working
// tree back to its previous commit when any post-checkout stage
// fails.
//
// One attempt runs at a time, enforced in-process and across
// processes by the Coordinator. An attempt moves through coarse steps
// (detecting, pulling, building, restarting) and always terminates in
// completed or failed; every subprocess line it produces is retained
// in a bounded in-memory ring and archived compressed on disk.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/halyard-systems/halyard/lib/build"
	"github.com/halyard-systems/halyard/lib/clock"
	"github.com/halyard-systems/halyard/lib/lockfile"
	"github.com/halyard-systems/halyard/lib/mirror"
	"github.com/halyard-systems/halyard/lib/proc"
	"github.com/halyard-systems/halyard/lib/signature"
	"github.com/halyard-systems/halyard/lib/watchdog"
)

// Stage interfaces. Production code wires the concrete types from
// lib/gitrepo, lib/signature, lib/deps, lib/build and lib/mirror;
// tests substitute scripted implementations.

type repository interface {
	IsRepository(ctx context.Context) bool
	EnsureRemote(ctx context.Context, url string) error
	CurrentCommit(ctx context.Context) (string, error)
	DiscardLocalChanges(ctx context.Context) error
	Fetch(ctx context.Context) error
	FetchedTip(ctx context.Context) (string, error)
	CheckoutCommit(ctx context.Context, hash string) error
}

type commitVerifier interface {
	VerifyCommit(ctx context.Context, hash string) (*signature.Verification, error)
}

type depInstaller interface {
	Install(ctx context.Context) (string, error)
	Purge() error
}

type artifactBuilder interface {
	Build(ctx context.Context, attemptID string) (*build.Output, error)
}

type mirrorSelector interface {
	Select(ctx context.Context) (mirror.Candidate, bool)
}

type restartScheduler interface {
	Schedule(state watchdog.State, done func()) error
}

// Options assembles an Updater from its concrete components.
type Options struct {
	// TargetDir is the managed working tree.
	TargetDir string

	// StateDir holds attempt records and transcript archives.
	StateDir string

	// Component names what is being updated in watchdog state and
	// logs. Default: "plugin".
	Component string

	// Coordinator enforces the single-attempt invariant. Required.
	Coordinator *Coordinator

	// Repository, Verifier, Installer, Builder, Selector and Scheduler
	// are the pipeline stages. All required.
	Repository repository
	Verifier   commitVerifier
	Installer  depInstaller
	Builder    artifactBuilder
	Selector   mirrorSelector
	Scheduler  restartScheduler

	// Clock stamps attempts and records. Required.
	Clock clock.Clock

	// Logger records pipeline progress. Required.
	Logger *slog.Logger
}

// Updater runs update attempts against one target.
type Updater struct {
	targetDir   string
	stateDir    string
	component   string
	coordinator *Coordinator
	repo        repository
	verifier    commitVerifier
	installer   depInstaller
	builder     artifactBuilder
	selector    mirrorSelector
	scheduler   restartScheduler
	clk         clock.Clock
	logger      *slog.Logger

	// current exposes the running attempt to concurrent Info calls
	// without taking the coordinator's mutex.
	current atomic.Pointer[Attempt]
}

// New returns an Updater.
func New(options Options) *Updater {
	component := options.Component
	if component == "" {
		component = "plugin"
	}
	return &Updater{
		targetDir:   options.TargetDir,
		stateDir:    options.StateDir,
		component:   component,
		coordinator: options.Coordinator,
		repo:        options.Repository,
		verifier:    options.Verifier,
		installer:   options.Installer,
		builder:     options.Builder,
		selector:    options.Selector,
		scheduler:   options.Scheduler,
		clk:         options.Clock,
		logger:      options.Logger,
	}
}

// Result is the outcome of one update attempt.
type Result struct {
	// AttemptID identifies the attempt; empty when the attempt was
	// rejected before starting (busy lock, invalid target).
	AttemptID string

	// Success reports whether the attempt completed. Completed means
	// the service restart was scheduled (or the tree was already up to
	// date); the actual bounce happens shortly after.
	Success bool

	// Step is the terminal step.
	Step Step

	// Message is the operator-facing outcome one-liner.
	Message string

	// Logs is the retained tail of the attempt transcript.
	Logs []string

	// ArchivePath is the on-disk compressed transcript, when one was
	// written.
	ArchivePath string

	// Path is the managed working tree the attempt targeted.
	Path string

	// Failure classifies a failed attempt; nil on success.
	Failure *Failure

	// PreviousCommit, NewCommit and OutputDigest describe what the
	// attempt moved between, where known.
	PreviousCommit string
	NewCommit      string
	OutputDigest   string
}

// Run executes one update attempt. It never panics the caller with an
// error return: every outcome, including rejection, is a Result.
// progress may be nil.
func (u *Updater) Run(ctx context.Context, progress Progress) *Result {
	if info, err := os.Stat(u.targetDir); err != nil || !info.IsDir() {
		return u.rejected(fail(KindPathInvalid,
			fmt.Sprintf("target %s is not a directory", u.targetDir), err))
	}

	if err := u.coordinator.Begin(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return u.rejected(fail(KindLockBusy,
				"another update attempt is already running", err))
		}
		return u.rejected(fail(KindLockBusy,
			"acquiring the update lock failed", err))
	}

	attempt := newAttempt(u.stateDir, u.clk.Now(), progress)
	u.current.Store(attempt)
	defer u.current.Store(nil)

	record, failure, handedOff := u.pipeline(ctx, attempt)
	if !handedOff {
		// On success the lock is released by the scheduled reload;
		// everything else releases it here.
		if err := u.coordinator.Release(); err != nil {
			u.logger.Warn("releasing update lock failed", "error", err)
		}
	}

	terminal := StepCompleted
	if failure != nil {
		terminal = StepFailed
		record.FailureKind = failure.Kind
		record.Message = failure.Message
		attempt.logf("attempt failed: %v", failure)
	}
	attempt.finish(terminal)

	record.AttemptID = attempt.ID
	record.StartedAt = attempt.StartedAt
	record.FinishedAt = u.clk.Now()
	record.Success = failure == nil
	record.Step = terminal
	if err := writeRecord(u.stateDir, record); err != nil {
		u.logger.Warn("persisting attempt record failed", "error", err)
	}

	result := &Result{
		AttemptID:      attempt.ID,
		Path:           u.targetDir,
		Success:        failure == nil,
		Step:           terminal,
		Message:        record.Message,
		Logs:           attempt.Lines(),
		ArchivePath:    attempt.ArchivePath(),
		Failure:        failure,
		PreviousCommit: record.PreviousCommit,
		NewCommit:      record.NewCommit,
		OutputDigest:   record.OutputDigest,
	}
	u.logger.Info("update attempt finished",
		"attempt", attempt.ID, "step", terminal, "message", record.Message)
	return result
}

// Observe forwards one line of subprocess output into the running
// attempt's transcript and progress sink. The stage components are
// constructed with this as their proc.Observer, so everything git,
// gpg, the package manager and the build tool print lands in the ring,
// the archive and the progress callback. Lines arriving when no
// attempt is active are dropped.
func (u *Updater) Observe(line string) {
	if attempt := u.current.Load(); attempt != nil {
		attempt.observe(line)
	}
}

// pipeline runs the stages against an acquired attempt. It returns
// the partially filled record, the failure (nil on success), and
// whether lock release was handed to the restart scheduler.
func (u *Updater) pipeline(ctx context.Context, attempt *Attempt) (Record, *Failure, bool) {
	var record Record

	// Detecting: validate the tree, pick a mirror, resolve the commit
	// to fall back to.
	attempt.setStep(StepDetecting)
	if !u.repo.IsRepository(ctx) {
		return record, fail(KindPathInvalid,
			fmt.Sprintf("target %s is not a git working tree", u.targetDir), nil), false
	}

	selected, reachable := u.selector.Select(ctx)
	record.Mirror = selected.Name
	if !reachable {
		// Not fatal: the probe measures a moment in time. The fetch
		// below is the authoritative connectivity check.
		attempt.logf("no mirror answered its probe, trying %s anyway", selected.Name)
	}
	if err := u.repo.EnsureRemote(ctx, selected.CloneURL); err != nil {
		return record, classifyGitFailure("pointing remote at mirror", err), false
	}

	backup, err := u.repo.CurrentCommit(ctx)
	if err != nil {
		// Without a known-good commit there is nothing to roll back
		// to; abort before touching the tree.
		return record, classifyGitFailure("resolving current commit", err), false
	}
	record.PreviousCommit = backup
	attempt.logf("current commit %s, fetching from %s", backup, selected.Name)

	// Pulling: bring the tree to the verified remote tip.
	attempt.setStep(StepPulling)
	if err := u.repo.DiscardLocalChanges(ctx); err != nil {
		return record, classifyGitFailure("discarding local changes", err), false
	}
	if err := u.repo.Fetch(ctx); err != nil {
		return record, classifyGitFailure("fetching from "+selected.Name, err), false
	}
	tip, err := u.repo.FetchedTip(ctx)
	if err != nil {
		return record, classifyGitFailure("resolving fetched tip", err), false
	}
	record.NewCommit = tip

	if tip == backup {
		record.Message = "already up to date at " + backup
		attempt.logf("%s", record.Message)
		return record, nil, false
	}

	// The tip is verified before anything is checked out, so an
	// unsigned or forged commit never reaches the working tree.
	verification, err := u.verifier.VerifyCommit(ctx, tip)
	if err != nil {
		return record, fail(KindSignatureRejected,
			fmt.Sprintf("commit %s rejected", tip), err), false
	}
	attempt.logf("commit %s signed by trusted key %s", tip, verification.TrustedFingerprint)

	if err := u.repo.CheckoutCommit(ctx, tip); err != nil {
		failure := classifyGitFailure("checking out "+tip, err)
		record.RolledBack = u.rollback(ctx, attempt, backup)
		return record, failure, false
	}

	// Building: dependencies, then the atomic output swap.
	attempt.setStep(StepBuilding)
	strategy, err := u.installer.Install(ctx)
	if err != nil {
		failure := fail(KindInstallFailure, "installing dependencies failed", err)
		if proc.IsNotFound(err) {
			failure = fail(KindToolMissing, "package manager not installed", err)
		}
		record.RolledBack = u.rollback(ctx, attempt, backup)
		return record, failure, false
	}
	record.InstallStrategy = strategy

	output, err := u.builder.Build(ctx, attempt.ID)
	if err != nil {
		failure := fail(KindBuildFailure, "building output failed", err)
		if proc.IsNotFound(err) {
			failure = fail(KindToolMissing, "build tool not installed", err)
		}
		record.RolledBack = u.rollback(ctx, attempt, backup)
		return record, failure, false
	}
	record.OutputDigest = output.TreeDigest

	// Restarting: hand the service the new output. The lock travels
	// with the scheduled reload.
	attempt.setStep(StepRestarting)
	err = u.scheduler.Schedule(watchdog.State{
		Component:      u.component,
		PreviousCommit: backup,
		NewCommit:      tip,
		OutputDigest:   output.TreeDigest,
		Timestamp:      u.clk.Now(),
	}, func() {
		if err := u.coordinator.Release(); err != nil {
			u.logger.Warn("releasing update lock after reload failed", "error", err)
		}
	})
	if err != nil {
		// The swap already happened; rolling the tree back now would
		// desync it from the live output. Leave the new version in
		// place and tell the operator the bounce is theirs.
		return record, fail(KindRestartFailure,
			"new output is live but the service restart could not be scheduled", err), false
	}

	record.Message = fmt.Sprintf("updated %s -> %s, restart scheduled", backup, tip)
	return record, nil, true
}

// classifyGitFailure separates "git is not installed" from ordinary
// repository failures.
func classifyGitFailure(action string, err error) *Failure {
	if proc.IsNotFound(err) {
		return fail(KindToolMissing, "git not installed", err)
	}
	return fail(KindSyncFailure, action+" failed", err)
}

// rejected builds the Result for an attempt that never started.
func (u *Updater) rejected(failure *Failure) *Result {
	return &Result{
		Step:    StepFailed,
		Message: failure.Message,
		Path:    u.targetDir,
		Failure: failure,
	}
}
