// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halyard-systems/halyard/lib/transcript"
)

// Step is the coarse pipeline phase an attempt is in. Steps are
// stable strings for the same reason failure kinds are: they appear
// in records and progress output.
type Step string

const (
	// StepDetecting: validating the target and probing mirrors.
	StepDetecting Step = "detecting"

	// StepPulling: fetching, verifying and checking out the new
	// commit.
	StepPulling Step = "pulling"

	// StepBuilding: installing dependencies and building output.
	StepBuilding Step = "building"

	// StepRestarting: scheduling the service onto the new output.
	StepRestarting Step = "restarting"

	// StepCompleted: terminal success. The restart is scheduled; the
	// service bounces shortly after.
	StepCompleted Step = "completed"

	// StepFailed: terminal failure. Rollback, where applicable, has
	// already run.
	StepFailed Step = "failed"
)

// Progress receives live attempt output: every transcript line, tagged
// with the step that produced it. Called from subprocess streaming
// goroutines; implementations must be safe for that.
type Progress func(step Step, line string)

// Attempt is one update run's identity and live state: a unique ID,
// the current step, and the output transcript (bounded in memory,
// complete on disk).
type Attempt struct {
	// ID uniquely names this attempt. It keys the scratch and backup
	// directory suffixes and the transcript archive filename.
	ID string

	// StartedAt is when the attempt began.
	StartedAt time.Time

	ring     *transcript.Ring
	archive  *transcript.Archive
	progress Progress

	mu   sync.Mutex
	step Step
}

// newAttempt creates an Attempt with a fresh ID and, when stateDir is
// non-empty, a transcript archive on disk. Archive creation failure is
// not fatal: the failure is noted in the transcript and the in-memory
// ring still captures recent output.
func newAttempt(stateDir string, startedAt time.Time, progress Progress) *Attempt {
	attempt := &Attempt{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
		ring:      transcript.NewRing(transcript.DefaultRingCapacity),
		progress:  progress,
		step:      StepDetecting,
	}
	if stateDir != "" {
		archive, err := transcript.CreateArchive(stateDir, attempt.ID)
		if err != nil {
			attempt.logf("transcript archive unavailable: %v", err)
		} else {
			attempt.archive = archive
		}
	}
	return attempt
}

// Step returns the attempt's current step.
func (a *Attempt) Step() Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

// setStep advances the attempt to a new step and emits a marker line
// into the transcript so archived logs show phase boundaries.
func (a *Attempt) setStep(step Step) {
	a.mu.Lock()
	a.step = step
	a.mu.Unlock()
	a.logf("=== %s ===", step)
}

// observe records one transcript line and forwards it to the progress
// callback.
func (a *Attempt) observe(line string) {
	a.ring.Append(line)
	if a.archive != nil {
		a.archive.WriteLine(line)
	}
	if a.progress != nil {
		a.progress(a.Step(), line)
	}
}

// logf records a formatted pipeline-level line in the transcript.
func (a *Attempt) logf(format string, args ...any) {
	a.observe(fmt.Sprintf(format, args...))
}

// Lines returns the retained tail of the transcript.
func (a *Attempt) Lines() []string {
	return a.ring.Lines()
}

// finish moves the attempt to its terminal step and closes the
// archive. The terminal marker is written unconditionally so an
// archive never ends mid-phase.
func (a *Attempt) finish(terminal Step) {
	a.setStep(terminal)
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			// The ring still holds the tail; losing the archive is a
			// diagnostics gap, not a pipeline failure.
			a.ring.Append(fmt.Sprintf("closing transcript archive failed: %v", err))
		}
	}
}

// ArchivePath returns the on-disk transcript location, or "" when no
// archive was created.
func (a *Attempt) ArchivePath() string {
	if a.archive == nil {
		return ""
	}
	return a.archive.Path()
}
