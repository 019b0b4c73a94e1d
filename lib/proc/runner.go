// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout bounds a subprocess when the caller does not set one.
// Generous because dependency installs and builds legitimately run for
// minutes.
const DefaultTimeout = 10 * time.Minute

// DefaultGracePeriod is the wait between SIGTERM and SIGKILL when a
// timed-out process group is being reclaimed.
const DefaultGracePeriod = 3 * time.Second

// Observer receives each combined-output line as it is produced, for
// live progress reporting. Called from the runner's streaming
// goroutine; implementations must be safe for that.
type Observer func(line string)

// Command describes a single subprocess invocation.
type Command struct {
	// Name is the tool name (e.g., "git"); resolved via ResolveTool.
	Name string

	// Args is the argv tail, passed as a discrete list.
	Args []string

	// Dir is the working directory. Empty means the parent's.
	Dir string

	// ExtraEnv is added to the constructed minimal environment.
	// Variables in blockedEnv are silently dropped.
	ExtraEnv map[string]string

	// Timeout bounds the whole invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	// Observer, when set, receives each output line as it streams.
	Observer Observer
}

// Result is the outcome of a subprocess that was successfully started.
type Result struct {
	// ExitCode is the process exit status. -1 when the process was
	// terminated by a signal (including timeout reclamation).
	ExitCode int

	// TimedOut distinguishes "killed because the deadline passed"
	// from "ran to completion and failed".
	TimedOut bool

	// Transcript is the full combined stdout+stderr output.
	Transcript string
}

// OK reports whether the process ran to completion with exit code 0.
func (r *Result) OK() bool { return !r.TimedOut && r.ExitCode == 0 }

// Executor runs commands. Production code uses Runner; tests stub this
// to script tool behavior without real subprocesses.
type Executor interface {
	Run(ctx context.Context, command Command) (*Result, error)
}

// Runner is the production Executor.
type Runner struct {
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration

	logger *slog.Logger
}

// NewRunner returns a Runner logging command starts and terminations
// to logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// IsNotFound reports whether err from Run indicates the tool binary
// itself was absent, as opposed to the tool starting and failing.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

// Run executes the command and waits for completion or timeout. The
// returned error is non-nil only when the process could not be
// started (missing tool, pipe failure) or the context was canceled;
// a process that ran and failed is reported through Result.ExitCode.
func (r *Runner) Run(ctx context.Context, command Command) (*Result, error) {
	timeout := command.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	path := ResolveTool(command.Name)
	child := exec.Command(path, command.Args...)
	child.Dir = command.Dir
	child.Env = childEnv(command.ExtraEnv)
	// New process group so timeout reclamation reaches descendants.
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	child.Stdout = writeEnd
	child.Stderr = writeEnd

	if err := child.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("starting %s: %w", command.Name, err)
	}
	// The child holds its own copy of the write end; close ours so the
	// read side sees EOF when the whole process group is done writing.
	writeEnd.Close()

	r.logger.Debug("subprocess started",
		"tool", command.Name, "path", path, "pid", child.Process.Pid)

	var lines []string
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer readEnd.Close()
		scanner := bufio.NewScanner(readEnd)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			lines = append(lines, line)
			if command.Observer != nil {
				command.Observer(line)
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- child.Wait() }()

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-time.After(timeout):
		timedOut = true
		r.logger.Warn("subprocess timed out, terminating process group",
			"tool", command.Name, "pid", child.Process.Pid, "timeout", timeout)
		waitErr = r.terminateGroup(child, waitDone, grace)
	case <-ctx.Done():
		r.terminateGroup(child, waitDone, grace)
		<-streamDone
		return nil, ctx.Err()
	}

	<-streamDone

	result := &Result{
		ExitCode:   exitCode(waitErr),
		TimedOut:   timedOut,
		Transcript: strings.Join(lines, "\n"),
	}
	return result, nil
}

// terminateGroup sends SIGTERM to the child's process group, waits up
// to grace for a clean exit, then sends SIGKILL to the group. Returns
// the child's wait error.
func (r *Runner) terminateGroup(child *exec.Cmd, waitDone <-chan error, grace time.Duration) error {
	// Negative pid addresses the whole group.
	group := -child.Process.Pid
	unix.Kill(group, unix.SIGTERM)

	select {
	case err := <-waitDone:
		return err
	case <-time.After(grace):
	}

	unix.Kill(group, unix.SIGKILL)
	return <-waitDone
}

// exitCode extracts the exit status from a Wait error. nil means 0;
// signal-terminated processes report -1.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
