// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halyard-systems/halyard/lib/clock"
	"github.com/halyard-systems/halyard/lib/fallback"
	"github.com/halyard-systems/halyard/lib/proc"
	"github.com/halyard-systems/halyard/lib/watchdog"
)

// DefaultReloadDelay is how long after a successful swap the service
// reload fires when the configuration does not set one. The delay
// lets the attempt report success and persist its record before the
// service bounces.
const DefaultReloadDelay = 2 * time.Second

// reloadTimeout bounds the supervisor control call once the timer
// fires.
const reloadTimeout = time.Minute

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Tool is the supervisor control binary, typically systemctl.
	// Required.
	Tool string

	// Unit is the service unit to reload. Required.
	Unit string

	// WatchdogPath is where the transition state file is written
	// before the reload fires. Empty disables the watchdog.
	WatchdogPath string

	// Delay is how long after scheduling the reload fires. Zero means
	// DefaultReloadDelay.
	Delay time.Duration

	// Clock drives the delay timer. Required.
	Clock clock.Clock

	// Logger records scheduling and reload outcomes. Required.
	Logger *slog.Logger
}

// Scheduler restarts the supervised service onto freshly swapped
// output. The restart is deferred: Schedule returns as soon as the
// timer is armed, and the actual supervisor call happens later in its
// own goroutine. A gentle reload is tried before a full restart.
type Scheduler struct {
	exec         proc.Executor
	tool         string
	unit         string
	watchdogPath string
	delay        time.Duration
	clk          clock.Clock
	logger       *slog.Logger
}

// NewScheduler returns a Scheduler.
func NewScheduler(executor proc.Executor, options SchedulerOptions) *Scheduler {
	delay := options.Delay
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &Scheduler{
		exec:         executor,
		tool:         options.Tool,
		unit:         options.Unit,
		watchdogPath: options.WatchdogPath,
		delay:        delay,
		clk:          options.Clock,
		logger:       options.Logger,
	}
}

// Schedule writes the transition watchdog and arms the reload timer.
// done is called exactly once after the reload attempt finishes,
// whatever its outcome — callers use it to release the update lock,
// which must stay held until the service has actually been bounced
// (or the bounce has failed) so an overlapping attempt cannot rebuild
// mid-restart.
func (s *Scheduler) Schedule(state watchdog.State, done func()) error {
	if s.tool == "" || s.unit == "" {
		return fmt.Errorf("supervisor tool and unit must be configured")
	}

	if s.watchdogPath != "" {
		if err := watchdog.Write(s.watchdogPath, state); err != nil {
			// The restart still proceeds; only the post-restart outcome
			// probe degrades.
			s.logger.Warn("writing transition watchdog failed", "error", err)
		}
	}

	s.clk.AfterFunc(s.delay, func() {
		defer done()
		s.reload()
	})
	s.logger.Info("service reload scheduled", "unit", s.unit, "delay", s.delay)
	return nil
}

// reload runs the supervisor control call, preferring a reload over a
// full restart.
func (s *Scheduler) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	winner, err := fallback.Attempt(ctx, func(format string, args ...any) {
		s.logger.Warn("reload strategy failed", "unit", s.unit,
			"detail", fmt.Sprintf(format, args...))
	}, []fallback.Strategy{
		{Name: "reload-or-restart", Run: func(ctx context.Context) error {
			return s.control(ctx, "reload-or-restart")
		}},
		{Name: "restart", Run: func(ctx context.Context) error {
			return s.control(ctx, "restart")
		}},
	})
	if err != nil {
		// The new output is live on disk; only the bounce failed. The
		// operator restarts by hand, guided by this log line.
		s.logger.Error("service reload failed, output is live but service was not bounced",
			"unit", s.unit, "error", err)
		return
	}
	s.logger.Info("service reloaded", "unit", s.unit, "strategy", winner)
}

// control invokes one supervisor subcommand against the unit.
func (s *Scheduler) control(ctx context.Context, subcommand string) error {
	result, err := s.exec.Run(ctx, proc.Command{
		Name:    s.tool,
		Args:    []string{subcommand, s.unit},
		Timeout: reloadTimeout,
	})
	if err != nil {
		if proc.IsNotFound(err) {
			return fmt.Errorf("%s not installed: %w", s.tool, err)
		}
		return err
	}
	if !result.OK() {
		return fmt.Errorf("%s %s %s exited %d", s.tool, subcommand, s.unit, result.ExitCode)
	}
	return nil
}
