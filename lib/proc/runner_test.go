// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func testRunner() *Runner {
	runner := NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	runner.GracePeriod = 200 * time.Millisecond
	return runner
}

func TestRunner_StreamsAndBuffers(t *testing.T) {
	t.Parallel()

	var streamed []string
	result, err := testRunner().Run(context.Background(), Command{
		Name:     "sh",
		Args:     []string{"-c", "echo one; echo two 1>&2; echo three"},
		Timeout:  10 * time.Second,
		Observer: func(line string) { streamed = append(streamed, line) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.OK() {
		t.Fatalf("result = %+v, want success", result)
	}

	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(result.Transcript, want) {
			t.Errorf("transcript %q missing %q", result.Transcript, want)
		}
	}
	if len(streamed) != 3 {
		t.Errorf("observer saw %d lines, want 3: %v", len(streamed), streamed)
	}
}

func TestRunner_ExitCodeReported(t *testing.T) {
	t.Parallel()

	result, err := testRunner().Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "exit 3"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("TimedOut = true for a process that exited on its own")
	}
}

func TestRunner_ToolMissing(t *testing.T) {
	t.Parallel()

	_, err := testRunner().Run(context.Background(), Command{
		Name:    "halyard-no-such-tool-xyz",
		Timeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected error for missing tool")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestRunner_TimeoutDistinguishedFromFailure(t *testing.T) {
	t.Parallel()

	start := time.Now()
	result, err := testRunner().Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", `trap "" TERM; sleep 30`},
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("reclamation took %v, want well under the 30s sleep", elapsed)
	}
}

func TestRunner_TimeoutReclaimsDescendants(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	result, err := testRunner().Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 60 & echo $! > " + pidFile + "; wait"},
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading grandchild pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing grandchild pid %q: %v", data, err)
	}

	// The grandchild was in the killed process group; give the kernel
	// a moment to deliver the signal and reap.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unix.Kill(pid, 0) != nil {
			return // gone
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("grandchild pid %d still alive after timeout reclamation", pid)
}

func TestResolveTool_StandardLocation(t *testing.T) {
	t.Parallel()

	path := ResolveTool("sh")
	if !filepath.IsAbs(path) {
		t.Fatalf("ResolveTool(sh) = %q, want absolute path", path)
	}
	if filepath.Base(path) != "sh" {
		t.Errorf("ResolveTool(sh) = %q, want basename sh", path)
	}
}

func TestResolveTool_UnknownFallsBackToBareName(t *testing.T) {
	t.Parallel()

	if got := ResolveTool("halyard-no-such-tool-xyz"); got != "halyard-no-such-tool-xyz" {
		t.Errorf("ResolveTool = %q, want bare name", got)
	}
}

func TestChildEnv_MinimalAndBlocked(t *testing.T) {
	t.Parallel()

	env := childEnv(map[string]string{
		"GNUPGHOME": "/tmp/trust",
		"GIT_DIR":   "/evil/repo",
	})

	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "PATH=") {
		t.Error("constructed env missing PATH")
	}
	if !strings.Contains(joined, "GNUPGHOME=/tmp/trust") {
		t.Error("constructed env missing caller extra variable")
	}
	if strings.Contains(joined, "GIT_DIR") {
		t.Error("blocked GIT_DIR leaked into child env")
	}
}
