// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleState() State {
	return State{
		Component:      "plugin",
		PreviousCommit: "1111111111111111111111111111111111111111",
		NewCommit:      "2222222222222222222222222222222222222222",
		OutputDigest:   "feedface",
		Timestamp:      time.Now(),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	want := sampleState()
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Component != want.Component ||
		got.PreviousCommit != want.PreviousCommit ||
		got.NewCommit != want.NewCommit ||
		got.OutputDigest != want.OutputDigest {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
}

func TestWrite_FilePermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	if err := Write(path, sampleState()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("mode = %o, want 0600", got)
	}
}

func TestWrite_LeavesNoTemporaryFile(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	path := filepath.Join(directory, "update.json")
	if err := Write(path, sampleState()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temporary file %q left behind", entry.Name())
		}
	}
}

func TestWrite_ReplacesExistingState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	first := sampleState()
	if err := Write(path, first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.NewCommit = "3333333333333333333333333333333333333333"
	if err := Write(path, second); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.NewCommit != second.NewCommit {
		t.Errorf("NewCommit = %q, want replacement %q", got.NewCommit, second.NewCommit)
	}
}

func TestRead_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestRead_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read accepted corrupt state")
	}
}

func TestCheck_FreshState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	if err := Write(path, sampleState()); err != nil {
		t.Fatal(err)
	}

	state, relevant, err := Check(path, time.Hour)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !relevant {
		t.Fatal("fresh state reported as irrelevant")
	}
	if state.Component != "plugin" {
		t.Errorf("Component = %q", state.Component)
	}
}

func TestCheck_StaleState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	stale := sampleState()
	stale.Timestamp = time.Now().Add(-2 * time.Hour)
	if err := Write(path, stale); err != nil {
		t.Fatal(err)
	}

	_, relevant, err := Check(path, time.Hour)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if relevant {
		t.Error("stale state reported as relevant")
	}
}

func TestCheck_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	_, relevant, err := Check(filepath.Join(t.TempDir(), "absent.json"), time.Hour)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if relevant {
		t.Error("missing file reported as relevant")
	}
}

func TestCheck_CorruptFileSurfacesError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Check(path, time.Hour); err == nil {
		t.Fatal("Check swallowed a corrupt state file")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.json")
	if err := Write(path, sampleState()); err != nil {
		t.Fatal(err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("state file still present after Clear")
	}
	// Idempotent.
	if err := Clear(path); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}
