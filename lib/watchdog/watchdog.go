// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records an in-flight version transition so the
// outcome can be reported after the service bounces. Just before the
// reload is scheduled, the updater writes a state file naming the
// commit it left, the commit it adopted, and the digest of the swapped
// output. Whichever process comes up next reads that file back via
// Check: a live output matching State.OutputDigest means the update
// landed, while coming up on the previous output means the supervisor
// fell back. Either way the transition is reported and the file
// Cleared. Check ignores files older than its maxAge, so a state file
// abandoned by some unrelated earlier restart never misreports.
//
// The state file is replaced atomically (temporary file, fsync,
// rename, parent directory sync): a reader sees the whole state or
// nothing, even across power loss.
package watchdog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State records the context of a version transition. Written before
// the restart is scheduled and read after startup to determine the
// outcome.
type State struct {
	// Component identifies what is being updated (e.g., "plugin").
	// Used for logging and diagnostics.
	Component string `json:"component"`

	// PreviousCommit is the commit hash the working tree was on before
	// the transition. When the service comes back up serving output
	// built from this commit, the transition failed and was rolled
	// back.
	PreviousCommit string `json:"previous_commit"`

	// NewCommit is the verified commit hash being transitioned to.
	NewCommit string `json:"new_commit"`

	// OutputDigest is the keyed tree digest of the freshly swapped
	// build output. A startup probe comparing the live output against
	// this digest confirms the transition landed.
	OutputDigest string `json:"output_digest,omitempty"`

	// Timestamp is when the transition was initiated. Used by Check to
	// discard stale watchdog files from previous unrelated restarts.
	Timestamp time.Time `json:"timestamp"`
}

// Write replaces the state file at path atomically: the state is
// written to a temporary file in the same directory, fsynced, then
// renamed into place. The file carries mode 0600; the parent directory
// must already exist.
func Write(path string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}

	// Any failure past this point removes the temporary file and
	// reports the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	// The rename is only durable once the parent directory's metadata
	// reaches disk.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Read loads and parses the state file at path. A missing file returns
// an error satisfying errors.Is(err, os.ErrNotExist).
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog file %s: %w", path, err)
	}
	return state, nil
}

// Check reports whether a relevant transition is on record: it returns
// the state and true when the file exists and its Timestamp is within
// maxAge of now, and a zero State and false when the file is missing
// or too old. Errors other than absence (permission denied, corrupt
// JSON) are returned so callers can tell "no watchdog" apart from
// "watchdog present but unreadable".
func Check(path string, maxAge time.Duration) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, err
	}

	if time.Since(state.Timestamp) > maxAge {
		return State{}, false, nil
	}

	return state, true, nil
}

// Clear removes the state file. Idempotent: a file that is already
// gone is success.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
