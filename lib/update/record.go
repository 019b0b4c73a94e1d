// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/halyard-systems/halyard/lib/codec"
)

// recordFilename is the last-attempt record inside the state
// directory. Each attempt overwrites it; history lives in the
// per-attempt transcript archives.
const recordFilename = "last-attempt.cbor"

// Record is the persisted summary of one update attempt. It survives
// process restarts so diagnostics can report the last outcome without
// replaying logs.
type Record struct {
	// AttemptID is the attempt's unique ID.
	AttemptID string `cbor:"attempt_id"`

	// StartedAt and FinishedAt bound the attempt.
	StartedAt  time.Time `cbor:"started_at"`
	FinishedAt time.Time `cbor:"finished_at"`

	// Success reports whether the attempt completed (restart
	// scheduled).
	Success bool `cbor:"success"`

	// Step is the terminal step, completed or failed.
	Step Step `cbor:"step"`

	// FailureKind classifies a failed attempt; empty on success.
	FailureKind Kind `cbor:"failure_kind,omitempty"`

	// Message is the operator-facing outcome one-liner.
	Message string `cbor:"message"`

	// PreviousCommit is the commit the tree was on before the attempt;
	// empty when it never got that far.
	PreviousCommit string `cbor:"previous_commit,omitempty"`

	// NewCommit is the verified commit the attempt adopted (or tried
	// to).
	NewCommit string `cbor:"new_commit,omitempty"`

	// OutputDigest is the keyed tree digest of the swapped-in output;
	// empty when no swap happened.
	OutputDigest string `cbor:"output_digest,omitempty"`

	// InstallStrategy names the dependency install strategy that
	// succeeded.
	InstallStrategy string `cbor:"install_strategy,omitempty"`

	// Mirror names the mirror the fetch used.
	Mirror string `cbor:"mirror,omitempty"`

	// RolledBack reports whether the attempt restored the previous
	// commit after a failure.
	RolledBack bool `cbor:"rolled_back,omitempty"`
}

// writeRecord persists the record atomically: temporary file in the
// same directory, then rename.
func writeRecord(stateDir string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding attempt record: %w", err)
	}

	path := filepath.Join(stateDir, recordFilename)
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, 0o600); err != nil {
		return fmt.Errorf("writing attempt record: %w", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("installing attempt record: %w", err)
	}
	return nil
}

// ReadLastRecord loads the most recent attempt record from the state
// directory. A missing record returns an error wrapping
// os.ErrNotExist.
func ReadLastRecord(stateDir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, recordFilename))
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decoding attempt record: %w", err)
	}
	return record, nil
}
