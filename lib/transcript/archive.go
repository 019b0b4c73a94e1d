// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Archive is the complete transcript of one update attempt, streamed
// to a zstd-compressed file under the state directory. Write failures
// after creation are recorded and surfaced at Close rather than
// interrupting the attempt: the archive is a diagnostic artifact, not
// a correctness dependency.
type Archive struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	encoder  *zstd.Encoder
	writeErr error
}

// CreateArchive opens the archive file for an attempt. The parent
// directory is created if needed.
func CreateArchive(stateDir, attemptID string) (*Archive, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(stateDir, "attempt-"+attemptID+".log.zst")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating transcript archive: %w", err)
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("initializing zstd encoder: %w", err)
	}
	return &Archive{path: path, file: file, encoder: encoder}, nil
}

// Path returns the archive file path.
func (a *Archive) Path() string { return a.path }

// WriteLine appends one line to the archive. Best-effort: the first
// failure is retained and later returned by Close.
func (a *Archive) WriteLine(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writeErr != nil {
		return
	}
	if _, err := a.encoder.Write(append([]byte(line), '\n')); err != nil {
		a.writeErr = err
	}
}

// Close flushes and closes the archive, returning the first write
// error if any occurred.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	encodeErr := a.encoder.Close()
	closeErr := a.file.Close()
	switch {
	case a.writeErr != nil:
		return fmt.Errorf("writing transcript archive: %w", a.writeErr)
	case encodeErr != nil:
		return fmt.Errorf("flushing transcript archive: %w", encodeErr)
	case closeErr != nil:
		return fmt.Errorf("closing transcript archive: %w", closeErr)
	}
	return nil
}
