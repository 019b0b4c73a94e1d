// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript holds the update attempt's output: a capped
// in-memory ring of recent log lines for the progress sink, and a
// zstd-compressed on-disk archive of the complete subprocess
// transcript for post-mortem inspection.
package transcript

import "sync"

// DefaultRingCapacity caps the lines kept in memory per attempt. High
// enough that a normal attempt keeps everything; a chatty build drops
// its oldest lines rather than growing without bound.
const DefaultRingCapacity = 500

// Ring is a capped, ordered log line buffer. Safe for concurrent use:
// the process runner's streaming goroutine appends while the progress
// sink reads.
type Ring struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	dropped  int
}

// NewRing returns a Ring with the given capacity; non-positive means
// DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{capacity: capacity}
}

// Append adds a line, evicting the oldest when full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == r.capacity {
		copy(r.lines, r.lines[1:])
		r.lines[len(r.lines)-1] = line
		r.dropped++
		return
	}
	r.lines = append(r.lines, line)
}

// Lines returns a copy of the retained lines in order.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Dropped returns how many lines were evicted.
func (r *Ring) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
