// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type sampleRecord struct {
	ID       string    `cbor:"id"`
	Step     string    `cbor:"step"`
	Success  bool      `cbor:"success"`
	Finished time.Time `cbor:"finished"`
}

func TestMarshal_Deterministic(t *testing.T) {
	t.Parallel()

	record := sampleRecord{
		ID:       "0b6f1c1e",
		Step:     "completed",
		Success:  true,
		Finished: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same record produced different bytes")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	in := sampleRecord{ID: "abc", Step: "failed", Success: false}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sampleRecord
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Step != in.Step || out.Success != in.Success {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestUnmarshal_AnyTargetUsesStringKeys(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"step": "building"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", out)
	}
	if m["step"] != "building" {
		t.Errorf("m[step] = %v, want building", m["step"])
	}
}
