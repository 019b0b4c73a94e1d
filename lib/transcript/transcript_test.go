// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestRing_CapsAndOrders(t *testing.T) {
	t.Parallel()

	ring := NewRing(3)
	for i := 1; i <= 5; i++ {
		ring.Append(fmt.Sprintf("line %d", i))
	}

	lines := ring.Lines()
	want := []string{"line 3", "line 4", "line 5"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
	if ring.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", ring.Dropped())
	}
}

func TestRing_LinesReturnsCopy(t *testing.T) {
	t.Parallel()

	ring := NewRing(3)
	ring.Append("a")
	lines := ring.Lines()
	lines[0] = "mutated"
	if ring.Lines()[0] != "a" {
		t.Fatal("Lines exposed internal storage")
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive, err := CreateArchive(dir, "test-attempt")
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	archive.WriteLine("fetching origin")
	archive.WriteLine("building into scratch")
	if err := archive.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(archive.Path())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	got := string(data)
	if !strings.Contains(got, "fetching origin") || !strings.Contains(got, "building into scratch") {
		t.Errorf("archive contents = %q, missing written lines", got)
	}
}
