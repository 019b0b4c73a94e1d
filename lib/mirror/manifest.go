// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// LoadManifest reads a mirror candidate list from a JSONC file
// (JSON with comments and trailing commas, so the manifest can
// document why each mirror exists). The manifest replaces the
// compiled-in default list entirely; ordering in the file is the base
// order used when probing is inconclusive.
func LoadManifest(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mirror manifest: %w", err)
	}

	var candidates []Candidate
	if err := json.Unmarshal(jsonc.ToJSON(data), &candidates); err != nil {
		return nil, fmt.Errorf("parsing mirror manifest %s: %w", path, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("mirror manifest %s lists no candidates", path)
	}
	for i, candidate := range candidates {
		if candidate.Name == "" || candidate.CloneURL == "" || candidate.ProbeURL == "" {
			return nil, fmt.Errorf("mirror manifest %s: entry %d missing name, clone_url, or probe_url", path, i)
		}
	}
	return candidates, nil
}
