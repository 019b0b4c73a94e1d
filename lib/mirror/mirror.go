// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package mirror ranks candidate source mirrors for the update fetch.
// Each candidate is probed with a short-timeout HTTP request; measured
// round-trip time and a coarse network-region classification bias the
// order, and the first reachable candidate wins. Selection never
// blocks the pipeline: when every probe fails the base-order first
// candidate is returned and real connectivity failures surface at the
// fetch stage, where they carry a proper transcript.
package mirror

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe. Probes are
// advisory; a mirror that cannot answer in two seconds is not a mirror
// we want to clone from.
const DefaultProbeTimeout = 2 * time.Second

// Region labels for the coarse network classification.
const (
	// RegionGlobal: the default, served best by the primary host.
	RegionGlobal = "global"
	// RegionCN: networks where the primary host is slow or blocked
	// and a regional mirror is preferred.
	RegionCN = "cn"
)

// referenceProbes are two geographically distinct endpoints whose
// reachability pattern classifies the local network. The classifier
// biases mirror ordering; it never hard-gates a candidate.
var referenceProbes = map[string]string{
	RegionGlobal: "https://www.gstatic.com/generate_204",
	RegionCN:     "https://www.baidu.com",
}

// Candidate is one mirror in the static candidate list.
type Candidate struct {
	// Name identifies the mirror in logs.
	Name string `json:"name" yaml:"name"`

	// CloneURL is the git remote URL used when this mirror is chosen.
	CloneURL string `json:"clone_url" yaml:"clone_url"`

	// ProbeURL is the endpoint measured for reachability.
	ProbeURL string `json:"probe_url" yaml:"probe_url"`

	// Region is the network region this mirror serves best. Empty
	// means no regional preference.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// probeResult pairs a candidate with its measured reachability.
type probeResult struct {
	candidate Candidate
	rtt       time.Duration
	reachable bool
}

// Selector probes and ranks a candidate list.
type Selector struct {
	candidates []Candidate
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger

	// references overrides referenceProbes in tests.
	references map[string]string
}

// NewSelector returns a Selector over the given candidates. A
// non-positive timeout means DefaultProbeTimeout.
func NewSelector(candidates []Candidate, timeout time.Duration, logger *slog.Logger) *Selector {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Selector{
		candidates: candidates,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		references: referenceProbes,
	}
}

// Select probes every candidate and returns the first reachable one
// in region-biased latency order, with reachable=true. With no
// reachable candidate the base-order first candidate is returned with
// reachable=false; Select never fails outright.
func (s *Selector) Select(ctx context.Context) (selected Candidate, reachable bool) {
	if len(s.candidates) == 0 {
		return Candidate{}, false
	}

	region := s.classifyRegion(ctx)
	results := s.probeAll(ctx)

	// Region-matched candidates first, then by measured latency.
	// Stable sort keeps the configured base order as the tiebreak.
	sort.SliceStable(results, func(i, j int) bool {
		iMatch := region != "" && results[i].candidate.Region == region
		jMatch := region != "" && results[j].candidate.Region == region
		if iMatch != jMatch {
			return iMatch
		}
		return results[i].rtt < results[j].rtt
	})

	for _, result := range results {
		if result.reachable {
			s.logger.Info("mirror selected",
				"mirror", result.candidate.Name, "rtt", result.rtt, "region", region)
			return result.candidate, true
		}
	}

	fallback := s.candidates[0]
	s.logger.Warn("no mirror reachable, proceeding with base-order first candidate",
		"mirror", fallback.Name)
	return fallback, false
}

// probeAll measures every candidate concurrently.
func (s *Selector) probeAll(ctx context.Context) []probeResult {
	results := make([]probeResult, len(s.candidates))
	var wg sync.WaitGroup
	for i, candidate := range s.candidates {
		wg.Add(1)
		go func(i int, candidate Candidate) {
			defer wg.Done()
			rtt, err := s.probe(ctx, candidate.ProbeURL)
			results[i] = probeResult{candidate: candidate, rtt: rtt, reachable: err == nil}
			if err != nil {
				s.logger.Debug("mirror probe failed", "mirror", candidate.Name, "error", err)
			}
		}(i, candidate)
	}
	wg.Wait()
	return results
}

// probe issues a GET and reports the round-trip time. Any HTTP
// response, whatever the status code, counts as reachable — the probe
// measures the network path, not endpoint health.
func (s *Selector) probe(ctx context.Context, url string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	response, err := s.client.Do(request)
	if err != nil {
		return 0, err
	}
	response.Body.Close()
	return time.Since(start), nil
}

// classifyRegion probes the reference endpoints and returns the region
// whose reference answered (the faster one when both do). Empty string
// means no classification and no ordering bias.
func (s *Selector) classifyRegion(ctx context.Context) string {
	type outcome struct {
		region string
		rtt    time.Duration
		err    error
	}

	outcomes := make([]outcome, 0, len(s.references))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for region, url := range s.references {
		wg.Add(1)
		go func(region, url string) {
			defer wg.Done()
			rtt, err := s.probe(ctx, url)
			mu.Lock()
			outcomes = append(outcomes, outcome{region: region, rtt: rtt, err: err})
			mu.Unlock()
		}(region, url)
	}
	wg.Wait()

	best := ""
	bestRTT := time.Duration(0)
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		if best == "" || o.rtt < bestRTT {
			best, bestRTT = o.region, o.rtt
		}
	}
	return best
}
