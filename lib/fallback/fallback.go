// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package fallback runs an ordered list of strategies until one
// succeeds. The update pipeline has several of these chains —
// reproducible install then plain install, service reload then full
// restart — and expressing each as a Strategy list keeps the ordering
// auditable and each step independently testable.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// Strategy is one step in a fallback chain.
type Strategy struct {
	// Name identifies the strategy in logs and aggregated errors.
	Name string

	// Run attempts the strategy. A nil return stops the chain.
	Run func(ctx context.Context) error
}

// Attempt runs strategies in order and returns the name of the first
// one that succeeds. Each failure is reported through logf and folded
// into the aggregate error returned when every strategy fails.
func Attempt(ctx context.Context, logf func(format string, args ...any), strategies []Strategy) (string, error) {
	var failures []error
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		err := strategy.Run(ctx)
		if err == nil {
			return strategy.Name, nil
		}
		if logf != nil {
			logf("%s failed: %v", strategy.Name, err)
		}
		failures = append(failures, fmt.Errorf("%s: %w", strategy.Name, err))
	}
	if len(failures) == 0 {
		return "", errors.New("no strategies to attempt")
	}
	return "", errors.Join(failures...)
}
