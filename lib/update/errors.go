// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import "fmt"

// Kind classifies why an update attempt failed. Kinds are stable
// strings: they appear in persisted attempt records and in
// machine-readable command output, so renaming one is a compatibility
// break.
type Kind string

const (
	// KindPathInvalid: the configured target is missing or not a git
	// working tree. Nothing was attempted.
	KindPathInvalid Kind = "path_invalid"

	// KindLockBusy: another attempt holds the update lock. Nothing was
	// attempted.
	KindLockBusy Kind = "lock_busy"

	// KindToolMissing: a required external tool (git, the package
	// manager, the build tool) is not installed.
	KindToolMissing Kind = "tool_missing"

	// KindSyncFailure: reading or updating repository state failed —
	// resolving the current commit, fetching, or checking out.
	KindSyncFailure Kind = "sync_failure"

	// KindSignatureRejected: the fetched tip is unsigned, carries an
	// invalid signature, or was signed by an untrusted key.
	KindSignatureRejected Kind = "signature_rejected"

	// KindInstallFailure: dependency installation failed on every
	// strategy.
	KindInstallFailure Kind = "install_failure"

	// KindBuildFailure: the build tool failed or produced no output.
	KindBuildFailure Kind = "build_failure"

	// KindRestartFailure: the new output is live but the service
	// restart could not be scheduled.
	KindRestartFailure Kind = "restart_failure"
)

// Failure wraps a pipeline error with its classification and an
// operator-facing message.
type Failure struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the operator-facing one-liner.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (f *Failure) Unwrap() error { return f.Err }

// fail constructs a Failure.
func fail(kind Kind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}
