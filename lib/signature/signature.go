// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature verifies that a resolved commit was signed by a
// trusted publisher key before the update pipeline is allowed to
// adopt it.
//
// Verification always targets an explicit commit hash, never a
// symbolic name like HEAD or a remote branch pointer — the hash the
// pipeline verifies is byte-for-byte the hash it later checks out,
// which closes the window where a mutated remote could swap commits
// between verification and adoption.
//
// Each verification runs against a fresh, ephemeral GnuPG home
// directory populated only with the embedded publisher key. The
// service account's ambient keyring is neither consulted nor touched:
// a key an operator imported for unrelated reasons can never vouch
// for an update, and verification works even when the account has no
// writable default keyring at all.
package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halyard-systems/halyard/lib/gitrepo"
	"github.com/halyard-systems/halyard/lib/proc"
)

// Rejection causes. All of them route the pipeline to rollback; the
// distinctions exist for operator-facing messages and tests.
var (
	// ErrUnsigned: the commit carries no signature at all.
	ErrUnsigned = errors.New("commit is not signed")

	// ErrInvalidSignature: a signature is present but does not verify
	// or could not be checked.
	ErrInvalidSignature = errors.New("commit signature is invalid")

	// ErrUntrustedFingerprint: the signature verifies but the
	// resolved key fingerprint is not on the compiled-in allowlist.
	ErrUntrustedFingerprint = errors.New("signing key is not a trusted publisher key")

	// ErrVerifierUnavailable: gpg or the embedded publisher key is
	// missing, so no verification is possible.
	ErrVerifierUnavailable = errors.New("signature verifier unavailable")
)

// Verification is the successful outcome: the exact hash that was
// verified and the identity that vouched for it.
type Verification struct {
	// CommitHash is the verified commit.
	CommitHash string

	// SigningFingerprint is the key that made the signature (possibly
	// a subkey).
	SigningFingerprint string

	// PrimaryFingerprint is the signer's primary-key fingerprint when
	// the signer is a subkey; empty otherwise.
	PrimaryFingerprint string

	// TrustedFingerprint is the normalized allowlist entry that
	// matched.
	TrustedFingerprint string
}

// Options configures a Verifier.
type Options struct {
	// Timeout bounds each subprocess call. Zero uses the runner's
	// default.
	Timeout time.Duration

	// Observer receives tool output lines for live progress.
	Observer proc.Observer

	// Logger records verification outcomes. Required.
	Logger *slog.Logger
}

// Verifier checks commit signatures in a specific repository.
type Verifier struct {
	repoDir  string
	exec     proc.Executor
	timeout  time.Duration
	observer proc.Observer
	logger   *slog.Logger
}

// New returns a Verifier for the repository at repoDir.
func New(repoDir string, executor proc.Executor, options Options) *Verifier {
	return &Verifier{
		repoDir:  repoDir,
		exec:     executor,
		timeout:  options.Timeout,
		observer: options.Observer,
		logger:   options.Logger,
	}
}

// VerifyCommit verifies the signature on the given commit hash and
// resolves the signer against the trusted-fingerprint allowlist.
// Every error wraps one of the rejection causes above.
func (v *Verifier) VerifyCommit(ctx context.Context, hash string) (*Verification, error) {
	if err := gitrepo.ValidateCommitHash(hash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !hasEmbeddedKey() {
		return nil, fmt.Errorf("%w: no publisher key embedded in this build", ErrVerifierUnavailable)
	}

	trustHome, err := os.MkdirTemp("", "halyard-trust-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating ephemeral trust store: %v", ErrVerifierUnavailable, err)
	}
	defer os.RemoveAll(trustHome)
	// gpg refuses group- or world-accessible home directories.
	if err := os.Chmod(trustHome, 0o700); err != nil {
		return nil, fmt.Errorf("%w: securing ephemeral trust store: %v", ErrVerifierUnavailable, err)
	}

	if err := v.importPublisherKey(ctx, trustHome); err != nil {
		return nil, err
	}

	report, err := v.runVerifier(ctx, trustHome, hash)
	if err != nil {
		return nil, err
	}

	return v.evaluate(hash, report)
}

// importPublisherKey loads the embedded key into the ephemeral home.
func (v *Verifier) importPublisherKey(ctx context.Context, trustHome string) error {
	keyPath := filepath.Join(trustHome, "publisher.asc")
	if err := os.WriteFile(keyPath, embeddedPublisherKey, 0o600); err != nil {
		return fmt.Errorf("%w: writing publisher key: %v", ErrVerifierUnavailable, err)
	}

	result, err := v.exec.Run(ctx, proc.Command{
		Name:     "gpg",
		Args:     []string{"--batch", "--no-tty", "--import", keyPath},
		ExtraEnv: map[string]string{"GNUPGHOME": trustHome},
		Timeout:  v.timeout,
		Observer: v.observer,
	})
	if err != nil {
		if proc.IsNotFound(err) {
			return fmt.Errorf("%w: gpg not installed", ErrVerifierUnavailable)
		}
		return fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	if !result.OK() {
		return fmt.Errorf("%w: importing publisher key failed (%s)",
			ErrVerifierUnavailable, strings.TrimSpace(result.Transcript))
	}
	return nil
}

// runVerifier invokes git verify-commit against the exact hash and
// parses the machine-readable status channel from its output.
func (v *Verifier) runVerifier(ctx context.Context, trustHome, hash string) (statusReport, error) {
	result, err := v.exec.Run(ctx, proc.Command{
		Name:     "git",
		Args:     []string{"-C", v.repoDir, "verify-commit", "--raw", hash},
		ExtraEnv: map[string]string{"GNUPGHOME": trustHome},
		Timeout:  v.timeout,
		Observer: v.observer,
	})
	if err != nil {
		if proc.IsNotFound(err) {
			return statusReport{}, fmt.Errorf("%w: git not installed", ErrVerifierUnavailable)
		}
		return statusReport{}, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	if result.TimedOut {
		return statusReport{}, fmt.Errorf("%w: verification timed out", ErrVerifierUnavailable)
	}
	// A non-zero exit is expected for unsigned or bad commits; the
	// status lines carry the verdict either way.
	return parseStatus(strings.Split(result.Transcript, "\n")), nil
}

// evaluate turns a status report into a verdict. Kept separate from
// subprocess plumbing so rejection logic is testable against crafted
// verifier output.
func (v *Verifier) evaluate(hash string, report statusReport) (*Verification, error) {
	switch {
	case report.bad:
		return nil, fmt.Errorf("%w: commit %s", ErrInvalidSignature, hash)
	case report.unverifiable:
		return nil, fmt.Errorf("%w: commit %s signature could not be checked", ErrInvalidSignature, hash)
	case !report.valid:
		return nil, fmt.Errorf("%w: commit %s", ErrUnsigned, hash)
	}

	resolved := report.resolvedFingerprint()
	if !isTrusted(resolved) {
		return nil, fmt.Errorf("%w: fingerprint %s (commit %s)",
			ErrUntrustedFingerprint, normalizeFingerprint(resolved), hash)
	}

	verification := &Verification{
		CommitHash:         hash,
		SigningFingerprint: normalizeFingerprint(report.signingFingerprint),
		PrimaryFingerprint: normalizeFingerprint(report.primaryFingerprint),
		TrustedFingerprint: normalizeFingerprint(resolved),
	}
	v.logger.Info("commit signature verified",
		"commit", hash, "fingerprint", verification.TrustedFingerprint)
	return verification, nil
}
