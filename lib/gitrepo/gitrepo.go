// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitrepo provides typed access to the git CLI for the update
// pipeline's repository operations: pointing the tracked remote at the
// selected mirror, capturing the pre-attempt commit, fetching remote
// history without touching the live checkout, and adopting a verified
// commit. All commands target a specific repository directory via the
// -C flag, which every method injects automatically, and all of them
// run through the hardened lib/proc runner — git is never invoked
// through a shell or the ambient PATH.
package gitrepo

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/halyard-systems/halyard/lib/proc"
)

// commitHashPattern matches a full-length commit hash: 40 hex chars
// (SHA-1) or 64 (SHA-256 repositories). Abbreviated hashes are never
// accepted — every adoption and rollback targets an exact commit.
var commitHashPattern = regexp.MustCompile(`^([0-9a-f]{40}|[0-9a-f]{64})$`)

// ValidateCommitHash rejects anything that is not a full-length,
// lowercase commit hash.
func ValidateCommitHash(hash string) error {
	if !commitHashPattern.MatchString(hash) {
		return fmt.Errorf("%q is not a full-length commit hash", hash)
	}
	return nil
}

// Options configures a Repository.
type Options struct {
	// Remote is the tracked remote name. Empty means "origin".
	Remote string

	// Branch is the tracked branch. Empty means "main".
	Branch string

	// Timeout bounds each git invocation. Zero uses the runner's
	// default.
	Timeout time.Duration

	// Observer receives git output lines for live progress.
	Observer proc.Observer
}

// Repository represents a git working copy at a specific directory.
// There is no default directory — callers always say which repository
// they mean.
type Repository struct {
	dir      string
	remote   string
	branch   string
	timeout  time.Duration
	observer proc.Observer
	exec     proc.Executor
}

// New returns a Repository targeting the given directory.
func New(dir string, executor proc.Executor, options Options) *Repository {
	remote := options.Remote
	if remote == "" {
		remote = "origin"
	}
	branch := options.Branch
	if branch == "" {
		branch = "main"
	}
	return &Repository{
		dir:      dir,
		remote:   remote,
		branch:   branch,
		timeout:  options.Timeout,
		observer: options.Observer,
		exec:     executor,
	}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string { return r.dir }

// Branch returns the tracked branch name.
func (r *Repository) Branch() string { return r.branch }

// run executes a git command targeting this repository and returns
// the trimmed combined output. Failures fold the transcript into the
// error message.
func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	result, err := r.exec.Run(ctx, proc.Command{
		Name:     "git",
		Args:     append([]string{"-C", r.dir}, args...),
		Timeout:  r.timeout,
		Observer: r.observer,
	})
	if err != nil {
		return "", fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), r.dir, err)
	}
	if result.TimedOut {
		return "", fmt.Errorf("git %s in %s: timed out", strings.Join(args, " "), r.dir)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s in %s: exit %d (%s)",
			strings.Join(args, " "), r.dir, result.ExitCode, strings.TrimSpace(result.Transcript))
	}
	return strings.TrimSpace(result.Transcript), nil
}

// IsRepository reports whether the directory is inside a git work
// tree. Used by the read-only plugin diagnostic.
func (r *Repository) IsRepository(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// EnsureRemote makes the tracked remote point at url, adding the
// remote when absent and rewriting it only when it differs.
// Idempotent by construction.
func (r *Repository) EnsureRemote(ctx context.Context, url string) error {
	current, err := r.run(ctx, "remote", "get-url", r.remote)
	if err != nil {
		if _, addErr := r.run(ctx, "remote", "add", r.remote, url); addErr != nil {
			return fmt.Errorf("adding remote %s: %w", r.remote, addErr)
		}
		return nil
	}
	if current == url {
		return nil
	}
	if _, err := r.run(ctx, "remote", "set-url", r.remote, url); err != nil {
		return fmt.Errorf("updating remote %s: %w", r.remote, err)
	}
	return nil
}

// CurrentCommit resolves HEAD to a full commit hash. This is the
// rollback target captured before any mutating operation; an
// unresolvable HEAD means the attempt must abort, because there is
// nothing safe to roll back to.
func (r *Repository) CurrentCommit(ctx context.Context) (string, error) {
	hash, err := r.run(ctx, "rev-parse", "--verify", "HEAD^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving current commit: %w", err)
	}
	if err := ValidateCommitHash(hash); err != nil {
		return "", fmt.Errorf("resolving current commit: %w", err)
	}
	return hash, nil
}

// DiscardLocalChanges restores all tracked files to their committed
// state, dropping uncommitted local drift before the fetch. Untracked
// files are left alone.
func (r *Repository) DiscardLocalChanges(ctx context.Context) error {
	if _, err := r.run(ctx, "checkout", "--", "."); err != nil {
		return fmt.Errorf("discarding local changes: %w", err)
	}
	return nil
}

// Fetch downloads history for the tracked branch from the tracked
// remote. The live checkout is not touched; the fetched tip lands in
// FETCH_HEAD for FetchedTip to resolve.
func (r *Repository) Fetch(ctx context.Context) error {
	if _, err := r.run(ctx, "fetch", r.remote, r.branch); err != nil {
		return fmt.Errorf("fetching %s from %s: %w", r.branch, r.remote, err)
	}
	return nil
}

// FetchedTip resolves FETCH_HEAD to the concrete commit hash the last
// Fetch produced. This exact hash — not a later re-read of the remote
// pointer — is what gets verified and then adopted, so nothing can
// swap the commit between verification and checkout.
func (r *Repository) FetchedTip(ctx context.Context) (string, error) {
	hash, err := r.run(ctx, "rev-parse", "--verify", "FETCH_HEAD^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving fetched tip: %w", err)
	}
	if err := ValidateCommitHash(hash); err != nil {
		return "", fmt.Errorf("resolving fetched tip: %w", err)
	}
	return hash, nil
}

// CheckoutCommit hard-resets the working copy to the given commit.
// Used both to adopt a verified commit and to restore the backup
// point during rollback. The hash is validated before it goes
// anywhere near a command line.
func (r *Repository) CheckoutCommit(ctx context.Context, hash string) error {
	if err := ValidateCommitHash(hash); err != nil {
		return fmt.Errorf("refusing checkout: %w", err)
	}
	if _, err := r.run(ctx, "reset", "--hard", hash); err != nil {
		return fmt.Errorf("checking out %s: %w", hash, err)
	}
	return nil
}
