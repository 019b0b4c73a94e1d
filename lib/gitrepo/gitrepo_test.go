// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package gitrepo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halyard-systems/halyard/lib/proc"
)

func testExecutor() proc.Executor {
	return proc.NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// gitFixture runs git directly (not through the hardened runner) to
// build test repositories.
func gitFixture(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.local",
	)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// initRepo creates a working repository on branch main with one commit
// and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitFixture(t, dir, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitFixture(t, dir, "add", ".")
	gitFixture(t, dir, "commit", "-m", "initial")
	return dir
}

func TestValidateCommitHash(t *testing.T) {
	t.Parallel()

	valid := []string{
		strings.Repeat("a", 40),
		strings.Repeat("0", 64),
	}
	for _, hash := range valid {
		if err := ValidateCommitHash(hash); err != nil {
			t.Errorf("ValidateCommitHash(%q) = %v, want nil", hash, err)
		}
	}

	invalid := []string{
		"",
		"HEAD",
		strings.Repeat("a", 39),
		strings.Repeat("A", 40), // uppercase is not how git prints hashes
		strings.Repeat("a", 40) + "; rm -rf /",
		"--hard",
	}
	for _, hash := range invalid {
		if err := ValidateCommitHash(hash); err == nil {
			t.Errorf("ValidateCommitHash(%q) = nil, want error", hash)
		}
	}
}

func TestCurrentCommit(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := New(dir, testExecutor(), Options{})

	hash, err := repo.CurrentCommit(context.Background())
	if err != nil {
		t.Fatalf("CurrentCommit: %v", err)
	}
	if err := ValidateCommitHash(hash); err != nil {
		t.Errorf("CurrentCommit returned %q: %v", hash, err)
	}
}

func TestCurrentCommit_EmptyRepoFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gitFixture(t, dir, "init", "-b", "main")
	repo := New(dir, testExecutor(), Options{})

	if _, err := repo.CurrentCommit(context.Background()); err == nil {
		t.Fatal("expected error resolving HEAD in a repo with no commits")
	}
}

func TestEnsureRemote_AddAndRewrite(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := New(dir, testExecutor(), Options{})
	ctx := context.Background()

	if err := repo.EnsureRemote(ctx, "https://first.example/repo.git"); err != nil {
		t.Fatalf("EnsureRemote (add): %v", err)
	}
	if got := gitFixture(t, dir, "remote", "get-url", "origin"); got != "https://first.example/repo.git" {
		t.Fatalf("remote url = %q after add", got)
	}

	// Idempotent when unchanged.
	if err := repo.EnsureRemote(ctx, "https://first.example/repo.git"); err != nil {
		t.Fatalf("EnsureRemote (same): %v", err)
	}

	// Rewritten when the selected mirror differs.
	if err := repo.EnsureRemote(ctx, "https://second.example/repo.git"); err != nil {
		t.Fatalf("EnsureRemote (rewrite): %v", err)
	}
	if got := gitFixture(t, dir, "remote", "get-url", "origin"); got != "https://second.example/repo.git" {
		t.Fatalf("remote url = %q after rewrite", got)
	}
}

func TestFetchResolveCheckout(t *testing.T) {
	t.Parallel()

	upstream := initRepo(t)
	local := t.TempDir()
	gitFixture(t, local, "init", "-b", "main")
	ctx := context.Background()

	repo := New(local, testExecutor(), Options{})
	if err := repo.EnsureRemote(ctx, upstream); err != nil {
		t.Fatalf("EnsureRemote: %v", err)
	}
	if err := repo.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	tip, err := repo.FetchedTip(ctx)
	if err != nil {
		t.Fatalf("FetchedTip: %v", err)
	}
	upstreamHead := gitFixture(t, upstream, "rev-parse", "HEAD")
	if tip != upstreamHead {
		t.Fatalf("FetchedTip = %s, want upstream HEAD %s", tip, upstreamHead)
	}

	if err := repo.CheckoutCommit(ctx, tip); err != nil {
		t.Fatalf("CheckoutCommit: %v", err)
	}
	if head := gitFixture(t, local, "rev-parse", "HEAD"); head != tip {
		t.Fatalf("HEAD = %s after checkout, want %s", head, tip)
	}
	if _, err := os.Stat(filepath.Join(local, "index.js")); err != nil {
		t.Fatalf("checked-out tree missing fetched file: %v", err)
	}
}

func TestFetch_DoesNotMoveHEAD(t *testing.T) {
	t.Parallel()

	upstream := initRepo(t)
	local := initRepo(t)
	ctx := context.Background()

	repo := New(local, testExecutor(), Options{})
	before, err := repo.CurrentCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.EnsureRemote(ctx, upstream); err != nil {
		t.Fatal(err)
	}
	if err := repo.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	after, err := repo.CurrentCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("fetch moved HEAD from %s to %s", before, after)
	}
}

func TestDiscardLocalChanges(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := New(dir, testExecutor(), Options{})

	tracked := filepath.Join(dir, "index.js")
	if err := os.WriteFile(tracked, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := repo.DiscardLocalChanges(context.Background()); err != nil {
		t.Fatalf("DiscardLocalChanges: %v", err)
	}

	content, err := os.ReadFile(tracked)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "module.exports = 1\n" {
		t.Errorf("tracked file = %q, want committed content restored", content)
	}
}

func TestCheckoutCommit_RejectsNonHash(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := New(dir, testExecutor(), Options{})

	for _, bad := range []string{"HEAD", "main", "origin/main", "abc123"} {
		if err := repo.CheckoutCommit(context.Background(), bad); err == nil {
			t.Errorf("CheckoutCommit(%q) succeeded, want refusal", bad)
		}
	}
}

func TestIsRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if !New(initRepo(t), testExecutor(), Options{}).IsRepository(ctx) {
		t.Error("IsRepository = false for a real repository")
	}
	if New(t.TempDir(), testExecutor(), Options{}).IsRepository(ctx) {
		t.Error("IsRepository = true for a plain directory")
	}
}
