// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// trustedDirs is the fixed set of directories probed when resolving a
// tool name, in order. This replaces the ambient PATH for both
// resolution and the child's own environment: a tool that is not in
// one of these locations (or next to the current executable) is
// invoked by bare name as a last resort and will fail cleanly if
// absent.
var trustedDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/local/sbin",
	"/opt/homebrew/bin",
}

// blockedEnv lists inherited variables capable of redirecting git's
// internal behavior to an attacker-chosen repository, work tree, or
// configuration. The child environment is constructed from scratch so
// these never leak in from the parent; the list additionally guards
// against a caller passing one through ExtraEnv.
var blockedEnv = map[string]bool{
	"GIT_DIR":                          true,
	"GIT_WORK_TREE":                    true,
	"GIT_INDEX_FILE":                   true,
	"GIT_OBJECT_DIRECTORY":             true,
	"GIT_ALTERNATE_OBJECT_DIRECTORIES": true,
	"GIT_NAMESPACE":                    true,
	"GIT_CEILING_DIRECTORIES":          true,
	"GIT_CONFIG":                       true,
	"GIT_CONFIG_GLOBAL":                true,
	"GIT_CONFIG_SYSTEM":                true,
	"GIT_CONFIG_COUNT":                 true,
}

// ResolveTool resolves a tool name to an explicit filesystem path,
// probing trustedDirs in order and then the directory containing the
// current executable (which covers version-manager-style installs
// that place tools next to the service binary). When no probe
// succeeds the bare name is returned unchanged; execution then fails
// with a not-found error rather than silently running whatever an
// attacker placed first on the ambient PATH.
func ResolveTool(name string) string {
	for _, dir := range trustedDirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate
		}
	}

	if executable, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(executable), name)
		if isExecutable(candidate) {
			return candidate
		}
	}

	return name
}

// isExecutable reports whether path is a regular file with any
// execute bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// childEnv builds the minimal explicit environment for a child
// process: the trusted search path, HOME (gpg and package managers
// need it), a stable locale so tool output stays parseable, and the
// caller's extra variables. Keys in blockedEnv are dropped even when
// explicitly requested.
func childEnv(extra map[string]string) []string {
	env := []string{
		"PATH=" + strings.Join(trustedDirs, ":"),
		"LC_ALL=C",
	}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, "HOME="+home)
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		if blockedEnv[key] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env
}
