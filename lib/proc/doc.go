// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package proc is the hardened subprocess execution primitive that
// every external tool invocation (git, gpg, the package manager, the
// process supervisor) goes through.
//
// Hardening properties, by construction:
//
//   - Commands resolve to explicit filesystem paths probed from a
//     fixed set of standard install directories plus the directory of
//     the current executable. The ambient PATH of the parent process
//     is never consulted.
//   - Arguments are passed as a discrete argv list. There is no shell
//     anywhere in the invocation chain, so no input can be
//     reinterpreted as shell syntax.
//   - The child environment is built from scratch: a short fixed
//     search path, HOME, LC_ALL, and whatever the caller explicitly
//     adds. Inherited variables that redirect git's repository
//     discovery (GIT_DIR, GIT_WORK_TREE, config overrides) can never
//     leak through because nothing is forwarded.
//   - Every child runs in its own process group. On timeout the whole
//     group receives SIGTERM, then SIGKILL after a grace window, so
//     descendants spawned by the child are reclaimed too.
//
// Output is streamed line-by-line to an observer for live progress
// while the full combined transcript is buffered for error reports.
package proc
