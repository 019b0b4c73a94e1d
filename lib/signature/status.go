// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import "strings"

// statusPrefix marks machine-readable lines on gpg's status channel.
// Only these lines are ever parsed; human-readable output is
// untrusted by policy.
const statusPrefix = "[GNUPG:] "

// statusReport is the distilled outcome of one verification run.
type statusReport struct {
	// signingFingerprint is VALIDSIG's first field: the fingerprint
	// of the key (possibly a subkey) that made the signature.
	signingFingerprint string

	// primaryFingerprint is VALIDSIG's optional tenth field: the
	// primary key's fingerprint when the signer is a subkey.
	primaryFingerprint string

	// valid is set by VALIDSIG: the signature checked out
	// cryptographically.
	valid bool

	// bad is set by BADSIG: a signature is present but does not
	// verify.
	bad bool

	// unverifiable is set by ERRSIG or NO_PUBKEY: a signature is
	// present but could not be checked (unknown key, unsupported
	// algorithm).
	unverifiable bool
}

// parseStatus extracts the report from combined verifier output.
// Lines without the status prefix are ignored entirely — a
// fingerprint appearing in a user ID, a commit message, or any other
// free-text field can never influence the result.
func parseStatus(lines []string) statusReport {
	var report statusReport
	for _, line := range lines {
		rest, ok := strings.CutPrefix(line, statusPrefix)
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "VALIDSIG":
			// VALIDSIG <fingerprint> <sig-date> <sig-ts> <expire-ts>
			//   <version> <reserved> <pubkey-algo> <hash-algo>
			//   <sig-class> [<primary-key-fingerprint>]
			if len(fields) < 2 {
				continue
			}
			report.valid = true
			report.signingFingerprint = fields[1]
			if len(fields) >= 11 {
				report.primaryFingerprint = fields[10]
			}
		case "BADSIG":
			report.bad = true
		case "ERRSIG", "NO_PUBKEY":
			report.unverifiable = true
		}
	}
	return report
}

// resolvedFingerprint returns the fingerprint that identity decisions
// are made against: the primary key's when present, the signing key's
// otherwise. A subkey signature from an allow-listed primary key is
// trusted via the primary, and a subkey fingerprint alone never
// stands in for its primary.
func (r statusReport) resolvedFingerprint() string {
	if r.primaryFingerprint != "" {
		return r.primaryFingerprint
	}
	return r.signingFingerprint
}
