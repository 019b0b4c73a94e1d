// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
)

// embeddedPublisherKey is the sole trust-bootstrap source: the
// publisher's armored OpenPGP public key, compiled into the binary.
// Deployments place their release key in publisher.asc before
// building. When the file holds no armored key block, every
// verification fails closed — absence degrades verification, it never
// silently succeeds.
//
//go:embed publisher.asc
var embeddedPublisherKey []byte

// armorHeader begins an ASCII-armored OpenPGP public key block.
const armorHeader = "-----BEGIN PGP PUBLIC KEY BLOCK-----"

// hasEmbeddedKey reports whether a publisher key was compiled in.
func hasEmbeddedKey() bool {
	return bytes.Contains(embeddedPublisherKey, []byte(armorHeader))
}

// trustedFingerprints is the fixed allowlist of full-length publisher
// key fingerprints. Deliberately compiled in rather than configurable:
// an attacker who can rewrite configuration must not be able to
// extend the trust anchor. Entries are the primary-key fingerprints
// of the release signing keys.
var trustedFingerprints = []string{
	"9A7C3E51D0B2F4668C1D5A0E7B39F2C4D816E5A3", // release signing key 2026
	"4F21B8D6E093A7C5512F8E4BD67A01C9834B2DF0", // standby release key
}

// trustedSet holds normalized allowlist entries for exact matching.
var trustedSet = make(map[string]bool, len(trustedFingerprints))

func init() {
	for _, fingerprint := range trustedFingerprints {
		normalized := normalizeFingerprint(fingerprint)
		if !fullLengthFingerprint(normalized) {
			panic(fmt.Sprintf("signature: malformed trusted fingerprint %q", fingerprint))
		}
		trustedSet[normalized] = true
	}
}

// normalizeFingerprint upper-cases and strips the spaces gpg inserts
// when pretty-printing fingerprints.
func normalizeFingerprint(fingerprint string) string {
	return strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
}

// fullLengthFingerprint reports whether s is a complete fingerprint:
// 40 hex digits (v4 keys) or 64 (v5/v6). Short and long key IDs are
// rejected — trusting a truncated identifier opens a prefix-collision
// attack where a generated key shares the short ID of a trusted one.
func fullLengthFingerprint(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, r := range s {
		isDigit := r >= '0' && r <= '9'
		isHexUpper := r >= 'A' && r <= 'F'
		if !isDigit && !isHexUpper {
			return false
		}
	}
	return true
}

// isTrusted reports whether fingerprint exactly matches an allowlist
// entry after normalization. Partial matches never succeed: a
// non-full-length fingerprint fails the length check before any
// comparison.
func isTrusted(fingerprint string) bool {
	normalized := normalizeFingerprint(fingerprint)
	if !fullLengthFingerprint(normalized) {
		return false
	}
	return trustedSet[normalized]
}
