// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package dirhash computes a deterministic BLAKE3 digest of a build
// output tree. The digest is recorded after each atomic swap and
// reported by the plugin diagnostic, letting operators confirm that
// two machines (or a machine before and after rollback) carry
// byte-identical build output without diffing trees by hand.
package dirhash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// outputTreeKey is the BLAKE3 domain separation key for output tree
// digests. Fixed constant — changing it invalidates all recorded
// digests. ASCII domain name zero-padded to 32 bytes, readable in hex
// dumps.
var outputTreeKey = [32]byte{
	'h', 'a', 'l', 'y', 'a', 'r', 'd', '.', 'o', 'u', 't', 'p', 'u', 't', '.',
	't', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Tree digests the directory at root: every regular file's
// slash-separated relative path, size, and content, in the
// deterministic lexical order of filepath.WalkDir. Symlinks and other
// non-regular entries are skipped — build output is plain files, and
// skipping keeps the digest stable across checkout quirks.
func Tree(root string) (string, error) {
	hasher, err := blake3.NewKeyed(outputTreeKey[:])
	if err != nil {
		return "", fmt.Errorf("initializing keyed hasher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		// Frame each file as: path, NUL, little-endian size, content.
		// The explicit length prevents adjacent files from colliding
		// into the same byte stream.
		hasher.Write([]byte(filepath.ToSlash(relative)))
		hasher.Write([]byte{0})
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], uint64(info.Size()))
		hasher.Write(size[:])

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(hasher, file); err != nil {
			return fmt.Errorf("hashing %s: %w", relative, err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
