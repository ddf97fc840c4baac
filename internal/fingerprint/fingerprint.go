// Package fingerprint computes the content hash that addresses uploads and results.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// ChunkSize is the read buffer used while hashing, so memory use does not grow with input size
const ChunkSize = 32 * 1024

// New returns a fresh hasher, for callers that hash while writing elsewhere (io.MultiWriter)
func New() hash.Hash {
	return sha256.New()
}

// Encode renders a finished hasher as a lowercase hex digest
func Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Sum streams r through SHA-256 and returns the hex digest
func Sum(r io.Reader) (string, error) {
	h := New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return Encode(h), nil
}

// File hashes the file at path
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return Sum(f)
}
