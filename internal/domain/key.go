package domain

import (
	"fmt"
	"regexp"
)

// ContentHashLength is the length of a hex encoded SHA-256 digest
const ContentHashLength = 64

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Options holds the transformation parameters that take part in cache identity.
// Anything else a caller sends is passed through to the engine but never keyed on.
type Options struct {
	UseEnhancement     bool `json:"use_enhancement"`
	Paginate           bool `json:"paginate"`
	ExtractAssets      bool `json:"extract_assets"`
	ForceFullReprocess bool `json:"force_full_reprocess"`
}

// DefaultOptions returns the options applied when a request omits them
func DefaultOptions() Options {
	return Options{ExtractAssets: true}
}

// CacheKey identifies a unique transformation request.
// It is a comparable value type and can be used directly as a map key.
type CacheKey struct {
	ContentHash string  `json:"content_hash"`
	Options     Options `json:"options"`
}

// NewCacheKey builds a key after checking the digest shape
func NewCacheKey(contentHash string, opts Options) (CacheKey, error) {
	if !ValidContentHash(contentHash) {
		return CacheKey{}, fmt.Errorf("%w: content hash must be %d lowercase hex characters", ErrValidation, ContentHashLength)
	}
	return CacheKey{ContentHash: contentHash, Options: opts}, nil
}

// ValidContentHash reports whether s looks like a hex SHA-256 digest
func ValidContentHash(s string) bool {
	return contentHashPattern.MatchString(s)
}

// String renders the key as "<hash>:e0p0a1f0", stable across processes
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:e%dp%da%df%d",
		k.ContentHash,
		b2i(k.Options.UseEnhancement),
		b2i(k.Options.Paginate),
		b2i(k.Options.ExtractAssets),
		b2i(k.Options.ForceFullReprocess),
	)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
