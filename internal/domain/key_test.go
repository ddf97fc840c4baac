package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheKey(t *testing.T) {
	validHash := strings.Repeat("ab", 32)

	tests := []struct {
		name    string
		hash    string
		wantErr bool
	}{
		{name: "valid digest", hash: validHash},
		{name: "too short", hash: "abc", wantErr: true},
		{name: "uppercase rejected", hash: strings.ToUpper(validHash), wantErr: true},
		{name: "non hex", hash: strings.Repeat("zz", 32), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewCacheKey(tt.hash, DefaultOptions())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hash, key.ContentHash)
		})
	}
}

func TestCacheKey_String(t *testing.T) {
	hash := strings.Repeat("0", 64)

	plain := CacheKey{ContentHash: hash, Options: DefaultOptions()}
	assert.Equal(t, hash+":e0p0a1f0", plain.String())

	all := CacheKey{ContentHash: hash, Options: Options{true, true, true, true}}
	assert.Equal(t, hash+":e1p1a1f1", all.String())
}

func TestCacheKey_Comparable(t *testing.T) {
	hash := strings.Repeat("1", 64)
	a := CacheKey{ContentHash: hash, Options: Options{ExtractAssets: true}}
	b := CacheKey{ContentHash: hash, Options: Options{ExtractAssets: true}}
	c := CacheKey{ContentHash: hash, Options: Options{ExtractAssets: false}}

	m := map[CacheKey]int{a: 1}
	assert.Equal(t, 1, m[b])
	_, ok := m[c]
	assert.False(t, ok, "different parameter sets must not collide")
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, JobStateSubmitted.Terminal())
	assert.False(t, JobStateRunning.Terminal())
	assert.True(t, JobStateSucceeded.Terminal())
	assert.True(t, JobStateFailed.Terminal())
}

func TestRetryableError(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewRetryableError(inner)

	var retryable *RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "connection reset")
}
