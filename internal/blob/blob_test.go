package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHash = strings.Repeat("c", 64)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestPlace_MovesFile(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	src := writeFile(t, t.TempDir(), "staged.pdf", "content")

	dst, existed, err := store.Place(src, testHash, ".pdf")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, store.OriginalPath(testHash, ".pdf"), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestPlace_ExistingAddressDiscardsCopy(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	store, err := New(root)
	require.NoError(t, err)

	staging := t.TempDir()
	_, _, err = store.Place(writeFile(t, staging, "a.pdf", "content"), testHash, ".pdf")
	require.NoError(t, err)

	second := writeFile(t, staging, "b.pdf", "content")
	dst, existed, err := store.Place(second, testHash, ".pdf")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, store.OriginalPath(testHash, ".pdf"), dst)

	_, err = os.Stat(second)
	assert.True(t, os.IsNotExist(err), "duplicate staged copy must be removed")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "storage must not hold a duplicate")
}

func TestSaveAsset(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	rel, err := store.SaveAsset(testHash, "figure_1.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, testHash+"/assets/figure_1.png", rel)

	data, err := os.ReadFile(store.Resolve(rel))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestSaveAsset_NestedNames(t *testing.T) {
	tests := []struct {
		name    string
		asset   string
		want    string
		wantErr bool
	}{
		{name: "flat", asset: "figure.png", want: testHash + "/assets/figure.png"},
		{name: "nested", asset: "images/page-1/figure.png", want: testHash + "/assets/images/page-1/figure.png"},
		{name: "cleaned", asset: "./images//figure.png", want: testHash + "/assets/images/figure.png"},
		{name: "parent escape", asset: "../../etc/passwd", wantErr: true},
		{name: "inner escape", asset: "images/../../figure.png", wantErr: true},
		{name: "absolute", asset: "/etc/passwd", wantErr: true},
		{name: "dot dot", asset: "..", wantErr: true},
		{name: "empty", asset: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(t.TempDir())
			require.NoError(t, err)

			rel, err := store.SaveAsset(testHash, tt.asset, []byte("x"))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rel)
			assert.FileExists(t, store.Resolve(rel))
		})
	}
}

func TestSaveAsset_SameBaseNameInDifferentDirectories(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	first, err := store.SaveAsset(testHash, "page-1/figure.png", []byte("one"))
	require.NoError(t, err)
	second, err := store.SaveAsset(testHash, "page-2/figure.png", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	data, err := os.ReadFile(store.Resolve(first))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	data, err = os.ReadFile(store.Resolve(second))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
