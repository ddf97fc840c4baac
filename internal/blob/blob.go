// Package blob lays out permanent content-addressed storage:
// originals at <root>/<hash><ext> and derived assets under <root>/<hash>/assets/.
package blob

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const assetsDir = "assets"

// Store is a content-addressed directory. Writes for an existing address are no-ops,
// so concurrent writers of identical content never corrupt it.
type Store struct {
	root string
}

// New creates the root directory if needed
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the base directory
func (s *Store) Root() string {
	return s.root
}

// OriginalPath is where the original upload with this hash lives
func (s *Store) OriginalPath(hash, ext string) string {
	return filepath.Join(s.root, hash+ext)
}

// Place moves src to the address for hash. If the address is already taken src is
// removed instead and existed is true.
func (s *Store) Place(src, hash, ext string) (dst string, existed bool, err error) {
	dst = s.OriginalPath(hash, ext)

	if _, err := os.Stat(dst); err == nil {
		if rmErr := os.Remove(src); rmErr != nil && !os.IsNotExist(rmErr) {
			return dst, true, fmt.Errorf("failed to discard duplicate upload: %w", rmErr)
		}
		return dst, true, nil
	}

	if err := os.Rename(src, dst); err != nil {
		// rename fails across devices, fall back to copy
		if cpErr := copyFile(src, dst); cpErr != nil {
			return "", false, fmt.Errorf("failed to move upload into storage: %w", cpErr)
		}
		_ = os.Remove(src)
	}

	return dst, false, nil
}

// AssetRelPath is the relative path persisted for an asset
func AssetRelPath(hash, name string) string {
	return path.Join(hash, assetsDir, filepath.ToSlash(name))
}

// SaveAsset writes one derived asset and returns its relative path. name may
// be a slash-separated path below the asset directory; anything escaping it is rejected.
func (s *Store) SaveAsset(hash, name string, data []byte) (string, error) {
	clean, err := cleanAssetName(name)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.root, hash, assetsDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	if err := writeAtomic(target, data); err != nil {
		return "", fmt.Errorf("failed to write asset %s: %w", clean, err)
	}

	return AssetRelPath(hash, clean), nil
}

// Resolve maps a persisted relative path back to an absolute one
func (s *Store) Resolve(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func cleanAssetName(name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(strings.TrimSpace(name)))
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("invalid asset name %q", name)
	}
	return clean, nil
}

func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
