// Package intake validates uploads, stages them under a random name while
// fingerprinting them, and promotes them into content-addressed storage.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/doc-converter/internal/blob"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/fingerprint"
	"github.com/google/uuid"
)

// Config holds intake limits and locations
type Config struct {
	TempDir           string
	MaxUploadBytes    int64
	AllowedExtensions []string // lowercased with the leading dot; empty means ".pdf"
}

// Upload is one incoming file as handed over by the serving layer
type Upload struct {
	Filename     string
	DeclaredSize int64 // <= 0 when the client did not declare one
	Body         io.Reader
}

// StagedInput is a fingerprinted upload waiting for promotion or release
type StagedInput struct {
	Path         string
	ContentHash  string
	Ext          string
	OriginalName string
	Size         int64
}

// Intake owns the staging directory
type Intake struct {
	tempDir     string
	maxBytes    int64
	allowedExts map[string]struct{}
	blobs       *blob.Store
	logger      *slog.Logger
}

// New creates the staging directory and returns an Intake
func New(cfg Config, blobs *blob.Store, logger *slog.Logger) (*Intake, error) {
	if cfg.TempDir == "" {
		return nil, fmt.Errorf("temp directory is required")
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[normalizeExt(ext)] = struct{}{}
	}

	return &Intake{
		tempDir:     cfg.TempDir,
		maxBytes:    cfg.MaxUploadBytes,
		allowedExts: allowed,
		blobs:       blobs,
		logger:      logger,
	}, nil
}

// Validate checks name and declared size without touching storage
func (i *Intake) Validate(u Upload) error {
	name := strings.TrimSpace(u.Filename)
	if name == "" {
		return fmt.Errorf("%w: file name is required", domain.ErrValidation)
	}

	ext := normalizeExt(filepath.Ext(name))
	if _, ok := i.allowedExts[ext]; !ok {
		return fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, ext)
	}

	if i.maxBytes > 0 && u.DeclaredSize > i.maxBytes {
		return fmt.Errorf("%w: %w: %d bytes exceeds limit of %d bytes",
			domain.ErrValidation, domain.ErrFileTooLarge, u.DeclaredSize, i.maxBytes)
	}

	return nil
}

// Stage validates u, writes it under a random name and fingerprints it in the same pass
func (i *Intake) Stage(ctx context.Context, u Upload) (*StagedInput, error) {
	if err := i.Validate(u); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.Body == nil {
		return nil, fmt.Errorf("%w: upload body is empty", domain.ErrValidation)
	}

	ext := normalizeExt(filepath.Ext(u.Filename))
	path := filepath.Join(i.tempDir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create staging file: %v", domain.ErrIO, err)
	}

	src := u.Body
	if i.maxBytes > 0 {
		// one extra byte tells us the limit was crossed
		src = io.LimitReader(u.Body, i.maxBytes+1)
	}

	h := fingerprint.New()
	buf := make([]byte, fingerprint.ChunkSize)
	written, copyErr := io.CopyBuffer(io.MultiWriter(f, h), src, buf)
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		i.Release(path)
		return nil, fmt.Errorf("%w: failed to write staging file: %v", domain.ErrIO, errors.Join(copyErr, closeErr))
	}

	if i.maxBytes > 0 && written > i.maxBytes {
		i.Release(path)
		return nil, fmt.Errorf("%w: %w: upload exceeds limit of %d bytes",
			domain.ErrValidation, domain.ErrFileTooLarge, i.maxBytes)
	}

	staged := &StagedInput{
		Path:         path,
		ContentHash:  fingerprint.Encode(h),
		Ext:          ext,
		OriginalName: filepath.Base(u.Filename),
		Size:         written,
	}

	i.logger.Info("Upload staged",
		slog.String("file_name", staged.OriginalName),
		slog.String("content_hash", staged.ContentHash),
		slog.Int64("size", written),
	)

	return staged, nil
}

// Promote moves a staged input into content-addressed storage.
// A second upload with identical bytes is discarded instead of duplicated.
func (i *Intake) Promote(s *StagedInput) (string, error) {
	dst, existed, err := i.blobs.Place(s.Path, s.ContentHash, s.Ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	if existed {
		i.logger.Info("Upload already in storage, discarded staged copy",
			slog.String("content_hash", s.ContentHash),
			slog.String("path", dst),
		)
	} else {
		i.logger.Info("Moved upload to permanent storage",
			slog.String("content_hash", s.ContentHash),
			slog.String("path", dst),
		)
	}

	return dst, nil
}

// Release deletes a staged file. Failures are logged and otherwise ignored;
// leftovers in the temp directory are swept out of band.
func (i *Intake) Release(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		i.logger.Error("Failed to clean up staged file",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
