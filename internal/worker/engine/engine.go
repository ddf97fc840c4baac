// Package engine runs the external document-to-markdown transformation.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
)

const (
	// InputPlaceholder is replaced by the original document path
	InputPlaceholder = "{input}"

	// OutputPlaceholder is replaced by a fresh output directory
	OutputPlaceholder = "{output}"

	maxOutputTail = 2048

	// waitDelay bounds how long orphaned children may hold the output pipes after a kill
	waitDelay = 2 * time.Second
)

// Request is one transformation to run
type Request struct {
	InputPath string
	Options   domain.Options
}

// Asset is a derived file produced next to the markdown
type Asset struct {
	Name string // slash-separated, relative to the engine output directory
	Data []byte
}

// Result is what a successful transformation produced
type Result struct {
	Markdown string
	Assets   []Asset
}

// Transformer converts one document. Implementations must be safe for concurrent use.
type Transformer interface {
	Transform(ctx context.Context, req Request) (*Result, error)
}

// CommandConfig describes the external converter invocation
type CommandConfig struct {
	Command string
	Args    []string
	// WorkDir is where per-job output directories are created; empty means os.TempDir
	WorkDir string
	Env     []string
}

// CommandTransformer runs a converter binary per job. The binary writes one
// .md file and any number of asset files into the output directory.
type CommandTransformer struct {
	config CommandConfig
	logger *slog.Logger
}

// NewCommandTransformer checks the command is resolvable and returns a transformer
func NewCommandTransformer(cfg CommandConfig, logger *slog.Logger) (*CommandTransformer, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("engine command is required")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("failed to find engine command %q: %w", cfg.Command, err)
	}
	return &CommandTransformer{config: cfg, logger: logger}, nil
}

// Transform runs the command against req.InputPath
func (t *CommandTransformer) Transform(ctx context.Context, req Request) (*Result, error) {
	if _, err := os.Stat(req.InputPath); err != nil {
		return nil, fmt.Errorf("%w: input not readable: %v", domain.ErrTransformation, err)
	}

	outDir, err := os.MkdirTemp(t.config.WorkDir, "convert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := make([]string, len(t.config.Args))
	for i, arg := range t.config.Args {
		arg = strings.ReplaceAll(arg, InputPlaceholder, req.InputPath)
		args[i] = strings.ReplaceAll(arg, OutputPlaceholder, outDir)
	}

	cmd := exec.CommandContext(ctx, t.config.Command, args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Env = append(cmd.Env, optionEnv(req.Options)...)
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransformation, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v: %s", domain.ErrTransformation, err, tail(output.String()))
	}

	t.logger.Debug("Engine finished",
		slog.String("input", req.InputPath),
		slog.Duration("elapsed", elapsed),
	)

	return collect(outDir)
}

func optionEnv(opts domain.Options) []string {
	return []string{
		"CONVERT_USE_ENHANCEMENT=" + strconv.FormatBool(opts.UseEnhancement),
		"CONVERT_PAGINATE=" + strconv.FormatBool(opts.Paginate),
		"CONVERT_EXTRACT_ASSETS=" + strconv.FormatBool(opts.ExtractAssets),
		"CONVERT_FORCE_FULL_REPROCESS=" + strconv.FormatBool(opts.ForceFullReprocess),
	}
}

// collect reads the first markdown file (by name) and every other file as an
// asset named by its slash-separated path below dir
func collect(dir string) (*Result, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read engine output: %w", err)
	}
	sort.Strings(files)

	result := &Result{}
	found := false
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine output: %w", err)
		}
		if !found && strings.EqualFold(filepath.Ext(path), ".md") {
			result.Markdown = string(data)
			found = true
			continue
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine output: %w", err)
		}
		result.Assets = append(result.Assets, Asset{Name: filepath.ToSlash(rel), Data: data})
	}

	if !found {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransformation, errNoMarkdown)
	}
	return result, nil
}

var errNoMarkdown = errors.New("engine produced no markdown")

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		return s[len(s)-maxOutputTail:]
	}
	return s
}
