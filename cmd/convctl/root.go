package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/doc-converter/internal/config"
	"github.com/cuongbtq/doc-converter/shared/logger"
	"github.com/cuongbtq/doc-converter/shared/postgresql"
	"github.com/cuongbtq/doc-converter/shared/redis"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/api-service/config.yaml"

// options shared by every subcommand
type rootOptions struct {
	configPath string
	timeout    time.Duration
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "convctl",
		Short:        "Operate the document conversion service",
		Long:         `Run schema migrations, inspect the work queue and read stored conversions and job states.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: failed to load .env:", err)
			}
		},
	}

	configPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPath, "Path to configuration file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole command")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection details")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newQueueDepthCmd(opts),
		newLookupCmd(opts),
		newJobCmd(opts),
	)

	return cmd
}

// env bundles what a subcommand needs after loading config
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func (o *rootOptions) load(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	l, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	return &env{cfg: cfg, logger: l.Logger, ctx: ctx, cancel: cancel}, nil
}

func (e *env) postgres() (*postgresql.Client, error) {
	db := e.cfg.Database
	return postgresql.NewClient(e.ctx, &postgresql.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Database,
		SSLMode:         db.SSLMode,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnectAttempts: 1,
	}, e.logger)
}

func (e *env) redis() (*redis.Client, error) {
	r := e.cfg.Redis
	return redis.NewClient(e.ctx, &redis.Config{
		Addr:        r.Addr(),
		Password:    r.Password,
		DB:          r.DB,
		PoolSize:    2,
		DialTimeout: r.DialTimeout,
	}, e.logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
