package main

import (
	"fmt"

	"github.com/cuongbtq/doc-converter/internal/storage"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the result store schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, opts, func(e *env, db *dbHandle) error {
					if err := storage.RunMigrations(db.raw); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		newMigrateDownCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, opts, func(e *env, db *dbHandle) error {
					return printVersion(cmd, db)
				})
			},
		},
	)

	return cmd
}

func newMigrateDownCmd(opts *rootOptions) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withDatabase(cmd, opts, func(e *env, db *dbHandle) error {
				if err := storage.RollbackMigrations(db.raw, steps); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func printVersion(cmd *cobra.Command, db *dbHandle) error {
	version, dirty, err := storage.MigrationVersion(db.raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
