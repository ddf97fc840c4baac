package main

import (
	"database/sql"
	"fmt"

	"github.com/cuongbtq/doc-converter/internal/api/dto"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/jobstate"
	"github.com/cuongbtq/doc-converter/internal/storage"
	"github.com/cuongbtq/doc-converter/shared/postgresql"
	"github.com/spf13/cobra"
)

// dbHandle keeps the pooled client and its raw handle together
type dbHandle struct {
	client *postgresql.Client
	raw    *sql.DB
}

func withDatabase(cmd *cobra.Command, opts *rootOptions, fn func(e *env, db *dbHandle) error) error {
	e, err := opts.load(cmd)
	if err != nil {
		return err
	}
	defer e.cancel()

	client, err := e.postgres()
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(e, &dbHandle{client: client, raw: client.GetDB().DB})
}

func newQueueDepthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-depth",
		Short: "Count conversions waiting on a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, opts, func(e *env, db *dbHandle) error {
				pending, err := storage.NewResultStore(db.client.GetDB(), e.logger).CountPending(e.ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.QueueStatusResponse{PendingTasks: pending})
			})
		},
	}
}

// lookupFlags mirrors the option fields accepted by the API
type lookupFlags struct {
	useEnhancement     bool
	paginate           bool
	extractAssets      bool
	forceFullReprocess bool
}

func (f lookupFlags) options() domain.Options {
	return domain.Options{
		UseEnhancement:     f.useEnhancement,
		Paginate:           f.paginate,
		ExtractAssets:      f.extractAssets,
		ForceFullReprocess: f.forceFullReprocess,
	}
}

func newLookupCmd(opts *rootOptions) *cobra.Command {
	defaults := domain.DefaultOptions()
	flags := lookupFlags{}

	cmd := &cobra.Command{
		Use:   "lookup <content_hash>",
		Short: "Show the stored record for a content hash and option set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.NewCacheKey(args[0], flags.options())
			if err != nil {
				return err
			}

			return withDatabase(cmd, opts, func(e *env, db *dbHandle) error {
				record, err := storage.NewResultStore(db.client.GetDB(), e.logger).Lookup(e.ctx, key)
				if err != nil {
					return fmt.Errorf("lookup %s: %w", key, err)
				}
				return printJSON(cmd.OutOrStdout(), dto.NewRecordResponse(record))
			})
		},
	}

	cmd.Flags().BoolVar(&flags.useEnhancement, "use-enhancement", defaults.UseEnhancement, "Enhancement option of the stored result")
	cmd.Flags().BoolVar(&flags.paginate, "paginate", defaults.Paginate, "Paginate option of the stored result")
	cmd.Flags().BoolVar(&flags.extractAssets, "extract-assets", defaults.ExtractAssets, "Extract-assets option of the stored result")
	cmd.Flags().BoolVar(&flags.forceFullReprocess, "force-full-reprocess", defaults.ForceFullReprocess, "Full-reprocess option of the stored result")
	return cmd
}

// jobView is a job status plus whoever currently holds its key
type jobView struct {
	*domain.JobStatus
	InFlightOwner domain.JobHandle `json:"in_flight_owner,omitempty"`
}

func newJobCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job_id>",
		Short: "Show the state of a conversion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()

			client, err := e.redis()
			if err != nil {
				return err
			}
			defer client.Close()

			states := jobstate.NewStore(client.GetClient(), e.cfg.Redis.StatusTTL, e.cfg.Redis.ClaimTTL)
			status, err := states.Get(e.ctx, domain.JobHandle(args[0]))
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}

			view := jobView{JobStatus: status}
			if owner, err := states.InFlightOwner(e.ctx, status.Key); err == nil {
				view.InFlightOwner = owner
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}
