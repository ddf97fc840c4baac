// Package storage is the durable result store: one result_records row per CacheKey.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const keyPredicate = `content_hash = $1 AND use_enhancement = $2 AND paginate = $3
	AND extract_assets = $4 AND force_full_reprocess = $5`

// ResultStore handles all result_records operations. Every mutating call runs in
// its own transaction; unique-key races surface as domain.ErrAlreadyExists.
type ResultStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewResultStore creates a new ResultStore
func NewResultStore(db *sqlx.DB, logger *slog.Logger) *ResultStore {
	return &ResultStore{
		db:     db,
		logger: logger,
	}
}

func keyArgs(key domain.CacheKey) []any {
	return []any{
		key.ContentHash,
		key.Options.UseEnhancement,
		key.Options.Paginate,
		key.Options.ExtractAssets,
		key.Options.ForceFullReprocess,
	}
}

// Lookup returns the record for key, or domain.ErrRecordNotFound
func (s *ResultStore) Lookup(ctx context.Context, key domain.CacheKey) (*domain.ResultRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM result_records WHERE ` + keyPredicate

	var row resultRow
	if err := s.db.GetContext(ctx, &row, query, keyArgs(key)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to lookup result record: %w", err)
	}

	return row.toDomain(), nil
}

// CreatePending inserts a PENDING record for key. A FAILED record is reset to
// PENDING so the key can be retried; any other existing record yields
// domain.ErrAlreadyExists.
func (s *ResultStore) CreatePending(ctx context.Context, key domain.CacheKey, originalName string) (*domain.ResultRecord, error) {
	query := `
		INSERT INTO result_records (
			content_hash, use_enhancement, paginate, extract_assets, force_full_reprocess,
			original_name, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uix_result_records_key DO UPDATE
		SET status = EXCLUDED.status,
		    error_message = NULL,
		    original_name = EXCLUDED.original_name
		WHERE result_records.status = '` + domain.RecordStatusFailed + `'
		RETURNING ` + recordColumns

	args := append(keyArgs(key), originalName, domain.RecordStatusPending)

	var row resultRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &row, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("failed to create pending record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Pending record created",
		slog.String("key", key.String()),
		slog.Int64("id", row.ID),
	)

	return row.toDomain(), nil
}

// RevertPending undoes a CreatePending whose job was never enqueued. With a
// FAILED prior the row goes back to it; otherwise the row is deleted. Rows a
// worker has already moved out of PENDING are left untouched.
func (s *ResultStore) RevertPending(ctx context.Context, key domain.CacheKey, prior *domain.ResultRecord) error {
	query := `DELETE FROM result_records WHERE ` + keyPredicate + ` AND status = $6`
	args := append(keyArgs(key), domain.RecordStatusPending)

	if prior != nil && prior.Status == domain.RecordStatusFailed {
		query = `
			UPDATE result_records
			SET status = $7,
			    error_message = $8,
			    original_name = $9
			WHERE ` + keyPredicate + ` AND status = $6`
		args = append(args, domain.RecordStatusFailed, prior.ErrorMessage, prior.OriginalName)
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to revert pending record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Debug("No pending record to revert",
				slog.String("key", key.String()),
			)
		}
		return nil
	})
}

// RecordSuccess upserts a COMPLETED record. The first completion wins: when the
// key is already COMPLETED the transaction rolls back and the surviving record is
// returned together with domain.ErrAlreadyExists.
func (s *ResultStore) RecordSuccess(ctx context.Context, key domain.CacheKey, originalName, payload string, paths []string) (*domain.ResultRecord, error) {
	query := `
		INSERT INTO result_records (
			content_hash, use_enhancement, paginate, extract_assets, force_full_reprocess,
			original_name, status, payload, asset_paths
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT uix_result_records_key DO UPDATE
		SET status = EXCLUDED.status,
		    payload = EXCLUDED.payload,
		    asset_paths = EXCLUDED.asset_paths,
		    error_message = NULL,
		    original_name = CASE
		        WHEN result_records.original_name = '' THEN EXCLUDED.original_name
		        ELSE result_records.original_name
		    END
		WHERE result_records.status <> '` + domain.RecordStatusCompleted + `'
		RETURNING ` + recordColumns

	args := append(keyArgs(key), originalName, domain.RecordStatusCompleted, payload, assetPaths(paths))

	var row resultRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &row, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("failed to record success: %w", err)
		}
		return nil
	})

	if errors.Is(err, domain.ErrAlreadyExists) {
		s.logger.Info("Result already completed by another writer",
			slog.String("key", key.String()),
		)
		existing, lookupErr := s.Lookup(ctx, key)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to load surviving record: %w", lookupErr)
		}
		return existing, domain.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Result recorded",
		slog.String("key", key.String()),
		slog.Int64("id", row.ID),
		slog.Int("asset_count", len(paths)),
	)

	return row.toDomain(), nil
}

// RecordFailure marks key FAILED with message. A COMPLETED record is left alone
// and domain.ErrAlreadyExists is returned.
func (s *ResultStore) RecordFailure(ctx context.Context, key domain.CacheKey, originalName, message string) error {
	query := `
		INSERT INTO result_records (
			content_hash, use_enhancement, paginate, extract_assets, force_full_reprocess,
			original_name, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT uix_result_records_key DO UPDATE
		SET status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message
		WHERE result_records.status <> '` + domain.RecordStatusCompleted + `'`

	args := append(keyArgs(key), originalName, domain.RecordStatusFailed, message)

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrAlreadyExists
		}
		return nil
	})
}

// Touch bumps access accounting for key. Missing keys are a no-op.
func (s *ResultStore) Touch(ctx context.Context, key domain.CacheKey) error {
	query := `
		UPDATE result_records
		SET access_count = access_count + 1,
		    last_accessed_at = NOW()
		WHERE ` + keyPredicate

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, keyArgs(key)...)
		if err != nil {
			return fmt.Errorf("failed to touch result record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Debug("Touch on missing record ignored",
				slog.String("key", key.String()),
			)
		}
		return nil
	})
}

// CountPending returns how many records are waiting on a worker
func (s *ResultStore) CountPending(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM result_records WHERE status = $1`
	if err := s.db.GetContext(ctx, &count, query, domain.RecordStatusPending); err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return count, nil
}

func (s *ResultStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction",
				slog.Any("error", rbErr),
			)
		}
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// isUniqueViolation checks for SQLSTATE 23505
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
