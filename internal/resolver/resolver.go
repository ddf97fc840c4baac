// Package resolver turns a job handle into a caller-facing outcome.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/domain"
)

// StateReader reads job status from the job-state backend
type StateReader interface {
	Get(ctx context.Context, handle domain.JobHandle) (*domain.JobStatus, error)
}

// RecordStore is the part of the result store the resolver needs
type RecordStore interface {
	Lookup(ctx context.Context, key domain.CacheKey) (*domain.ResultRecord, error)
	Touch(ctx context.Context, key domain.CacheKey) error
}

// Cache is the hot cache refreshed on successful polls
type Cache interface {
	Put(key domain.CacheKey, payload string)
}

// Resolver maps job state to Success, Failure or InProgress
type Resolver struct {
	states StateReader
	store  RecordStore
	cache  Cache
	logger *slog.Logger
}

// New creates a Resolver
func New(states StateReader, store RecordStore, cache Cache, logger *slog.Logger) *Resolver {
	return &Resolver{
		states: states,
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Resolve reports the current outcome for handle. Polling a finished job again
// returns the same outcome; successful polls count as accesses.
func (r *Resolver) Resolve(ctx context.Context, handle domain.JobHandle) (domain.Outcome, error) {
	status, err := r.states.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	switch status.State {
	case domain.JobStateSubmitted, domain.JobStateRunning:
		return domain.InProgress{
			Handle: handle,
			Key:    status.Key,
			State:  status.State,
		}, nil

	case domain.JobStateFailed:
		return domain.Failure{
			Handle: handle,
			Key:    status.Key,
			Reason: status.Error,
		}, nil

	case domain.JobStateSucceeded:
		return r.resolveSuccess(ctx, handle, status.Key)

	default:
		return nil, fmt.Errorf("unknown job state %q for job %s", status.State, handle)
	}
}

func (r *Resolver) resolveSuccess(ctx context.Context, handle domain.JobHandle, key domain.CacheKey) (domain.Outcome, error) {
	record, err := r.store.Lookup(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to lookup result: %w", err)
	}

	if !record.Completed() {
		r.logger.Error("Job succeeded but no completed record exists",
			slog.String("job_id", string(handle)),
			slog.String("key", key.String()),
		)
		return nil, fmt.Errorf("%w: job %s", domain.ErrConsistency, handle)
	}

	if err := r.store.Touch(ctx, key); err != nil {
		r.logger.Warn("Failed to record access",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
	}

	r.cache.Put(key, *record.Payload)

	return domain.Success{
		Key:        key,
		Payload:    *record.Payload,
		AssetPaths: record.AssetPaths,
		Record:     record,
	}, nil
}
