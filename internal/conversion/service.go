// Package conversion orchestrates submissions: fingerprint, look up, and either
// serve a stored result or start exactly one job per CacheKey.
//
// The hot cache is advisory. Every hit is revalidated against the result store,
// which is also where the served payload and asset paths come from, so an entry
// evicted from the store can never be served. A hot entry the store does not
// back is dropped on sight.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/dispatch"
	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/intake"
	"golang.org/x/sync/singleflight"
)

// Stager validates, stages and promotes uploads
type Stager interface {
	Validate(u intake.Upload) error
	Stage(ctx context.Context, u intake.Upload) (*intake.StagedInput, error)
	Promote(s *intake.StagedInput) (string, error)
	Release(path string)
}

// RecordStore is the part of the result store the orchestrator needs
type RecordStore interface {
	Lookup(ctx context.Context, key domain.CacheKey) (*domain.ResultRecord, error)
	CreatePending(ctx context.Context, key domain.CacheKey, originalName string) (*domain.ResultRecord, error)
	RevertPending(ctx context.Context, key domain.CacheKey, prior *domain.ResultRecord) error
	Touch(ctx context.Context, key domain.CacheKey) error
	CountPending(ctx context.Context) (int, error)
}

// Cache is the hot cache
type Cache interface {
	Get(key domain.CacheKey) (string, bool)
	Put(key domain.CacheKey, payload string)
	Remove(key domain.CacheKey)
}

// Dispatcher enqueues jobs
type Dispatcher interface {
	Submit(ctx context.Context, job dispatch.Job) (domain.JobHandle, error)
}

// Claims marks a CacheKey as being produced by a job, across processes
type Claims interface {
	ClaimInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) (domain.JobHandle, bool, error)
	ReleaseInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) error
}

// Resolver answers polls
type Resolver interface {
	Resolve(ctx context.Context, handle domain.JobHandle) (domain.Outcome, error)
}

// Config holds orchestration switches
type Config struct {
	// EnhancementAvailable is false when the engine has no enhancement backend configured
	EnhancementAvailable bool
}

// Dependencies groups the collaborators of a Service
type Dependencies struct {
	Intake     Stager
	Store      RecordStore
	Cache      Cache
	Dispatcher Dispatcher
	Claims     Claims
	Resolver   Resolver
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Service is the single orchestration entry point used by the serving layer
type Service struct {
	intake     Stager
	store      RecordStore
	cache      Cache
	dispatcher Dispatcher
	claims     Claims
	resolver   Resolver
	metrics    *Metrics
	logger     *slog.Logger
	config     Config

	flight singleflight.Group
}

// NewService creates a Service. Claims may be nil, in which case only
// in-process duplicates are suppressed.
func NewService(cfg Config, deps Dependencies) *Service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		intake:     deps.Intake,
		store:      deps.Store,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		claims:     deps.Claims,
		resolver:   deps.Resolver,
		metrics:    metrics,
		logger:     deps.Logger,
		config:     cfg,
	}
}

// EffectiveOptions applies service-level downgrades to what the caller asked for
func (s *Service) EffectiveOptions(opts domain.Options) domain.Options {
	if opts.UseEnhancement && !s.config.EnhancementAvailable {
		s.logger.Warn("Enhancement requested but not available, continuing without it")
		opts.UseEnhancement = false
	}
	return opts
}

// EnhancementAvailable reports whether enhancement requests are honoured
func (s *Service) EnhancementAvailable() bool {
	return s.config.EnhancementAvailable
}

// SubmitOrHit fingerprints the upload and either returns a stored result
// (Success with Cached set) or the handle of the job producing it (InProgress).
// Invalid uploads are rejected before anything is written.
func (s *Service) SubmitOrHit(ctx context.Context, u intake.Upload, opts domain.Options) (domain.Outcome, error) {
	if err := s.intake.Validate(u); err != nil {
		s.metrics.RecordError(ctx, "validate")
		return nil, err
	}

	opts = s.EffectiveOptions(opts)

	staged, err := s.intake.Stage(ctx, u)
	if err != nil {
		s.metrics.RecordError(ctx, "stage")
		return nil, err
	}

	key, err := domain.NewCacheKey(staged.ContentHash, opts)
	if err != nil {
		s.intake.Release(staged.Path)
		return nil, err
	}

	success, _, err := s.lookupCompleted(ctx, key)
	if err != nil {
		s.intake.Release(staged.Path)
		s.metrics.RecordError(ctx, "lookup")
		return nil, err
	}
	if success != nil {
		s.intake.Release(staged.Path)
		s.touch(ctx, key)
		s.metrics.RecordSubmission(ctx, "hit")
		s.logger.Info("Serving stored result",
			slog.String("key", key.String()),
			slog.String("file_name", staged.OriginalName),
		)
		return *success, nil
	}

	return s.startJob(ctx, key, staged)
}

// startJob collapses concurrent misses for one key onto a single leader
func (s *Service) startJob(ctx context.Context, key domain.CacheKey, staged *intake.StagedInput) (domain.Outcome, error) {
	led := false
	v, err, _ := s.flight.Do(key.String(), func() (any, error) {
		led = true
		return s.lead(context.WithoutCancel(ctx), key, staged)
	})

	if !led {
		// the leader's staged copy is the one that got promoted
		s.intake.Release(staged.Path)
	}
	if err != nil {
		return nil, err
	}

	outcome := v.(domain.Outcome)
	if progress, ok := outcome.(domain.InProgress); ok && !led {
		progress.Deduplicated = true
		outcome = progress
	}

	switch o := outcome.(type) {
	case domain.InProgress:
		if o.Deduplicated {
			s.metrics.RecordSubmission(ctx, "deduplicated")
			s.logger.Info("Attached to running job",
				slog.String("job_id", string(o.Handle)),
				slog.String("key", key.String()),
			)
		} else {
			s.metrics.RecordSubmission(ctx, "dispatched")
		}
	case domain.Success:
		if !led {
			// the leader touched once for itself
			s.touch(ctx, key)
		}
		s.metrics.RecordSubmission(ctx, "hit")
	}

	return outcome, nil
}

// lead runs once per key at a time: claim, promote, mark pending, dispatch.
// The PENDING row is written before the job is published so a worker that
// finishes first always has the last word on it.
func (s *Service) lead(ctx context.Context, key domain.CacheKey, staged *intake.StagedInput) (domain.Outcome, error) {
	handle := dispatch.NewHandle()

	claimed, err := s.claim(ctx, key, handle)
	if err != nil {
		s.intake.Release(staged.Path)
		return nil, err
	}
	if claimed != handle {
		s.intake.Release(staged.Path)
		return domain.InProgress{
			Handle:       claimed,
			Key:          key,
			State:        domain.JobStateSubmitted,
			Deduplicated: true,
		}, nil
	}

	// a job may have completed between the first lookup and the claim
	success, prior, err := s.lookupCompleted(ctx, key)
	if err != nil {
		s.intake.Release(staged.Path)
		s.releaseClaim(ctx, key, handle)
		s.metrics.RecordError(ctx, "lookup")
		return nil, err
	}
	if success != nil {
		s.intake.Release(staged.Path)
		s.releaseClaim(ctx, key, handle)
		s.touch(ctx, key)
		return *success, nil
	}

	inputPath, err := s.intake.Promote(staged)
	if err != nil {
		s.intake.Release(staged.Path)
		s.releaseClaim(ctx, key, handle)
		s.metrics.RecordError(ctx, "promote")
		return nil, err
	}

	created := true
	if _, err := s.store.CreatePending(ctx, key, staged.OriginalName); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			s.intake.Release(staged.Path)
			s.releaseClaim(ctx, key, handle)
			s.metrics.RecordError(ctx, "store")
			return nil, fmt.Errorf("failed to create pending record: %w", err)
		}
		// left behind by an earlier job; not ours to revert
		created = false
	}

	dispatched, err := s.dispatcher.Submit(ctx, dispatch.Job{
		Handle:       handle,
		Key:          key,
		InputPath:    inputPath,
		OriginalName: staged.OriginalName,
	})
	if err != nil {
		// the promoted original is content-addressed and safe to keep
		s.intake.Release(staged.Path)
		if created {
			s.revertPending(ctx, key, prior)
		}
		s.releaseClaim(ctx, key, handle)
		s.metrics.RecordError(ctx, "enqueue")
		if !errors.Is(err, domain.ErrEnqueue) {
			err = fmt.Errorf("%w: %v", domain.ErrEnqueue, err)
		}
		return nil, err
	}

	s.logger.Info("Conversion job started",
		slog.String("job_id", string(dispatched)),
		slog.String("key", key.String()),
		slog.String("file_name", staged.OriginalName),
	)

	return domain.InProgress{
		Handle: dispatched,
		Key:    key,
		State:  domain.JobStateSubmitted,
	}, nil
}

func (s *Service) revertPending(ctx context.Context, key domain.CacheKey, prior *domain.ResultRecord) {
	if err := s.store.RevertPending(ctx, key, prior); err != nil {
		s.logger.Error("Failed to revert pending record",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
	}
}

// claim returns the handle owning key after trying to take it for handle.
// Without a claim backend, or when it fails, handle is returned as owner.
func (s *Service) claim(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) (domain.JobHandle, error) {
	if s.claims == nil {
		return handle, nil
	}

	owner, claimed, err := s.claims.ClaimInFlight(ctx, key, handle)
	if err != nil {
		s.logger.Warn("Failed to claim key, relying on store uniqueness",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
		return handle, nil
	}
	if !claimed {
		return owner, nil
	}
	return handle, nil
}

func (s *Service) releaseClaim(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) {
	if s.claims == nil {
		return
	}
	if err := s.claims.ReleaseInFlight(ctx, key, handle); err != nil {
		s.logger.Warn("Failed to release key claim",
			slog.String("key", key.String()),
			slog.String("job_id", string(handle)),
			slog.Any("error", err),
		)
	}
}

// lookupCompleted checks the hot cache, then the store, and returns whatever
// record the store holds alongside the Success. A hot cache entry the store no
// longer backs is evicted and treated as a miss.
func (s *Service) lookupCompleted(ctx context.Context, key domain.CacheKey) (*domain.Success, *domain.ResultRecord, error) {
	_, hot := s.cache.Get(key)
	s.metrics.RecordLookup(ctx, "hot", hot)

	record, err := s.store.Lookup(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("failed to lookup result: %w", err)
	}

	if !record.Completed() {
		if hot {
			s.logger.Warn("Hot cache entry no longer backed by store, evicting",
				slog.String("key", key.String()),
			)
			s.cache.Remove(key)
		}
		s.metrics.RecordLookup(ctx, "store", false)
		return nil, record, nil
	}

	s.metrics.RecordLookup(ctx, "store", true)
	s.cache.Put(key, *record.Payload)

	return &domain.Success{
		Key:        key,
		Payload:    *record.Payload,
		AssetPaths: record.AssetPaths,
		Record:     record,
		Cached:     true,
	}, record, nil
}

func (s *Service) touch(ctx context.Context, key domain.CacheKey) {
	if err := s.store.Touch(ctx, key); err != nil {
		s.logger.Warn("Failed to record access",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
	}
}

// Poll reports the outcome of a previously returned job handle
func (s *Service) Poll(ctx context.Context, handle domain.JobHandle) (domain.Outcome, error) {
	outcome, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			s.metrics.RecordPoll(ctx, "not_found")
		case errors.Is(err, domain.ErrConsistency):
			s.metrics.RecordPoll(ctx, "inconsistent")
		default:
			s.metrics.RecordPoll(ctx, "error")
		}
		return nil, err
	}

	switch outcome.(type) {
	case domain.Success:
		s.metrics.RecordPoll(ctx, "success")
	case domain.Failure:
		s.metrics.RecordPoll(ctx, "failure")
	default:
		s.metrics.RecordPoll(ctx, "in_progress")
	}
	return outcome, nil
}

// QueueDepth returns the number of records still waiting on a worker
func (s *Service) QueueDepth(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// Lookup returns the record stored for key, in whatever state it is.
// It does not count as an access.
func (s *Service) Lookup(ctx context.Context, key domain.CacheKey) (*domain.ResultRecord, error) {
	return s.store.Lookup(ctx, key)
}
