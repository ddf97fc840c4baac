package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/worker/engine"
)

// errShutdown marks a job interrupted by worker shutdown; it goes back on the queue
var errShutdown = errors.New("worker shutting down")

// processJob runs one job: RUNNING, transform, store assets and result, SUCCEEDED.
// Engine failures are recorded and reported as domain.ErrTransformation; store and
// filesystem errors come back as RetryableError.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	handle := domain.JobHandle(msg.JobID)
	key := msg.Key()
	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("key", key.String()),
	)

	if err := w.states.Transition(ctx, handle, domain.JobStateRunning, ""); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", errShutdown, err)
		}
		if !errors.Is(err, domain.ErrJobNotFound) {
			return domain.NewRetryableError(fmt.Errorf("failed to mark job running: %w", err))
		}
		logger.Warn("Job state expired, processing anyway")
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.sendClaimHeartbeat(jobCtx, msg, heartbeatDone)

	start := time.Now()
	result, err := w.engine.Transform(jobCtx, engine.Request{
		InputPath: msg.InputPath,
		Options:   msg.Options,
	})
	close(heartbeatDone)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", errShutdown, err)
		}
		if !errors.Is(err, domain.ErrTransformation) {
			return domain.NewRetryableError(err)
		}
		logger.Error("Transformation failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		w.recordFailure(ctx, msg, err.Error())
		return err
	}

	// finished work is persisted even if shutdown starts now
	persistCtx := context.WithoutCancel(ctx)

	paths, err := w.saveAssets(msg, result.Assets)
	if err != nil {
		return domain.NewRetryableError(err)
	}

	_, err = w.results.RecordSuccess(persistCtx, key, msg.OriginalName, result.Markdown, paths)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		logger.Info("Result already recorded by an earlier job")
	case err != nil:
		return domain.NewRetryableError(fmt.Errorf("failed to record result: %w", err))
	}

	if err := w.states.Transition(persistCtx, handle, domain.JobStateSucceeded, ""); err != nil {
		logger.Error("Failed to mark job succeeded",
			slog.Any("error", err),
		)
	}
	w.releaseClaim(persistCtx, msg)

	logger.Info("Transformation finished",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("payload_bytes", len(result.Markdown)),
		slog.Int("asset_count", len(paths)),
	)

	return nil
}

// saveAssets writes derived files when the job asked for them
func (w *Worker) saveAssets(msg *domain.JobMessage, assets []engine.Asset) ([]string, error) {
	if !msg.Options.ExtractAssets || len(assets) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(assets))
	for _, a := range assets {
		rel, err := w.assets.SaveAsset(msg.ContentHash, a.Name, a.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to save asset: %w", err)
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

// recordFailure persists a terminal failure. If another job already completed
// the key, this job is reported as succeeded instead.
func (w *Worker) recordFailure(ctx context.Context, msg *domain.JobMessage, reason string) {
	ctx = context.WithoutCancel(ctx)
	handle := domain.JobHandle(msg.JobID)
	state := domain.JobStateFailed

	err := w.results.RecordFailure(ctx, msg.Key(), msg.OriginalName, reason)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		w.logger.Info("Key already completed, keeping existing result",
			slog.String("job_id", msg.JobID),
		)
		state = domain.JobStateSucceeded
		reason = ""
	case err != nil:
		w.logger.Error("Failed to record failure",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}

	if err := w.states.Transition(ctx, handle, state, reason); err != nil {
		w.logger.Error("Failed to update job state",
			slog.String("job_id", msg.JobID),
			slog.String("state", string(state)),
			slog.Any("error", err),
		)
	}
	w.releaseClaim(ctx, msg)
}

func (w *Worker) releaseClaim(ctx context.Context, msg *domain.JobMessage) {
	if err := w.states.ReleaseInFlight(ctx, msg.Key(), domain.JobHandle(msg.JobID)); err != nil {
		w.logger.Warn("Failed to release key claim",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}
}

// sendClaimHeartbeat keeps the in-flight claim alive while the engine runs
func (w *Worker) sendClaimHeartbeat(ctx context.Context, msg *domain.JobMessage, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.states.RefreshInFlight(ctx, msg.Key(), domain.JobHandle(msg.JobID)); err != nil {
				w.logger.Warn("Failed to refresh key claim",
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
