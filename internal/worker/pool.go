package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-converter/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs jobs until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for t := range w.jobsChan {
		logger.Info("Worker received job",
			slog.String("job_id", t.msg.JobID),
			slog.Uint64("delivery_tag", t.delivery.DeliveryTag),
		)

		err := w.processJob(ctx, t.msg)
		w.settle(ctx, logger, t, err)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

// settle ACKs or NACKs the delivery for a processed job
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, t *task, err error) {
	jobID := t.msg.JobID

	if err == nil {
		if ackErr := t.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message",
				slog.String("job_id", jobID),
				slog.Any("error", ackErr),
			)
			return
		}
		logger.Info("Job completed successfully",
			slog.String("job_id", jobID),
		)
		return
	}

	requeue := w.shouldRequeueJob(err, t.delivery.Redelivered)

	logger.Error("Job processing failed",
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	// engine failures were already recorded by processJob
	if !requeue && !errors.Is(err, domain.ErrTransformation) {
		w.abandon(ctx, t.msg, err)
	}

	if nackErr := t.delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type.
// Transient errors get one more attempt; a redelivered message is not requeued again.
func (w *Worker) shouldRequeueJob(err error, redelivered bool) bool {
	if errors.Is(err, errShutdown) {
		return true
	}

	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrTransformation) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return !redelivered
	}

	return false
}

// abandon gives up on a job that failed for reasons other than the engine
func (w *Worker) abandon(ctx context.Context, msg *domain.JobMessage, cause error) {
	w.recordFailure(ctx, msg, cause.Error())
}
