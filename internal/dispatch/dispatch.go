// Package dispatch hands transformation jobs to the broker.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/shared/rabbitmq"
	"github.com/google/uuid"
)

// Default AMQP priorities
const (
	DefaultPriority     uint8 = 4
	EnhancementPriority uint8 = 5
)

// Publisher sends one message to the work queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// StateStore records job status before the job becomes visible to workers
type StateStore interface {
	Put(ctx context.Context, status domain.JobStatus) error
	Delete(ctx context.Context, handle domain.JobHandle) error
}

// Config holds dispatch priorities
type Config struct {
	DefaultPriority     uint8
	EnhancementPriority uint8
}

// Job is what the orchestrator asks to run
type Job struct {
	// Handle is optional; a fresh one is generated when empty
	Handle       domain.JobHandle
	Key          domain.CacheKey
	InputPath    string
	OriginalName string
}

// Dispatcher publishes jobs and never touches the result store
type Dispatcher struct {
	publisher Publisher
	states    StateStore
	config    Config
	logger    *slog.Logger
}

// New creates a Dispatcher. Zero priorities fall back to the defaults.
func New(publisher Publisher, states StateStore, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = DefaultPriority
	}
	if cfg.EnhancementPriority == 0 {
		cfg.EnhancementPriority = EnhancementPriority
	}
	return &Dispatcher{
		publisher: publisher,
		states:    states,
		config:    cfg,
		logger:    logger,
	}
}

// NewHandle returns a fresh job handle
func NewHandle() domain.JobHandle {
	return domain.JobHandle(uuid.NewString())
}

// PriorityFor returns the broker priority for opts
func (d *Dispatcher) PriorityFor(opts domain.Options) uint8 {
	if opts.UseEnhancement {
		return d.config.EnhancementPriority
	}
	return d.config.DefaultPriority
}

// Submit records SUBMITTED state and publishes the job. If the broker rejects it
// the state is removed again and domain.ErrEnqueue is returned.
func (d *Dispatcher) Submit(ctx context.Context, job Job) (domain.JobHandle, error) {
	handle := job.Handle
	if handle == "" {
		handle = NewHandle()
	}

	priority := d.PriorityFor(job.Key.Options)
	now := time.Now().UTC()

	status := domain.JobStatus{
		Handle:       handle,
		State:        domain.JobStateSubmitted,
		Key:          job.Key,
		OriginalName: job.OriginalName,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	if err := d.states.Put(ctx, status); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueue, err)
	}

	body, err := json.Marshal(domain.JobMessage{
		JobID:        string(handle),
		InputPath:    job.InputPath,
		ContentHash:  job.Key.ContentHash,
		OriginalName: job.OriginalName,
		Options:      job.Key.Options,
		Priority:     priority,
	})
	if err != nil {
		d.forget(ctx, handle)
		return "", fmt.Errorf("%w: failed to encode job message: %v", domain.ErrEnqueue, err)
	}

	err = d.publisher.PublishWithRetry(ctx, rabbitmq.Message{
		MessageID:   string(handle),
		ContentType: "application/json",
		Priority:    priority,
		Body:        body,
	})
	if err != nil {
		d.logger.Error("Failed to publish job",
			slog.String("job_id", string(handle)),
			slog.String("key", job.Key.String()),
			slog.Any("error", err),
		)
		d.forget(ctx, handle)
		return "", fmt.Errorf("%w: %v", domain.ErrEnqueue, err)
	}

	d.logger.Info("Job dispatched",
		slog.String("job_id", string(handle)),
		slog.String("key", job.Key.String()),
		slog.Int("priority", int(priority)),
	)

	return handle, nil
}

func (d *Dispatcher) forget(ctx context.Context, handle domain.JobHandle) {
	if err := d.states.Delete(context.WithoutCancel(ctx), handle); err != nil {
		d.logger.Warn("Failed to remove state of undispatched job",
			slog.String("job_id", string(handle)),
			slog.Any("error", err),
		)
	}
}
