// Package worker consumes conversion jobs from RabbitMQ and records their results.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/worker/engine"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer delivers job messages with manual acknowledgement
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// ResultWriter persists transformation outcomes
type ResultWriter interface {
	RecordSuccess(ctx context.Context, key domain.CacheKey, originalName, payload string, assetPaths []string) (*domain.ResultRecord, error)
	RecordFailure(ctx context.Context, key domain.CacheKey, originalName, message string) error
}

// StateWriter updates job state and the in-flight claim for the job's key
type StateWriter interface {
	Transition(ctx context.Context, handle domain.JobHandle, state domain.JobState, reason string) error
	RefreshInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) error
	ReleaseInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) error
}

// AssetSaver stores derived files next to the original
type AssetSaver interface {
	SaveAsset(hash, name string, data []byte) (string, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Consumer          Consumer
	Results           ResultWriter
	States            StateWriter
	Assets            AssetSaver
	Engine            engine.Transformer
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker pulls jobs off the queue and runs them on a fixed pool of goroutines
type Worker struct {
	logger            *slog.Logger
	consumer          Consumer
	results           ResultWriter
	states            StateWriter
	assets            AssetSaver
	engine            engine.Transformer
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	jobsChan chan *task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		consumer:          cfg.Consumer,
		results:           cfg.Results,
		states:            cfg.States,
		assets:            cfg.Assets,
		engine:            cfg.Engine,
		workerID:          workerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *task),
		stopChan:          make(chan struct{}),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Start consumes until ctx is canceled or the delivery channel closes.
// In-flight jobs are finished before it returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return nil
}

// Stop asks the pool to stop picking up new jobs
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
