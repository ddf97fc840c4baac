package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/doc-converter/internal/blob"
	"github.com/cuongbtq/doc-converter/internal/config"
	"github.com/cuongbtq/doc-converter/internal/jobstate"
	"github.com/cuongbtq/doc-converter/internal/storage"
	"github.com/cuongbtq/doc-converter/internal/worker"
	"github.com/cuongbtq/doc-converter/internal/worker/engine"
	"github.com/cuongbtq/doc-converter/shared/logger"
	"github.com/cuongbtq/doc-converter/shared/postgresql"
	"github.com/cuongbtq/doc-converter/shared/rabbitmq"
	"github.com/cuongbtq/doc-converter/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), time.Minute)
	defer initCancel()

	dbClient, err := initPostgreSQL(initCtx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := initRedis(initCtx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	blobs, err := blob.New(cfg.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to open upload directory: %w", err)
	}

	transformer, err := engine.NewCommandTransformer(engine.CommandConfig{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
		WorkDir: cfg.Engine.WorkDir,
		Env:     cfg.Engine.Env,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Consumer:          rabbitClient,
		Results:           storage.NewResultStore(dbClient.GetDB(), appLogger.Logger),
		States:            jobstate.NewStore(redisClient.GetClient(), cfg.Redis.StatusTTL, cfg.Redis.ClaimTTL),
		Assets:            blobs,
		Engine:            transformer,
		WorkerID:          cfg.Worker.ID,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	// Canceling ctx aborts running jobs and requeues them
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
		appLogger.Info("Worker service shutdown complete")
		return nil
	}

	// Let running jobs finish, then force the rest back onto the queue
	workerInstance.Stop()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error during shutdown", slog.Any("error", err))
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, requeueing running jobs")
		cancel()
		<-done
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectInterval: cfg.ConnectInterval,
	}, logger)
}

// initRedis initializes the job-state backend client
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		QueueMaxPriority:   cfg.Queue.MaxPriority,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
