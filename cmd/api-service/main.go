package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/doc-converter/internal/api/handler"
	"github.com/cuongbtq/doc-converter/internal/api/router"
	"github.com/cuongbtq/doc-converter/internal/blob"
	"github.com/cuongbtq/doc-converter/internal/config"
	"github.com/cuongbtq/doc-converter/internal/conversion"
	"github.com/cuongbtq/doc-converter/internal/dispatch"
	"github.com/cuongbtq/doc-converter/internal/hotcache"
	"github.com/cuongbtq/doc-converter/internal/intake"
	"github.com/cuongbtq/doc-converter/internal/jobstate"
	"github.com/cuongbtq/doc-converter/internal/resolver"
	"github.com/cuongbtq/doc-converter/internal/storage"
	"github.com/cuongbtq/doc-converter/shared/logger"
	"github.com/cuongbtq/doc-converter/shared/metrics"
	"github.com/cuongbtq/doc-converter/shared/postgresql"
	"github.com/cuongbtq/doc-converter/shared/rabbitmq"
	"github.com/cuongbtq/doc-converter/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	meterProvider, err := initMetrics(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(flushCtx); err != nil {
			appLogger.Warn("Failed to flush metrics",
				slog.Any("error", err),
			)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := storage.RunMigrations(dbClient.GetDB().DB); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		appLogger.Info("Database schema is up to date")
	}

	redisClient, err := initRedis(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	service, err := initConversionService(cfg, appLogger.Logger, meterProvider, dbClient, redisClient, rabbitClient)
	if err != nil {
		return fmt.Errorf("failed to initialize conversion service: %w", err)
	}

	r := initRouter(cfg, appLogger.Logger, service, map[string]handler.Check{
		"postgres": dbClient.HealthCheck,
		"redis":    redisClient.HealthCheck,
		"rabbitmq": func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("API service is running",
			slog.String("address", addr),
			slog.Bool("enhancement_available", service.EnhancementAvailable()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initMetrics builds the meter provider; a no-op one when metrics are disabled
func initMetrics(cfg *config.Config) (*metrics.Provider, error) {
	return metrics.New(&metrics.Config{
		Enabled:        cfg.Metrics.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Interval:       cfg.Metrics.ExportInterval,
		Output:         cfg.Metrics.Output,
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

// initConversionService wires intake, stores, dispatch and the resolver into one service
func initConversionService(
	cfg *config.Config,
	logger *slog.Logger,
	meterProvider metric.MeterProvider,
	dbClient *postgresql.Client,
	redisClient *redis.Client,
	rabbitClient *rabbitmq.Client,
) (*conversion.Service, error) {
	blobs, err := blob.New(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	in, err := intake.New(intake.Config{
		TempDir:           cfg.Storage.TempDir,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes(),
		AllowedExtensions: cfg.Storage.AllowedExtensions,
	}, blobs, logger)
	if err != nil {
		return nil, err
	}

	cache, err := hotcache.New(cfg.Conversion.HotCacheSize)
	if err != nil {
		return nil, err
	}

	results := storage.NewResultStore(dbClient.GetDB(), logger)
	states := jobstate.NewStore(redisClient.GetClient(), cfg.Redis.StatusTTL, cfg.Redis.ClaimTTL)

	dispatcher := dispatch.New(rabbitClient, states, dispatch.Config{
		DefaultPriority:     cfg.RabbitMQ.Priority.Default,
		EnhancementPriority: cfg.RabbitMQ.Priority.Enhancement,
	}, logger)

	return conversion.NewService(conversion.Config{
		EnhancementAvailable: cfg.Conversion.EnhancementAvailable,
	}, conversion.Dependencies{
		Intake:     in,
		Store:      results,
		Cache:      cache,
		Dispatcher: dispatcher,
		Claims:     states,
		Resolver:   resolver.New(states, results, cache, logger),
		Metrics:    conversion.NewMetrics(meterProvider),
		Logger:     logger,
	}), nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, service *conversion.Service, checks map[string]handler.Check) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:      logger,
		Service:     service,
		Checks:      checks,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, cfg.Conversion.MaxMultipartMemoryMB<<20)
}
