package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Worker     WorkerConfig     `yaml:"worker"`
	Storage    StorageConfig    `yaml:"storage"`
	Conversion ConversionConfig `yaml:"conversion"`
	Engine     EngineConfig     `yaml:"engine"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectInterval time.Duration `yaml:"connect_interval"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Priority   PriorityConfig   `yaml:"priority"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name        string `yaml:"name"`
	Durable     bool   `yaml:"durable"`
	AutoDelete  bool   `yaml:"auto_delete"`
	Exclusive   bool   `yaml:"exclusive"`
	MaxPriority uint8  `yaml:"max_priority"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// PriorityConfig sets message priorities per job kind
type PriorityConfig struct {
	Default     uint8 `yaml:"default"`
	Enhancement uint8 `yaml:"enhancement"`
}

// RedisConfig holds the job-state backend configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StatusTTL    time.Duration `yaml:"status_ttl"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// MetricsConfig controls OpenTelemetry metric export
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ExportInterval time.Duration `yaml:"export_interval"`
	Output         string        `yaml:"output"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the on-disk locations for uploads and results
type StorageConfig struct {
	UploadDir         string   `yaml:"upload_dir"`
	TempDir           string   `yaml:"temp_dir"`
	MaxUploadSizeMB   int64    `yaml:"max_upload_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// MaxUploadBytes converts the configured limit to bytes
func (s StorageConfig) MaxUploadBytes() int64 {
	return s.MaxUploadSizeMB << 20
}

// ConversionConfig holds orchestration switches
type ConversionConfig struct {
	EnhancementAvailable bool  `yaml:"enhancement_available"`
	HotCacheSize         int   `yaml:"hot_cache_size"`
	MaxMultipartMemoryMB int64 `yaml:"max_multipart_memory_mb"`
}

// EngineConfig describes the external converter command run by workers
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
	Env     []string `yaml:"env"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets and deployment switches come from the environment
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"DB_HOST":           &c.Database.Host,
		"DB_PASSWORD":       &c.Database.Password,
		"RABBITMQ_HOST":     &c.RabbitMQ.Host,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"REDIS_HOST":        &c.Redis.Host,
		"REDIS_PASSWORD":    &c.Redis.Password,
		"UPLOAD_DIR":        &c.Storage.UploadDir,
		"ENGINE_COMMAND":    &c.Engine.Command,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("ENHANCEMENT_AVAILABLE"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ENHANCEMENT_AVAILABLE %q: %w", v, err)
		}
		c.Conversion.EnhancementAvailable = enabled
	}

	if v, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err)
		}
		c.Metrics.Enabled = enabled
	}

	return nil
}

// Validate checks the sections shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return errors.New("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return errors.New("rabbitmq queue name is required")
	}

	if p := c.RabbitMQ.Priority; p.Default > c.RabbitMQ.Queue.MaxPriority || p.Enhancement > c.RabbitMQ.Queue.MaxPriority {
		return fmt.Errorf("rabbitmq priorities must not exceed queue max_priority %d", c.RabbitMQ.Queue.MaxPriority)
	}

	if c.Redis.Host == "" {
		return errors.New("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Storage.UploadDir == "" {
		return errors.New("storage upload_dir is required")
	}

	return nil
}

// ValidateAPIConfig checks everything the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.TempDir == "" {
		return errors.New("storage temp_dir is required")
	}

	if c.Storage.MaxUploadSizeMB <= 0 {
		return errors.New("storage max_upload_size_mb must be greater than 0")
	}

	if c.Conversion.HotCacheSize < 0 {
		return errors.New("conversion hot_cache_size must not be negative")
	}

	if c.Metrics.ExportInterval < 0 {
		return errors.New("metrics export_interval must not be negative")
	}

	return nil
}

// ValidateWorkerConfig checks everything the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return errors.New("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	if c.Engine.Command == "" {
		return errors.New("engine command is required")
	}

	return nil
}
