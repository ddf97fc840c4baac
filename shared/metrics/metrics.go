package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// DefaultInterval is used when Config.Interval is zero
const DefaultInterval = 30 * time.Second

// Config holds metrics export configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Interval       time.Duration // export period
	Output         string        // stdout, stderr, or file path

	// writer overrides Output; set by tests
	writer io.Writer
}

// Provider wraps the meter provider handed to instrumented packages
type Provider struct {
	metric.MeterProvider
	shutdown func(context.Context) error
	closer   io.Closer
}

// New builds an SDK meter provider exporting every Interval, or a no-op
// provider when metrics are disabled. It is also installed as the global provider.
func New(cfg *Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{MeterProvider: noop.NewMeterProvider()}, nil
	}

	writer, closer, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
	if err != nil {
		closeQuietly(closer)
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	return &Provider{MeterProvider: mp, shutdown: mp.Shutdown, closer: closer}, nil
}

// Shutdown flushes pending measurements and releases the output file
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	if p.shutdown != nil {
		if shutdownErr := p.shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down meter provider: %w", shutdownErr)
		}
	}
	if p.closer != nil {
		if closeErr := p.closer.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close metrics output: %w", closeErr)
		}
	}
	return err
}

func openOutput(cfg *Config) (io.Writer, io.Closer, error) {
	if cfg.writer != nil {
		return cfg.writer, nil, nil
	}

	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout", "":
		return os.Stdout, nil, nil
	}

	if dir := filepath.Dir(cfg.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	return f, f, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
