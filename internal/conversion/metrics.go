package conversion

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the conversion metrics
const MeterName = "github.com/cuongbtq/doc-converter/internal/conversion"

// Metrics holds the conversion counters
type Metrics struct {
	submissions metric.Int64Counter
	lookups     metric.Int64Counter
	polls       metric.Int64Counter
	failures    metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global provider when mp is nil
func NewMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	var err error

	m.submissions, err = meter.Int64Counter(
		"conversion.submissions",
		metric.WithDescription("Accepted submissions by outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		m.submissions, _ = meter.Int64Counter("conversion.submissions")
	}

	m.lookups, err = meter.Int64Counter(
		"conversion.cache.lookups",
		metric.WithDescription("Result lookups by tier and hit or miss"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.lookups, _ = meter.Int64Counter("conversion.cache.lookups")
	}

	m.polls, err = meter.Int64Counter(
		"conversion.polls",
		metric.WithDescription("Job status polls by outcome"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		m.polls, _ = meter.Int64Counter("conversion.polls")
	}

	m.failures, err = meter.Int64Counter(
		"conversion.errors",
		metric.WithDescription("Submission errors by stage"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.failures, _ = meter.Int64Counter("conversion.errors")
	}

	return m
}

// RecordSubmission counts one submission ending in outcome (hit, dispatched, deduplicated)
func (m *Metrics) RecordSubmission(ctx context.Context, outcome string) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLookup counts one lookup against tier (hot, store)
func (m *Metrics) RecordLookup(ctx context.Context, tier string, hit bool) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.Bool("hit", hit),
	))
}

// RecordPoll counts one poll ending in outcome
func (m *Metrics) RecordPoll(ctx context.Context, outcome string) {
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordError counts one failed submission at stage
func (m *Metrics) RecordError(ctx context.Context, stage string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
