package internal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters of processor calls and renewal outcomes.
// A nil *Metrics records nothing.
type Metrics struct {
	ProcessorRequests metric.Int64Counter
	ProcessorLatency  metric.Float64Histogram
	RenewalOutcomes   metric.Int64Counter
}

func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	processorRequests, err := meter.Int64Counter(
		"processor_requests_total",
		metric.WithDescription("Total number of requests sent to the payment processor"),
	)
	if err != nil {
		return nil, err
	}

	processorLatency, err := meter.Float64Histogram(
		"processor_request_seconds",
		metric.WithDescription("Payment processor round trip time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	renewalOutcomes, err := meter.Int64Counter(
		"renewal_outcomes_total",
		metric.WithDescription("Total number of processed subscription renewals"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ProcessorRequests: processorRequests,
		ProcessorLatency:  processorLatency,
		RenewalOutcomes:   renewalOutcomes,
	}, nil
}

// RecordProcessorRequest counts one processor call with its result classifier.
func (m *Metrics) RecordProcessorRequest(ctx context.Context, operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attributes := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.ProcessorRequests.Add(ctx, 1, attributes)
	m.ProcessorLatency.Record(ctx, elapsed.Seconds(), attributes)
}

func (m *Metrics) RecordRenewal(ctx context.Context, result string, dryRun bool) {
	if m == nil {
		return
	}
	m.RenewalOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("result", result),
			attribute.Bool("dry_run", dryRun),
		),
	)
}
