package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the export pipeline instruments.
type Metrics struct {
	runs              metric.Int64Counter
	runDuration       metric.Float64Histogram
	pages             metric.Int64Counter
	findingsFetched   metric.Int64Counter
	findingsKept      metric.Int64Counter
	partitionsWritten metric.Int64Counter
	deliveries        metric.Int64Counter
	stageRetries      metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter("hubexport.orchestrator"))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.runs, err = meter.Int64Counter(
		"hubexport.runs",
		metric.WithDescription("Number of export runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"hubexport.run.duration",
		metric.WithDescription("Duration of export runs"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.pages, err = meter.Int64Counter(
		"hubexport.pages",
		metric.WithDescription("Number of finding pages fetched"),
		metric.WithUnit("{page}"),
	); err != nil {
		return nil, err
	}

	if m.findingsFetched, err = meter.Int64Counter(
		"hubexport.findings.fetched",
		metric.WithDescription("Number of findings returned by Security Hub"),
		metric.WithUnit("{finding}"),
	); err != nil {
		return nil, err
	}

	if m.findingsKept, err = meter.Int64Counter(
		"hubexport.findings.kept",
		metric.WithDescription("Number of findings that passed the filter"),
		metric.WithUnit("{finding}"),
	); err != nil {
		return nil, err
	}

	if m.partitionsWritten, err = meter.Int64Counter(
		"hubexport.partitions.written",
		metric.WithDescription("Number of batch partitions written"),
		metric.WithUnit("{partition}"),
	); err != nil {
		return nil, err
	}

	if m.deliveries, err = meter.Int64Counter(
		"hubexport.deliveries",
		metric.WithDescription("Number of reports delivered"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, err
	}

	if m.stageRetries, err = meter.Int64Counter(
		"hubexport.stage.retries",
		metric.WithDescription("Number of retried stage attempts"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records a finished run with status.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPage records one fetched page and how many of its findings were kept.
func (m *Metrics) RecordPage(ctx context.Context, fetched, kept int) {
	m.pages.Add(ctx, 1)
	m.findingsFetched.Add(ctx, int64(fetched))
	m.findingsKept.Add(ctx, int64(kept))
	m.partitionsWritten.Add(ctx, 1)
}

// RecordDelivery records a sent report.
func (m *Metrics) RecordDelivery(ctx context.Context, mode string) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordRetry records a failed stage attempt that will be retried.
func (m *Metrics) RecordRetry(ctx context.Context, stage string) {
	m.stageRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
