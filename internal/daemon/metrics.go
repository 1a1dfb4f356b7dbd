package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds scheduler metrics using OTEL semantic conventions
type DaemonMetrics struct {
	ruleRuns     metric.Int64Counter
	ruleDuration metric.Float64Histogram
	ruleRows     metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("hubexport.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	ruleRuns, err := meter.Int64Counter(
		"hubexport.daemon.rule.runs",
		metric.WithDescription("Number of scheduled rule runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	ruleDuration, err := meter.Float64Histogram(
		"hubexport.daemon.rule.duration",
		metric.WithDescription("Duration of scheduled rule runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ruleRows, err := meter.Int64Gauge(
		"hubexport.daemon.rule.rows",
		metric.WithDescription("Rows in the last report produced by a rule"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		ruleRuns:     ruleRuns,
		ruleDuration: ruleDuration,
		ruleRows:     ruleRows,
	}, nil
}

// RecordRuleRun records a rule run with status
func (m *DaemonMetrics) RecordRuleRun(ctx context.Context, rule, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("rule", rule),
		attribute.String("status", status),
	)
	m.ruleRuns.Add(ctx, 1, attrs)
	m.ruleDuration.Record(ctx, durationSeconds, attrs)
}

// RecordRuleRows records the report size of the last successful run
func (m *DaemonMetrics) RecordRuleRows(ctx context.Context, rule string, rows int64) {
	m.ruleRows.Record(ctx, rows, metric.WithAttributes(attribute.String("rule", rule)))
}
