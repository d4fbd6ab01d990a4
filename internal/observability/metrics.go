package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the engine's custom metrics.
type EngineMetrics struct {
	queryCounter       metric.Int64Counter
	queryErrors        metric.Int64Counter
	statementsPerBatch metric.Int64Histogram
	rowsMaterialized   metric.Int64Histogram
	mutationCounter    metric.Int64Counter
	mutationErrors     metric.Int64Counter
	batchRollbacks     metric.Int64Counter
}

// InitEngineMetrics registers the engine metrics against the global meter.
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter(scopeName)

	queryCounter, err := meter.Int64Counter(
		"nestql.queries.total",
		metric.WithDescription("Total number of object queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	queryErrors, err := meter.Int64Counter(
		"nestql.query.errors.total",
		metric.WithDescription("Total number of failed object queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query error counter: %w", err)
	}

	statementsPerBatch, err := meter.Int64Histogram(
		"nestql.batch.statements",
		metric.WithDescription("Number of SQL statements per compiled batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statements histogram: %w", err)
	}

	rowsMaterialized, err := meter.Int64Histogram(
		"nestql.batch.rows",
		metric.WithDescription("Number of rows captured per executed batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	mutationCounter, err := meter.Int64Counter(
		"nestql.mutations.total",
		metric.WithDescription("Total number of mutation actions executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation counter: %w", err)
	}

	mutationErrors, err := meter.Int64Counter(
		"nestql.mutation.errors.total",
		metric.WithDescription("Total number of failed mutation actions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation error counter: %w", err)
	}

	batchRollbacks, err := meter.Int64Counter(
		"nestql.mutation.rollbacks.total",
		metric.WithDescription("Total number of rolled-back mutation batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rollback counter: %w", err)
	}

	return &EngineMetrics{
		queryCounter:       queryCounter,
		queryErrors:        queryErrors,
		statementsPerBatch: statementsPerBatch,
		rowsMaterialized:   rowsMaterialized,
		mutationCounter:    mutationCounter,
		mutationErrors:     mutationErrors,
		batchRollbacks:     batchRollbacks,
	}, nil
}

// RecordQuery records one executed query batch.
func (m *EngineMetrics) RecordQuery(ctx context.Context, table string, statements, rows int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	m.queryCounter.Add(ctx, 1, attrs)
	if err != nil {
		m.queryErrors.Add(ctx, 1, attrs)
		return
	}
	m.statementsPerBatch.Record(ctx, int64(statements), attrs)
	m.rowsMaterialized.Record(ctx, int64(rows), attrs)
}

// RecordMutation records one mutation action outcome.
func (m *EngineMetrics) RecordMutation(ctx context.Context, table, kind string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("kind", kind),
	)
	m.mutationCounter.Add(ctx, 1, attrs)
	if err != nil {
		m.mutationErrors.Add(ctx, 1, attrs)
	}
}

// RecordRollback records one rolled-back mutation batch.
func (m *EngineMetrics) RecordRollback(ctx context.Context, table string) {
	if m == nil {
		return
	}
	m.batchRollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}
