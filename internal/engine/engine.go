// Package engine is the top-level facade: it owns the loaded model, the
// dialect, the transformer pipelines, and the database handle, and exposes
// the query and mutation entry points.
package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"nestql/internal/compiler"
	"nestql/internal/dialect"
	"nestql/internal/executor"
	"nestql/internal/introspect"
	"nestql/internal/logging"
	"nestql/internal/model"
	"nestql/internal/mutation"
	"nestql/internal/observability"
	"nestql/internal/qerr"
	"nestql/internal/query"
	"nestql/internal/transform"
)

// Options configures optional engine behavior. Zero values disable the
// corresponding feature.
type Options struct {
	Filters   *transform.FilterPipeline
	Mutations *transform.MutationPipeline
	Limits    compiler.Limits
	Metrics   *observability.EngineMetrics
	Logger    *logging.Logger
}

// Engine executes queries and mutations against one database.
type Engine struct {
	db        *sql.DB
	model     *model.Model
	dialect   dialect.Dialect
	filters   *transform.FilterPipeline
	mutations *transform.MutationPipeline
	limits    compiler.Limits
	metrics   *observability.EngineMetrics
	logger    *logging.Logger

	exec    *executor.Executor
	mutator *mutation.Mutator
}

// New builds an engine over an already-loaded model.
func New(db *sql.DB, m *model.Model, d dialect.Dialect, opts Options) (*Engine, error) {
	if db == nil {
		return nil, qerr.New(qerr.KindValidation, "engine requires a database handle")
	}
	if m == nil {
		return nil, qerr.New(qerr.KindValidation, "engine requires a loaded model")
	}
	if d == nil {
		return nil, qerr.New(qerr.KindValidation, "engine requires a dialect")
	}

	return &Engine{
		db:        db,
		model:     m,
		dialect:   d,
		filters:   opts.Filters,
		mutations: opts.Mutations,
		limits:    opts.Limits,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		exec:      executor.New(db, d),
		mutator:   mutation.New(m, d, opts.Mutations),
	}, nil
}

// Discover introspects a database schema and loads it into a model.
func Discover(ctx context.Context, db *sql.DB, schemaName string, opts ...model.Option) (*model.Model, error) {
	raw, err := introspect.Load(ctx, db, schemaName)
	if err != nil {
		return nil, err
	}
	return model.Load(raw, opts...)
}

// Model returns the engine's loaded model.
func (e *Engine) Model() *model.Model {
	return e.model
}

// Query compiles and runs one query tree and returns the navigable result.
func (e *Engine) Query(ctx context.Context, tctx transform.Context, root *query.Node) (*executor.Execution, error) {
	ctx, log := e.requestLogger(ctx)
	ctx, span := observability.StartSpan(ctx, "engine.query",
		attribute.String("query.root", rootName(root)),
	)
	defer span.End()

	comp := compiler.New(e.model, e.dialect, e.filters, e.limits)
	batch, err := comp.Compile(tctx, root)
	if err != nil {
		observability.RecordSpanError(span, err)
		e.metrics.RecordQuery(ctx, rootName(root), 0, 0, err)
		log.Warn("query compile failed", "root", rootName(root), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.statements", len(batch.Statements)))

	exec, err := e.exec.Run(ctx, batch)
	if err != nil {
		observability.RecordSpanError(span, err)
		e.metrics.RecordQuery(ctx, rootName(root), len(batch.Statements), 0, err)
		log.Error("query failed", "root", rootName(root), "error", err)
		return nil, err
	}

	e.metrics.RecordQuery(ctx, rootName(root), len(batch.Statements), exec.TotalRows(), nil)
	log.Debug("query complete",
		"root", rootName(root),
		"statements", len(batch.Statements),
		"rows", exec.TotalRows(),
	)
	return exec, nil
}

// Mutate applies one action in its own implicit transaction.
func (e *Engine) Mutate(ctx context.Context, tctx transform.Context, table string, action query.Action) (*mutation.Result, error) {
	ctx, log := e.requestLogger(ctx)
	ctx, span := observability.StartSpan(ctx, "engine.mutate",
		attribute.String("db.table", table),
		attribute.String("mutation.kind", action.Kind.String()),
	)
	defer span.End()

	res, err := e.mutator.Apply(ctx, tctx, e.db, table, action)
	e.metrics.RecordMutation(ctx, table, action.Kind.String(), err)
	if err != nil {
		observability.RecordSpanError(span, err)
		log.Error("mutation failed", "table", table, "kind", action.Kind.String(), "error", err)
		return nil, err
	}
	log.Debug("mutation complete",
		"table", table,
		"kind", action.Kind.String(),
		"rows_affected", res.RowsAffected,
	)
	return res, nil
}

// MutateBatch applies the actions in order inside one transaction.
func (e *Engine) MutateBatch(ctx context.Context, tctx transform.Context, actions []mutation.TableAction) ([]*mutation.Result, error) {
	ctx, log := e.requestLogger(ctx)
	ctx, span := observability.StartSpan(ctx, "engine.mutate_batch",
		attribute.Int("mutation.batch_size", len(actions)),
	)
	defer span.End()

	results, err := e.mutator.ApplyBatch(ctx, tctx, e.db, actions)
	if err != nil {
		observability.RecordSpanError(span, err)
		for _, ta := range actions {
			e.metrics.RecordRollback(ctx, ta.Table)
		}
		log.Error("mutation batch failed", "actions", len(actions), "error", err)
		return nil, err
	}
	for _, ta := range actions {
		e.metrics.RecordMutation(ctx, ta.Table, ta.Action.Kind.String(), nil)
	}
	log.Debug("mutation batch complete", "actions", len(actions))
	return results, nil
}

// requestLogger tags the context with a request id and a scoped logger so
// every statement of one request can be correlated in logs.
func (e *Engine) requestLogger(ctx context.Context) (context.Context, *logging.Logger) {
	requestID := logging.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.WithRequestIDContext(ctx, requestID)
	}

	base := e.logger
	if base == nil {
		base = logging.FromContext(ctx)
	}
	log := base.WithRequestID(requestID)
	return logging.WithLogger(ctx, log), log
}

func rootName(root *query.Node) string {
	if root == nil {
		return ""
	}
	return root.Name()
}
