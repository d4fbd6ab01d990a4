// Package mutation translates typed mutation actions into parameterized
// INSERT, UPDATE, and DELETE statements and applies them transactionally.
package mutation

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"nestql/internal/dialect"
	"nestql/internal/logging"
	"nestql/internal/model"
	"nestql/internal/qerr"
	"nestql/internal/query"
	"nestql/internal/transform"
)

// Result reports the outcome of one applied action.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// TotalAffected sums the affected-row counts across batch results.
func TotalAffected(results []*Result) int64 {
	var total int64
	for _, r := range results {
		if r != nil {
			total += r.RowsAffected
		}
	}
	return total
}

// TableAction pairs an action with the table it targets, for batch
// application across tables.
type TableAction struct {
	Table  string
	Action query.Action
}

// Mutator applies mutation actions through the transformer pipeline.
type Mutator struct {
	model    *model.Model
	dialect  dialect.Dialect
	pipeline *transform.MutationPipeline
}

// New builds a mutator.
func New(m *model.Model, d dialect.Dialect, pipeline *transform.MutationPipeline) *Mutator {
	return &Mutator{model: m, dialect: d, pipeline: pipeline}
}

// execer is satisfied by *sql.DB, *sql.Conn, and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply runs one action against exec. The transformer pipeline runs first,
// so an action may reach the database rewritten (a delete turned into a
// soft-delete update) or not at all if a transformer rejects it.
func (m *Mutator) Apply(ctx context.Context, tctx transform.Context, exec execer, tableName string, action query.Action) (*Result, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	table, err := m.model.Table(tableName)
	if err != nil {
		return nil, err
	}

	action, err = m.pipeline.Apply(table, action, tctx)
	if err != nil {
		return nil, err
	}

	sqlText, args, err := m.build(table, action)
	if err != nil {
		return nil, err
	}

	res, err := exec.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, classify(err, table.Name)
	}

	out := &Result{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if action.Kind == query.ActionInsert || action.Kind == query.ActionUpsert {
		if m.dialect.SupportsLastInsertID() {
			if id, err := res.LastInsertId(); err == nil {
				out.LastInsertID = id
			}
		}
	}
	return out, nil
}

// ApplyBatch runs the actions in order inside a single transaction. Any
// failure rolls back every prior action; the batch either lands whole or not
// at all. Batch size limits are checked before a connection is taken.
func (m *Mutator) ApplyBatch(ctx context.Context, tctx transform.Context, db *sql.DB, actions []TableAction) ([]*Result, error) {
	if len(actions) == 0 {
		return nil, qerr.New(qerr.KindValidation, "empty mutation batch")
	}
	if err := m.checkBatchSize(actions); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindExecute, err, "beginning transaction")
	}

	results := make([]*Result, 0, len(actions))
	for i, ta := range actions {
		res, err := m.Apply(ctx, tctx, tx, ta.Table, ta.Action)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error("rollback failed", "error", rbErr)
			}
			return nil, qerr.Wrap(qerr.KindExecute, err,
				"action %d of %d against %q, batch rolled back", i+1, len(actions), ta.Table)
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, qerr.Wrap(qerr.KindExecute, err, "committing batch of %d actions", len(actions))
	}
	return results, nil
}

// checkBatchSize enforces each table's configured maximum before any
// connection work happens.
func (m *Mutator) checkBatchSize(actions []TableAction) error {
	perTable := make(map[string]int)
	for _, ta := range actions {
		perTable[ta.Table]++
	}
	for name, count := range perTable {
		table, err := m.model.Table(name)
		if err != nil {
			return err
		}
		if limit := table.Metadata.BatchMaxSize(); count > limit {
			return qerr.New(qerr.KindValidation,
				"batch holds %d actions against %q, exceeding the limit of %d", count, name, limit)
		}
	}
	return nil
}

func (m *Mutator) build(table *model.Table, action query.Action) (string, []any, error) {
	switch action.Kind {
	case query.ActionInsert:
		return m.buildInsert(table, action, false)
	case query.ActionUpsert:
		return m.buildInsert(table, action, true)
	case query.ActionUpdate:
		return m.buildUpdate(table, action)
	case query.ActionDelete:
		return m.buildDelete(table, action)
	default:
		return "", nil, qerr.New(qerr.KindValidation, "invalid mutation kind")
	}
}

func (m *Mutator) buildInsert(table *model.Table, action query.Action, upsert bool) (string, []any, error) {
	names, values, err := m.resolveValues(table, action.Values)
	if err != nil {
		return "", nil, err
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = m.dialect.QuoteIdentifier(name)
	}

	builder := sq.Insert(m.dialect.TableReference(table.Schema, table.Name)).
		Columns(quoted...).
		Values(values...)

	if upsert {
		conflict := make([]string, 0, len(table.PrimaryKeys))
		pk := make(map[string]bool, len(table.PrimaryKeys))
		for _, col := range table.PrimaryKeys {
			conflict = append(conflict, col.Name)
			pk[col.Name] = true
		}
		if len(conflict) == 0 {
			return "", nil, qerr.New(qerr.KindValidation,
				"upsert on %q requires a primary key", table.Name)
		}
		update := make([]string, 0, len(names))
		for _, name := range names {
			if !pk[name] {
				update = append(update, name)
			}
		}
		builder = builder.Suffix(m.dialect.UpsertSuffix(conflict, update))
	}

	sqlText, args, err := builder.PlaceholderFormat(m.dialect.PlaceholderFormat()).ToSql()
	if err != nil {
		return "", nil, qerr.Wrap(qerr.KindCompile, err, "insert into %q", table.Name)
	}
	return sqlText, args, nil
}

func (m *Mutator) buildUpdate(table *model.Table, action query.Action) (string, []any, error) {
	keyCond, err := m.keyCondition(table, action)
	if err != nil {
		return "", nil, err
	}

	names, values, err := m.resolveValues(table, action.Values)
	if err != nil {
		return "", nil, err
	}

	builder := sq.Update(m.dialect.TableReference(table.Schema, table.Name))
	set := 0
	for i, name := range names {
		if _, isKey := keyCond[m.dialect.QuoteIdentifier(name)]; isKey {
			// Key columns identify the row; they are not updatable here.
			continue
		}
		builder = builder.Set(m.dialect.QuoteIdentifier(name), values[i])
		set++
	}
	if set == 0 {
		return "", nil, qerr.New(qerr.KindValidation,
			"update on %q sets no non-key columns", table.Name)
	}

	sqlText, args, err := builder.Where(keyCond).
		PlaceholderFormat(m.dialect.PlaceholderFormat()).ToSql()
	if err != nil {
		return "", nil, qerr.Wrap(qerr.KindCompile, err, "update of %q", table.Name)
	}
	return sqlText, args, nil
}

func (m *Mutator) buildDelete(table *model.Table, action query.Action) (string, []any, error) {
	keyCond, err := m.keyCondition(table, action)
	if err != nil {
		return "", nil, err
	}

	sqlText, args, err := sq.Delete(m.dialect.TableReference(table.Schema, table.Name)).
		Where(keyCond).
		PlaceholderFormat(m.dialect.PlaceholderFormat()).ToSql()
	if err != nil {
		return "", nil, qerr.Wrap(qerr.KindCompile, err, "delete from %q", table.Name)
	}
	return sqlText, args, nil
}

// keyCondition builds the primary-key equality condition identifying the
// target row. Key values come from Action.Key, falling back to primary-key
// entries inside Action.Values.
func (m *Mutator) keyCondition(table *model.Table, action query.Action) (sq.Eq, error) {
	cond := sq.Eq{}
	for _, pk := range table.PrimaryKeys {
		value, ok := lookupKey(action.Key, pk)
		if !ok {
			value, ok = lookupKey(action.Values, pk)
		}
		if !ok {
			return nil, qerr.New(qerr.KindValidation,
				"%s on %q requires key column %q", action.Kind, table.Name, pk.DisplayName)
		}
		cond[m.dialect.QuoteIdentifier(pk.Name)] = value
	}
	if len(cond) == 0 {
		return nil, qerr.New(qerr.KindValidation,
			"table %q has no primary key to address rows by", table.Name)
	}
	return cond, nil
}

func lookupKey(values map[string]any, col *model.Column) (any, bool) {
	if values == nil {
		return nil, false
	}
	if v, ok := values[col.Name]; ok {
		return v, true
	}
	if v, ok := values[col.DisplayName]; ok {
		return v, true
	}
	return nil, false
}

// resolveValues maps the caller's field names to database column names with
// deterministic ordering. Unknown fields are an error: silently dropping a
// value a caller asked to write is worse than rejecting the action.
func (m *Mutator) resolveValues(table *model.Table, values map[string]any) ([]string, []any, error) {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	names := make([]string, 0, len(fields))
	out := make([]any, 0, len(fields))
	seen := make(map[string]string, len(fields))
	for _, f := range fields {
		col, err := table.Column(f)
		if err != nil {
			return nil, nil, qerr.Wrap(qerr.KindValidation, err, "writing to %q", table.Name)
		}
		if prev, dup := seen[col.Name]; dup {
			return nil, nil, qerr.New(qerr.KindValidation,
				"fields %q and %q both write column %q", prev, f, col.Name)
		}
		seen[col.Name] = f
		names = append(names, col.Name)
		out = append(out, values[f])
	}
	return names, out, nil
}
