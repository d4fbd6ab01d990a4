// Package executor runs compiled statement batches over a single database
// connection and materializes the results into a navigable graph. All rows
// are captured up front; navigation afterwards is pure in-memory work.
package executor

import (
	"context"
	"database/sql"
	"strings"

	"nestql/internal/compiler"
	"nestql/internal/dialect"
	"nestql/internal/logging"
	"nestql/internal/qerr"
)

// Executor runs batches against a database handle.
type Executor struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// New builds an executor bound to a database handle and dialect.
func New(db *sql.DB, d dialect.Dialect) *Executor {
	return &Executor{db: db, dialect: d}
}

// Run executes every statement in the batch over one connection and captures
// all result sets. Any statement failing fails the whole run; partial results
// are never returned.
//
// On dialects that support it, an arg-less batch ships as one
// multi-statement round trip. Parameterized batches always run one
// statement at a time: MySQL's text protocol cannot bind parameters across
// a multi-statement string (the driver only allows placeholders in the
// first statement), so sequential execution on the shared connection is the
// only form that keeps every value parameterized.
func (e *Executor) Run(ctx context.Context, batch *compiler.Batch) (*Execution, error) {
	log := logging.FromContext(ctx)

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindExecute, err, "acquiring connection")
	}
	defer conn.Close()

	results := make(map[string]*ResultSet, len(batch.Statements))

	if e.dialect.SupportsMultiStatement() && len(batch.Statements) > 1 && !batchHasArgs(batch) {
		if err := e.runJoined(ctx, conn, batch, results); err != nil {
			return nil, err
		}
	} else {
		for _, stmt := range batch.Statements {
			rs, err := e.runOne(ctx, conn, stmt)
			if err != nil {
				return nil, err
			}
			results[stmt.Key] = rs
		}
	}

	total := 0
	for _, rs := range results {
		total += rs.Len()
	}
	log.Debug("batch executed",
		"statements", len(batch.Statements),
		"rows", total,
	)

	return &Execution{batch: batch, results: results}, nil
}

// batchHasArgs reports whether any statement carries bound parameters.
func batchHasArgs(batch *compiler.Batch) bool {
	for _, stmt := range batch.Statements {
		if len(stmt.Args) > 0 {
			return true
		}
	}
	return false
}

// runJoined sends the whole batch as one ";"-separated statement and walks
// the returned result sets in order. Only called for arg-less batches.
func (e *Executor) runJoined(ctx context.Context, conn *sql.Conn, batch *compiler.Batch, results map[string]*ResultSet) error {
	parts := make([]string, len(batch.Statements))
	for i, stmt := range batch.Statements {
		parts[i] = stmt.SQL
	}

	rows, err := conn.QueryContext(ctx, strings.Join(parts, ";\n"))
	if err != nil {
		return qerr.Wrap(qerr.KindExecute, err, "executing batch of %d statements", len(batch.Statements))
	}
	defer rows.Close()

	for i, stmt := range batch.Statements {
		if i > 0 {
			if !rows.NextResultSet() {
				if err := rows.Err(); err != nil {
					return qerr.Wrap(qerr.KindExecute, err, "statement %q", stmt.Key)
				}
				return qerr.New(qerr.KindExecute,
					"batch returned %d result sets, expected %d", i, len(batch.Statements))
			}
		}
		rs, err := capture(rows)
		if err != nil {
			return qerr.Wrap(qerr.KindExecute, err, "statement %q", stmt.Key)
		}
		results[stmt.Key] = rs
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, conn *sql.Conn, stmt compiler.Statement) (*ResultSet, error) {
	rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindExecute, err, "statement %q", stmt.Key)
	}
	defer rows.Close()

	rs, err := capture(rows)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindExecute, err, "statement %q", stmt.Key)
	}
	return rs, nil
}

// capture drains the current result set of rows into a ResultSet.
func capture(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := newResultSet(columns)

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		rs.append(values)
	}
	return rs, rows.Err()
}
