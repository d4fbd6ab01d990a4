// Package dialect isolates backend-specific SQL syntax. Every other engine
// component is written against the Dialect interface, so adapters are the only
// place identifier quoting, pagination clauses, placeholder styles, and upsert
// suffixes appear. Adapters are stateless values safe to share across
// concurrent requests.
package dialect

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Dialect generates backend-specific SQL fragments.
type Dialect interface {
	// Name identifies the backend ("mysql", "postgres").
	Name() string
	// QuoteIdentifier escapes a table or column identifier.
	QuoteIdentifier(name string) string
	// TableReference builds a (possibly schema-qualified) table reference.
	TableReference(schema, name string) string
	// Pagination returns the LIMIT/OFFSET clause for the backend. A negative
	// limit means "no limit"; offset 0 with no limit yields "".
	Pagination(offset, limit int) string
	// PlaceholderFormat returns the squirrel placeholder format arguments are
	// bound with.
	PlaceholderFormat() sq.PlaceholderFormat
	// UpsertSuffix returns the clause turning an INSERT into an upsert on the
	// given conflict columns, updating updateCols from the inserted values.
	UpsertSuffix(conflictCols, updateCols []string) string
	// SupportsMultiStatement reports whether the backend accepts several
	// ;-joined parameterized statements in a single round trip.
	SupportsMultiStatement() bool
	// SupportsLastInsertID reports whether sql.Result.LastInsertId is usable.
	SupportsLastInsertID() bool
}

// ByName returns the adapter for a backend name.
func ByName(name string) (Dialect, error) {
	switch name {
	case "mysql", "tidb":
		return MySQL{}, nil
	case "postgres", "postgresql":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}
