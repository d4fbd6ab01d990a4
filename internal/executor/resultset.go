package executor

import (
	"strings"

	"nestql/internal/qerr"
)

// ResultSet holds the fully materialized rows of one statement. Rows are
// captured eagerly while the connection is draining the batch, so navigation
// afterwards never touches the database.
type ResultSet struct {
	columns []string
	// index maps lower-cased column names to their position.
	index map[string]int
	rows  [][]any
}

func newResultSet(columns []string) *ResultSet {
	rs := &ResultSet{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		rs.index[strings.ToLower(col)] = i
	}
	return rs
}

// Columns returns the column names in statement order.
func (rs *ResultSet) Columns() []string {
	return rs.columns
}

// Len returns the number of captured rows.
func (rs *ResultSet) Len() int {
	return len(rs.rows)
}

// ColumnIndex resolves a column name case-insensitively.
func (rs *ResultSet) ColumnIndex(name string) (int, bool) {
	i, ok := rs.index[strings.ToLower(name)]
	return i, ok
}

// Value returns the value at (row, column name).
func (rs *ResultSet) Value(row int, column string) (any, error) {
	if row < 0 || row >= len(rs.rows) {
		return nil, qerr.New(qerr.KindResolve, "row %d out of range (%d rows)", row, len(rs.rows))
	}
	i, ok := rs.ColumnIndex(column)
	if !ok {
		return nil, qerr.New(qerr.KindResolve, "no column %q in result set", column)
	}
	return rs.rows[row][i], nil
}

func (rs *ResultSet) append(row []any) {
	rs.rows = append(rs.rows, row)
}

// normalizeValue rewrites driver byte slices into strings so values compare
// and print consistently regardless of driver. MySQL returns most text and
// numeric columns as []byte.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
