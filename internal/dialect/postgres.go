package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Postgres targets PostgreSQL.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

// QuoteIdentifier quotes with double quotes and escapes embedded quotes by
// doubling them.
func (Postgres) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d Postgres) TableReference(schema, name string) string {
	if schema == "" {
		return d.QuoteIdentifier(name)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(name)
}

func (Postgres) Pagination(offset, limit int) string {
	parts := make([]string, 0, 2)
	if limit >= 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

func (Postgres) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }

func (d Postgres) UpsertSuffix(conflictCols, updateCols []string) string {
	quotedConflict := make([]string, len(conflictCols))
	for i, col := range conflictCols {
		quotedConflict[i] = d.QuoteIdentifier(col)
	}
	if len(updateCols) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(quotedConflict, ", "))
	}
	assignments := make([]string, len(updateCols))
	for i, col := range updateCols {
		quoted := d.QuoteIdentifier(col)
		assignments[i] = fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted)
	}
	return fmt.Sprintf(
		"ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(quotedConflict, ", "),
		strings.Join(assignments, ", "),
	)
}

// SupportsMultiStatement is false: the extended protocol rejects multiple
// parameterized statements per call, so batches run statement-by-statement
// over the same connection.
func (Postgres) SupportsMultiStatement() bool { return false }

func (Postgres) SupportsLastInsertID() bool { return false }
