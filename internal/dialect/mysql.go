package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// MySQL covers MySQL and TiDB.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

// QuoteIdentifier quotes with backticks and escapes embedded backticks by
// doubling them.
func (MySQL) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d MySQL) TableReference(schema, name string) string {
	if schema == "" {
		return d.QuoteIdentifier(name)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(name)
}

func (MySQL) Pagination(offset, limit int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d, %d", offset, limit)
	case limit >= 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		// MySQL has no OFFSET without LIMIT; use the documented huge limit.
		return fmt.Sprintf("LIMIT %d, 18446744073709551615", offset)
	default:
		return ""
	}
}

func (MySQL) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

func (d MySQL) UpsertSuffix(conflictCols, updateCols []string) string {
	if len(updateCols) == 0 {
		return ""
	}
	assignments := make([]string, len(updateCols))
	for i, col := range updateCols {
		quoted := d.QuoteIdentifier(col)
		assignments[i] = fmt.Sprintf("%s = VALUES(%s)", quoted, quoted)
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")
}

func (MySQL) SupportsMultiStatement() bool { return true }

func (MySQL) SupportsLastInsertID() bool { return true }
