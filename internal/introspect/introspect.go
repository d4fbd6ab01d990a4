// Package introspect discovers tables, columns, keys, and declared foreign
// keys from information_schema and produces raw table input for model
// loading. Table and column comments may carry key=value metadata pairs
// (for example "tenant-filter=org_id; soft-delete=deleted_at") which are
// parsed into model metadata.
//
// The queries target the MySQL-family information_schema layout, which TiDB
// shares.
package introspect

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"nestql/internal/model"
	"nestql/internal/observability"
	"nestql/internal/qerr"
)

// Queryer provides query access for schema discovery.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load reads the full shape of one database schema.
func Load(ctx context.Context, db Queryer, schemaName string) ([]model.RawTable, error) {
	ctx, span := observability.StartSpan(ctx, "introspect.load",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	names, comments, err := getTables(ctx, db, schemaName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}

	tables := make([]model.RawTable, 0, len(names))
	for i, name := range names {
		raw := model.RawTable{
			Schema:   schemaName,
			Name:     name,
			Metadata: ParseComment(comments[i]),
		}

		raw.Columns, err = getColumns(ctx, db, schemaName, name)
		if err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}
		raw.PrimaryKeys, err = getPrimaryKeys(ctx, db, schemaName, name)
		if err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}
		raw.ForeignKeys, err = getForeignKeys(ctx, db, schemaName, name)
		if err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}

		tables = append(tables, raw)
	}

	span.SetAttributes(attribute.Int("db.tables", len(tables)))
	return tables, nil
}

func getTables(ctx context.Context, db Queryer, schemaName string) ([]string, []string, error) {
	ctx, span := observability.StartSpan(ctx, "introspect.get_tables",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := `
		SELECT TABLE_NAME, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := db.QueryContext(ctx, query, schemaName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, nil, qerr.Wrap(qerr.KindExecute, err, "listing tables of %q", schemaName)
	}
	defer func() {
		_ = rows.Close()
	}()

	var names, comments []string
	for rows.Next() {
		var name string
		var comment sql.NullString
		if err := rows.Scan(&name, &comment); err != nil {
			observability.RecordSpanError(span, err)
			return nil, nil, err
		}
		names = append(names, name)
		comments = append(comments, strings.TrimSpace(comment.String))
	}
	if err := rows.Err(); err != nil {
		observability.RecordSpanError(span, err)
		return nil, nil, err
	}
	return names, comments, nil
}

func getColumns(ctx context.Context, db Queryer, schemaName, tableName string) ([]model.RawColumn, error) {
	ctx, span := observability.StartSpan(ctx, "introspect.get_columns",
		attribute.String("db.name", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE,
			ORDINAL_POSITION,
			EXTRA,
			COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, qerr.Wrap(qerr.KindExecute, err, "listing columns of %q", tableName)
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []model.RawColumn
	for rows.Next() {
		var col model.RawColumn
		var isNullable, extra string
		var comment sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable, &col.Ordinal, &extra, &comment); err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}
		col.Nullable = strings.EqualFold(isNullable, "YES")
		col.IsIdentity = strings.Contains(strings.ToLower(extra), "auto_increment")
		col.Metadata = ParseComment(comment.String)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func getPrimaryKeys(ctx context.Context, db Queryer, schemaName, tableName string) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, "introspect.get_primary_keys",
		attribute.String("db.name", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, qerr.Wrap(qerr.KindExecute, err, "listing primary keys of %q", tableName)
	}
	defer func() {
		_ = rows.Close()
	}()

	var primaryKeys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}
		primaryKeys = append(primaryKeys, name)
	}
	if err := rows.Err(); err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}
	return primaryKeys, nil
}

func getForeignKeys(ctx context.Context, db Queryer, schemaName, tableName string) ([]model.RawForeignKey, error) {
	ctx, span := observability.StartSpan(ctx, "introspect.get_foreign_keys",
		attribute.String("db.name", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, qerr.Wrap(qerr.KindExecute, err, "listing foreign keys of %q", tableName)
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []model.RawForeignKey
	for rows.Next() {
		var fk model.RawForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			observability.RecordSpanError(span, err)
			return nil, err
		}
		foreignKeys = append(foreignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}
	return foreignKeys, nil
}

// ParseComment extracts key=value metadata pairs from a comment. Pairs are
// separated by ";"; text that is not a pair is ignored, so comments remain
// free-form. Returns nil when no pairs are present.
func ParseComment(comment string) model.Metadata {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil
	}

	var meta model.Metadata
	for _, part := range strings.Split(comment, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if meta == nil {
			meta = model.Metadata{}
		}
		meta[key] = value
	}
	return meta
}
