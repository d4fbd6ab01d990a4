package introspect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestql/internal/model"
)

func TestLoadReadsFullSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_COMMENT").
		WithArgs("store").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}).
			AddRow("books", "tenant-filter=org_id; soft-delete=deleted_at"))

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("store", "books").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "ORDINAL_POSITION", "EXTRA", "COLUMN_COMMENT",
		}).
			AddRow("id", "bigint", "NO", 1, "auto_increment", "").
			AddRow("title", "varchar", "YES", 2, "", "").
			AddRow("created_at", "datetime", "NO", 3, "", "populate=insert"))

	mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").
		WithArgs("store", "books").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))

	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").
		WithArgs("store", "books").
		WillReturnRows(sqlmock.NewRows([]string{
			"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME",
		}).AddRow("author_id", "authors", "id"))

	tables, err := Load(context.Background(), db, "store")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, tables, 1)
	books := tables[0]
	assert.Equal(t, "store", books.Schema)
	assert.Equal(t, "books", books.Name)
	assert.Equal(t, "org_id", books.Metadata.Get(model.MetaTenantFilter))
	assert.Equal(t, "deleted_at", books.Metadata.Get(model.MetaSoftDelete))

	require.Len(t, books.Columns, 3)
	assert.True(t, books.Columns[0].IsIdentity)
	assert.False(t, books.Columns[0].Nullable)
	assert.True(t, books.Columns[1].Nullable)
	assert.Equal(t, "insert", books.Columns[2].Metadata.Get(model.MetaPopulate))

	assert.Equal(t, []string{"id"}, books.PrimaryKeys)
	require.Len(t, books.ForeignKeys, 1)
	assert.Equal(t, "author_id", books.ForeignKeys[0].Column)
	assert.Equal(t, "authors", books.ForeignKeys[0].ReferencedTable)
}

func TestLoadPropagatesQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_COMMENT").
		WithArgs("store").
		WillReturnError(assert.AnError)

	_, err = Load(context.Background(), db, "store")
	require.Error(t, err)
}

func TestParseComment(t *testing.T) {
	tests := []struct {
		name    string
		comment string
		want    model.Metadata
	}{
		{"empty", "", nil},
		{"free text only", "stores customer orders", nil},
		{
			"single pair",
			"tenant-filter=org_id",
			model.Metadata{"tenant-filter": "org_id"},
		},
		{
			"pairs with surrounding text",
			"order data; soft-delete=deleted_at; batch-max-size=50",
			model.Metadata{"soft-delete": "deleted_at", "batch-max-size": "50"},
		},
		{
			"whitespace tolerated",
			"  visibility = hidden ;  populate = insert ",
			model.Metadata{"visibility": "hidden", "populate": "insert"},
		},
		{"dangling equals", "broken=; =value", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseComment(tt.comment))
		})
	}
}
