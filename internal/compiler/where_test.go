package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestql/internal/dialect"
	"nestql/internal/model"
	"nestql/internal/qerr"
)

func whereTable(t *testing.T) *model.Table {
	t.Helper()
	m, err := model.Load([]model.RawTable{{
		Name: "books",
		Columns: []model.RawColumn{
			{Name: "id", DataType: "bigint"},
			{Name: "title", DataType: "varchar", DisplayName: "bookTitle"},
			{Name: "price", DataType: "decimal"},
		},
		PrimaryKeys: []string{"id"},
	}})
	require.NoError(t, err)
	table, err := m.Table("books")
	require.NoError(t, err)
	return table
}

func TestBuildWhereOperators(t *testing.T) {
	table := whereTable(t)

	tests := []struct {
		name     string
		where    map[string]any
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "equality",
			where:    map[string]any{"title": map[string]any{"eq": "Dune"}},
			wantSQL:  "`title` = ?",
			wantArgs: []any{"Dune"},
		},
		{
			name:     "display name resolves to column",
			where:    map[string]any{"bookTitle": map[string]any{"eq": "Dune"}},
			wantSQL:  "`title` = ?",
			wantArgs: []any{"Dune"},
		},
		{
			name:     "range pair sorts operators",
			where:    map[string]any{"price": map[string]any{"lt": 30, "gte": 10}},
			wantSQL:  "(`price` >= ? AND `price` < ?)",
			wantArgs: []any{10, 30},
		},
		{
			name:     "in list",
			where:    map[string]any{"id": map[string]any{"in": []any{1, 2, 3}}},
			wantSQL:  "`id` IN (?,?,?)",
			wantArgs: []any{1, 2, 3},
		},
		{
			name:    "is null",
			where:   map[string]any{"title": map[string]any{"isNull": true}},
			wantSQL: "`title` IS NULL",
		},
		{
			name: "or combinator",
			where: map[string]any{"OR": []any{
				map[string]any{"title": map[string]any{"like": "D%"}},
				map[string]any{"price": map[string]any{"gt": 100}},
			}},
			wantSQL:  "(`title` LIKE ? OR `price` > ?)",
			wantArgs: []any{"D%", 100},
		},
		{
			name: "columns before combinators",
			where: map[string]any{
				"title": map[string]any{"eq": "Dune"},
				"AND": []any{
					map[string]any{"price": map[string]any{"gt": 1}},
				},
			},
			wantSQL:  "((`price` > ?) AND `title` = ?)",
			wantArgs: []any{1, "Dune"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := buildWhere(table, dialect.MySQL{}, tt.where)
			require.NoError(t, err)
			require.NotNil(t, cond)

			sqlText, args, err := cond.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sqlText)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildWhereErrors(t *testing.T) {
	table := whereTable(t)

	tests := []struct {
		name  string
		where map[string]any
	}{
		{"unknown column", map[string]any{"missing": map[string]any{"eq": 1}}},
		{"bare value instead of operator map", map[string]any{"title": "Dune"}},
		{"unknown operator", map[string]any{"title": map[string]any{"matches": "x"}}},
		{"in without array", map[string]any{"id": map[string]any{"in": 1}}},
		{"isNull without bool", map[string]any{"title": map[string]any{"isNull": "yes"}}},
		{"AND without array", map[string]any{"AND": map[string]any{"title": map[string]any{"eq": "x"}}}},
		{"OR with scalar items", map[string]any{"OR": []any{"junk"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildWhere(table, dialect.MySQL{}, tt.where)
			require.Error(t, err)
			assert.True(t, qerr.IsKind(err, qerr.KindCompile), "got %v", err)
		})
	}
}

func TestBuildWhereEmptyFilterIsNil(t *testing.T) {
	table := whereTable(t)

	cond, err := buildWhere(table, dialect.MySQL{}, nil)
	require.NoError(t, err)
	assert.Nil(t, cond)
}
