package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestql/internal/compiler"
	"nestql/internal/dialect"
	"nestql/internal/model"
	"nestql/internal/mutation"
	"nestql/internal/qerr"
	"nestql/internal/query"
	"nestql/internal/transform"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Load([]model.RawTable{
		{
			Name: "authors",
			Columns: []model.RawColumn{
				{Name: "id", DataType: "bigint"},
				{Name: "name", DataType: "varchar"},
			},
			PrimaryKeys: []string{"id"},
		},
		{
			Name: "books",
			Columns: []model.RawColumn{
				{Name: "id", DataType: "bigint"},
				{Name: "title", DataType: "varchar"},
				{Name: "author_id", DataType: "bigint"},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []model.RawForeignKey{
				{Column: "author_id", ReferencedTable: "authors", ReferencedColumn: "id"},
			},
		},
	})
	require.NoError(t, err)
	return m
}

func TestEngineQueryEndToEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng, err := New(db, testModel(t), dialect.MySQL{}, Options{})
	require.NoError(t, err)

	authorRows := sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Ann")
	bookRows := sqlmock.NewRows([]string{"id", "title", "author_id"}).
		AddRow(int64(10), "Go", int64(1))

	mock.ExpectQuery("SELECT (.+) FROM `authors`;").
		WillReturnRows(authorRows, bookRows)

	exec, err := eng.Query(context.Background(), nil, &query.Node{
		Table:   "authors",
		Columns: []string{"name"},
		Joins: []query.Join{
			{Field: "books", Node: &query.Node{Table: "books", Columns: []string{"title"}}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	root, err := exec.Root()
	require.NoError(t, err)
	require.Equal(t, 1, root.Len())

	row, err := root.Row(0)
	require.NoError(t, err)
	books, err := row.Field("books")
	require.NoError(t, err)
	assert.Equal(t, 1, books.(interface{ Len() int }).Len())
}

func TestEngineQueryCompileErrorsSkipExecution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng, err := New(db, testModel(t), dialect.MySQL{}, Options{
		Limits: compiler.Limits{MaxDepth: 1},
	})
	require.NoError(t, err)

	_, err = eng.Query(context.Background(), nil, &query.Node{
		Table: "authors",
		Joins: []query.Join{
			{Field: "books", Node: &query.Node{Table: "books"}},
		},
	})
	require.Error(t, err)
	assert.True(t, qerr.IsKind(err, qerr.KindCompile))
	// Nothing reached the database.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineMutate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng, err := New(db, testModel(t), dialect.MySQL{}, Options{
		Mutations: transform.NewMutationPipeline(transform.PopulateGuard{}),
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `books`").
		WithArgs(int64(1), "Go").
		WillReturnResult(sqlmock.NewResult(10, 1))

	res, err := eng.Mutate(context.Background(), nil, "books", query.Action{
		Kind:   query.ActionInsert,
		Values: map[string]any{"title": "Go", "author_id": int64(1)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(10), res.LastInsertID)
}

func TestEngineMutateBatchRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng, err := New(db, testModel(t), dialect.MySQL{}, Options{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `books`").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = eng.MutateBatch(context.Background(), nil, []mutation.TableAction{
		{Table: "books", Action: query.Action{Kind: query.ActionInsert, Values: map[string]any{"title": "x"}}},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineRequiresDependencies(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(nil, testModel(t), dialect.MySQL{}, Options{})
	assert.Error(t, err)

	_, err = New(db, nil, dialect.MySQL{}, Options{})
	assert.Error(t, err)

	_, err = New(db, testModel(t), nil, Options{})
	assert.Error(t, err)
}
