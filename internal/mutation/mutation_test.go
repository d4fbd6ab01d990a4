package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestql/internal/dialect"
	"nestql/internal/model"
	"nestql/internal/qerr"
	"nestql/internal/query"
	"nestql/internal/transform"
)

func ordersModel(t *testing.T, opts ...model.Option) *model.Model {
	t.Helper()
	m, err := model.Load([]model.RawTable{{
		Name: "orders",
		Columns: []model.RawColumn{
			{Name: "id", DataType: "bigint", IsIdentity: true},
			{Name: "status", DataType: "varchar"},
			{Name: "total", DataType: "decimal"},
			{Name: "deleted_at", DataType: "datetime", Nullable: true},
		},
		PrimaryKeys: []string{"id"},
	}}, opts...)
	require.NoError(t, err)
	return m
}

func TestApplyInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	// Field order in the statement is deterministic: sorted by field name.
	mock.ExpectExec("INSERT INTO `orders` \\(`status`,`total`\\) VALUES \\(\\?,\\?\\)").
		WithArgs("open", 99).
		WillReturnResult(sqlmock.NewResult(7, 1))

	res, err := mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionInsert,
		Values: map[string]any{"total": 99, "status": "open"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(7), res.LastInsertID)
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestApplyUpdateUsesKeyAndSkipsKeyColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	mock.ExpectExec("UPDATE `orders` SET `status` = \\? WHERE `id` = \\?").
		WithArgs("shipped", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The key travels inside Values; it must land in WHERE, not SET.
	res, err := mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionUpdate,
		Values: map[string]any{"id": 7, "status": "shipped"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestApplyUpdateRequiresKey(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	_, err = mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionUpdate,
		Values: map[string]any{"status": "shipped"},
	})
	require.Error(t, err)
	assert.True(t, qerr.IsKind(err, qerr.KindValidation))
}

func TestApplyDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	mock.ExpectExec("DELETE FROM `orders` WHERE `id` = \\?").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind: query.ActionDelete,
		Key:  map[string]any{"id": 7},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	mock.ExpectExec("INSERT INTO `orders` \\(`id`,`status`\\) VALUES \\(\\?,\\?\\) ON DUPLICATE KEY UPDATE `status` = VALUES\\(`status`\\)").
		WithArgs(7, "open").
		WillReturnResult(sqlmock.NewResult(7, 1))

	_, err = mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionUpsert,
		Values: map[string]any{"id": 7, "status": "open"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRunsPipeline(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := ordersModel(t, model.WithTableMetadata("orders", model.Metadata{
		model.MetaSoftDelete: "deleted_at",
	}))
	frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	pipeline := transform.NewMutationPipeline(transform.SoftDelete{Now: func() time.Time { return frozen }})
	mut := New(m, dialect.MySQL{}, pipeline)

	// The delete reaches the database as an update on the soft-delete column.
	mock.ExpectExec("UPDATE `orders` SET `deleted_at` = \\? WHERE `id` = \\?").
		WithArgs(frozen, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind: query.ActionDelete,
		Key:  map[string]any{"id": 7},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySoftDeleteWithKeyInValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := ordersModel(t, model.WithTableMetadata("orders", model.Metadata{
		model.MetaSoftDelete: "deleted_at",
	}))
	frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	pipeline := transform.NewMutationPipeline(transform.SoftDelete{Now: func() time.Time { return frozen }})
	mut := New(m, dialect.MySQL{}, pipeline)

	// A delete keyed through the field map soft-deletes the same row a
	// physical delete would have targeted.
	mock.ExpectExec("UPDATE `orders` SET `deleted_at` = \\? WHERE `id` = \\?").
		WithArgs(frozen, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionDelete,
		Values: map[string]any{"id": 7},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestApplyRejectsUnknownFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	_, err = mut.Apply(context.Background(), nil, db, "orders", query.Action{
		Kind:   query.ActionInsert,
		Values: map[string]any{"nonexistent": 1},
	})
	require.Error(t, err)
	assert.True(t, qerr.IsKind(err, qerr.KindValidation))
}

func TestApplyBatchIsAtomic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `orders`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `orders`").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	actions := []TableAction{
		{Table: "orders", Action: query.Action{Kind: query.ActionInsert, Values: map[string]any{"status": "a"}}},
		{Table: "orders", Action: query.Action{Kind: query.ActionInsert, Values: map[string]any{"status": "b"}}},
	}

	results, err := mut.ApplyBatch(context.Background(), nil, db, actions)
	require.Error(t, err)
	assert.Nil(t, results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBatchCommitsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mut := New(ordersModel(t), dialect.MySQL{}, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `orders`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `orders`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	actions := []TableAction{
		{Table: "orders", Action: query.Action{Kind: query.ActionInsert, Values: map[string]any{"status": "a"}}},
		{Table: "orders", Action: query.Action{Kind: query.ActionUpdate, Values: map[string]any{"id": 1, "status": "b"}}},
	}

	results, err := mut.ApplyBatch(context.Background(), nil, db, actions)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].LastInsertID)
	assert.Equal(t, int64(2), TotalAffected(results))
}

func TestApplyBatchSizeGuardRunsBeforeAnyConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := ordersModel(t, model.WithTableMetadata("orders", model.Metadata{
		model.MetaBatchMaxSize: "2",
	}))
	mut := New(m, dialect.MySQL{}, nil)

	actions := make([]TableAction, 3)
	for i := range actions {
		actions[i] = TableAction{
			Table:  "orders",
			Action: query.Action{Kind: query.ActionInsert, Values: map[string]any{"status": "x"}},
		}
	}

	_, err = mut.ApplyBatch(context.Background(), nil, db, actions)
	require.Error(t, err)
	assert.True(t, qerr.IsKind(err, qerr.KindValidation))
	// No Begin was expected; the mock fails if anything touched the db.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyConstraintErrors(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, qerr.IsKind(classify(dup, "orders"), qerr.KindValidation))

	fk := &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	assert.True(t, qerr.IsKind(classify(fk, "orders"), qerr.KindValidation))

	pgDup := &pq.Error{Code: "23505"}
	assert.True(t, qerr.IsKind(classify(pgDup, "orders"), qerr.KindValidation))

	other := &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}
	assert.True(t, qerr.IsKind(classify(other, "orders"), qerr.KindExecute))

	assert.True(t, qerr.IsKind(classify(assert.AnError, "orders"), qerr.KindExecute))
}
