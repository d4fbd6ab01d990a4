package mutation

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"nestql/internal/qerr"
)

// MySQL error numbers and Postgres SQLSTATE codes for constraint failures.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyChild  = 1452
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify maps driver constraint errors onto validation errors so callers
// can tell bad input apart from infrastructure failure.
func classify(err error, table string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return qerr.Wrap(qerr.KindValidation, err, "duplicate key on %q", table)
		case mysqlForeignKeyChild:
			return qerr.Wrap(qerr.KindValidation, err, "foreign key violation on %q", table)
		}
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch string(pgErr.Code) {
		case pgUniqueViolation:
			return qerr.Wrap(qerr.KindValidation, err, "duplicate key on %q", table)
		case pgForeignKeyViolation:
			return qerr.Wrap(qerr.KindValidation, err, "foreign key violation on %q", table)
		}
	}

	return qerr.Wrap(qerr.KindExecute, err, "writing to %q", table)
}
