package config

import (
	"fmt"
	"strings"
)

// DriverName returns the database/sql driver name for the configured dialect.
func (d *DatabaseConfig) DriverName() string {
	if d.isPostgres() {
		return "postgres"
	}
	return "mysql"
}

// DSNString returns the data source name. An explicit DSN is used as given,
// with the parameters the engine depends on appended when missing; otherwise
// the DSN is built from the discrete fields.
//
// MySQL-family connections always enable multiStatements: the executor ships
// whole batches as one round trip.
func (d *DatabaseConfig) DSNString() string {
	if d.isPostgres() {
		return d.postgresDSN()
	}
	return d.mysqlDSN()
}

func (d *DatabaseConfig) isPostgres() bool {
	switch strings.ToLower(d.Dialect) {
	case "postgres", "postgresql":
		return true
	}
	return false
}

func (d *DatabaseConfig) mysqlDSN() string {
	dsn := d.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User,
			d.Password,
			d.Host,
			d.Port,
			d.Database,
		)
	} else {
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	}
	if !strings.Contains(dsn, "multiStatements") {
		dsn += "&multiStatements=true"
	}
	return dsn
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.User),
		fmt.Sprintf("dbname=%s", d.Database),
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	return strings.Join(parts, " ")
}
