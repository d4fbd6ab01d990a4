package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nestql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  user: app
  database: store
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, "127.0.0.1", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 8, cfg.Limits.MaxDepth)
	assert.Equal(t, 64, cfg.Limits.MaxStatements)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadReadsFileValues(t *testing.T) {
	path := writeConfig(t, `
database:
  dialect: postgres
  host: db.internal
  port: 5432
  user: app
  database: store
limits:
  max_depth: 3
logging:
  level: debug
  otlp_endpoint: collector:4317
  otlp_insecure: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3, cfg.Limits.MaxDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "collector:4317", cfg.Logging.OTLPEndpoint)
	assert.True(t, cfg.Logging.OTLPInsecure)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  user: app
  database: store
  host: from-file
`)
	t.Setenv("NESTQL_DATABASE_HOST", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Database.Host)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/nestql.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Dialect: "mysql", User: "app", Database: "store"},
			Logging:  LoggingConfig{Level: "info"},
		}
	}

	assert.NoError(t, base().Validate())

	bad := base()
	bad.Database.Dialect = "oracle"
	assert.Error(t, bad.Validate())

	bad = base()
	bad.Database.User = ""
	assert.Error(t, bad.Validate())

	// A DSN stands in for the discrete fields.
	withDSN := base()
	withDSN.Database.User = ""
	withDSN.Database.Database = ""
	withDSN.Database.DSN = "app:secret@tcp(127.0.0.1:3306)/store"
	assert.NoError(t, withDSN.Validate())

	bad = base()
	bad.Limits.MaxDepth = -1
	assert.Error(t, bad.Validate())

	bad = base()
	bad.Logging.Level = "loud"
	assert.Error(t, bad.Validate())
}

func TestMySQLDSNAlwaysEnablesMultiStatements(t *testing.T) {
	d := DatabaseConfig{
		Dialect:  "mysql",
		Host:     "127.0.0.1",
		Port:     3306,
		User:     "app",
		Password: "secret",
		Database: "store",
	}
	dsn := d.DSNString()
	assert.Contains(t, dsn, "app:secret@tcp(127.0.0.1:3306)/store")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")

	explicit := DatabaseConfig{Dialect: "tidb", DSN: "app:secret@tcp(db:4000)/store?parseTime=true"}
	dsn = explicit.DSNString()
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Equal(t, "mysql", explicit.DriverName())
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{
		Dialect:  "postgres",
		Host:     "db.internal",
		Port:     5432,
		User:     "app",
		Database: "store",
	}
	assert.Equal(t, "host=db.internal port=5432 user=app dbname=store", d.DSNString())
	assert.Equal(t, "postgres", d.DriverName())

	explicit := DatabaseConfig{Dialect: "postgresql", DSN: "postgres://app@db/store"}
	assert.Equal(t, "postgres://app@db/store", explicit.DSNString())
}
