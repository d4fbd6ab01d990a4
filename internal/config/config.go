// Package config loads engine configuration from a config file, environment
// variables, and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig describes the database connection.
type DatabaseConfig struct {
	// Dialect selects the SQL flavor: mysql, tidb, postgres.
	Dialect string `mapstructure:"dialect"`
	// DSN is used verbatim when set; otherwise it is built from the
	// discrete fields below.
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// LimitsConfig bounds the shape of a single request.
type LimitsConfig struct {
	MaxDepth      int `mapstructure:"max_depth"`
	MaxStatements int `mapstructure:"max_statements"`
}

// LoggingConfig controls log output. Setting an OTLP endpoint additionally
// exports every record to a collector.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// Load reads configuration with the following precedence:
// 1. Environment variables (NESTQL_DATABASE_HOST, ...)
// 2. Config file (explicit path, or nestql.yaml on the search path)
// 3. Default values
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nestql")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/nestql/")
		v.AddConfigPath("$HOME/.nestql")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("NESTQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("limits.max_depth", 8)
	v.SetDefault("limits.max_statements", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations that cannot produce a working engine.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Dialect) {
	case "mysql", "tidb", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database.dialect %q", c.Database.Dialect)
	}

	if c.Database.DSN == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when database.dsn is not set")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required when database.dsn is not set")
		}
	}

	if c.Limits.MaxDepth < 0 || c.Limits.MaxStatements < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported logging.level %q", c.Logging.Level)
	}
	return nil
}
