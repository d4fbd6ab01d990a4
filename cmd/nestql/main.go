// Command nestql runs one query or mutation request against a configured
// database and prints the result as JSON. It is a thin wrapper over the
// engine, mainly useful for exploring a schema and exercising requests
// during development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"nestql/internal/compiler"
	"nestql/internal/config"
	"nestql/internal/dialect"
	"nestql/internal/engine"
	"nestql/internal/executor"
	"nestql/internal/logging"
	"nestql/internal/mutation"
	"nestql/internal/observability"
	"nestql/internal/query"
	"nestql/internal/transform"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("nestql error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// request is the JSON input shape: exactly one of Query or Mutations.
type request struct {
	Query     *query.Node `json:"query"`
	Mutations []struct {
		Table  string         `json:"table"`
		Kind   string         `json:"kind"`
		Values map[string]any `json:"values"`
		Key    map[string]any `json:"key"`
	} `json:"mutations"`
	// Context carries transformer inputs such as tenant and user ids.
	Context map[string]any `json:"context"`
}

func run() error {
	cfgPath := flag.String("config", "", "Path to config file")
	schemaName := flag.String("schema", "", "Database schema to introspect (defaults to the configured database)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nestql %s\n", Version)
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.OTLPEndpoint != "" {
		provider, err := observability.InitLoggerProvider(ctx, observability.LogExportConfig{
			Endpoint:       cfg.Logging.OTLPEndpoint,
			Insecure:       cfg.Logging.OTLPInsecure,
			ServiceVersion: Version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize log export: %w", err)
		}
		defer provider.Shutdown(context.Background())
		logCfg.LoggerProvider = provider
	}
	logger := logging.NewLogger(logCfg)

	d, err := dialect.ByName(cfg.Database.Dialect)
	if err != nil {
		return err
	}

	dbSystem := semconv.DBSystemMySQL
	if cfg.Database.Dialect == "postgres" {
		dbSystem = semconv.DBSystemPostgreSQL
	}
	db, err := otelsql.Open(cfg.Database.DriverName(), cfg.Database.DSNString(),
		otelsql.WithAttributes(dbSystem),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem)); err != nil {
		logger.Warn("failed to register database stats metrics", "error", err.Error())
	}

	schema := *schemaName
	if schema == "" {
		schema = cfg.Database.Database
	}
	m, err := engine.Discover(ctx, db, schema)
	if err != nil {
		return fmt.Errorf("failed to introspect schema %q: %w", schema, err)
	}

	metrics, err := observability.InitEngineMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	filters := transform.NewFilterPipeline()
	filters.Register(transform.TenantFilter{})
	filters.Register(transform.SoftDeleteFilter{})

	mutations := transform.NewMutationPipeline()
	mutations.Register(transform.TenantGuard{})
	mutations.Register(transform.SoftDelete{})
	mutations.Register(transform.PopulateGuard{})

	eng, err := engine.New(db, m, d, engine.Options{
		Filters:   filters,
		Mutations: mutations,
		Limits: compiler.Limits{
			MaxDepth:      cfg.Limits.MaxDepth,
			MaxStatements: cfg.Limits.MaxStatements,
		},
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}

	tctx := transform.Context(req.Context)

	switch {
	case req.Query != nil && len(req.Mutations) > 0:
		return fmt.Errorf("request holds both a query and mutations")
	case req.Query != nil:
		return runQuery(ctx, eng, tctx, req.Query)
	case len(req.Mutations) > 0:
		return runMutations(ctx, eng, tctx, req)
	default:
		return fmt.Errorf("request holds neither a query nor mutations")
	}
}

func runQuery(ctx context.Context, eng *engine.Engine, tctx transform.Context, root *query.Node) error {
	exec, err := eng.Query(ctx, tctx, root)
	if err != nil {
		return err
	}
	set, err := exec.Root()
	if err != nil {
		return err
	}
	out, err := materialize(set, root)
	if err != nil {
		return err
	}
	return printJSON(out)
}

// materialize renders a node set into plain maps, following the request's
// joins and aggregates.
func materialize(set *executor.NodeSet, node *query.Node) (any, error) {
	rows := make([]map[string]any, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		row, err := set.Row(i)
		if err != nil {
			return nil, err
		}
		rendered, err := materializeRow(row, node)
		if err != nil {
			return nil, err
		}
		rows = append(rows, rendered)
	}

	if node.Paginate {
		page, err := set.Page()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"rows":       rows,
			"totalCount": page.TotalCount,
			"offset":     page.Offset,
			"limit":      page.Limit,
		}, nil
	}
	return rows, nil
}

func materializeRow(row *executor.Row, node *query.Node) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range node.Columns {
		value, err := row.Field(name)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	for _, agg := range node.Aggregates {
		value, err := row.Field(agg.Field)
		if err != nil {
			return nil, err
		}
		out[agg.Field] = value
	}
	for _, join := range node.Joins {
		value, err := row.Field(join.Field)
		if err != nil {
			return nil, err
		}
		switch child := value.(type) {
		case nil:
			out[join.Field] = nil
		case *executor.Row:
			rendered, err := materializeRow(child, join.Node)
			if err != nil {
				return nil, err
			}
			out[join.Field] = rendered
		case *executor.NodeSet:
			rendered, err := materialize(child, join.Node)
			if err != nil {
				return nil, err
			}
			out[join.Field] = rendered
		default:
			out[join.Field] = value
		}
	}
	return out, nil
}

func runMutations(ctx context.Context, eng *engine.Engine, tctx transform.Context, req request) error {
	actions := make([]mutation.TableAction, 0, len(req.Mutations))
	for _, m := range req.Mutations {
		kind, err := query.ParseActionKind(m.Kind)
		if err != nil {
			return err
		}
		actions = append(actions, mutation.TableAction{
			Table: m.Table,
			Action: query.Action{
				Kind:   kind,
				Values: m.Values,
				Key:    m.Key,
			},
		})
	}

	results, err := eng.MutateBatch(ctx, tctx, actions)
	if err != nil {
		return err
	}

	out := make([]map[string]any, len(results))
	for i, res := range results {
		out[i] = map[string]any{
			"rowsAffected": res.RowsAffected,
			"lastInsertId": res.LastInsertID,
		}
	}
	return printJSON(map[string]any{
		"results":           out,
		"totalRowsAffected": mutation.TotalAffected(results),
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
