// Package compiler turns a typed query node tree into one ordered batch of
// parameterized SQL statements. Child relationships never compile into
// per-row subqueries: each distinct relationship path yields exactly one
// statement selecting the child rows against the full parent key set, so a
// request of any fan-out ships a fixed number of statements.
package compiler

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"nestql/internal/dialect"
	"nestql/internal/model"
	"nestql/internal/qerr"
	"nestql/internal/query"
	"nestql/internal/transform"
)

// CountKeySuffix marks the parallel row-count statement of a paginated node.
const CountKeySuffix = "=>count"

// AggKeyPrefix separates a node key from its aggregate field key.
const AggKeyPrefix = "=>agg:"

// Statement is one named, parameterized SQL statement in a batch.
type Statement struct {
	Key  string
	SQL  string
	Args []any
}

// JoinDescriptor tells the materializer how to walk from a parent row to the
// matching subset of a child statement's result set.
type JoinDescriptor struct {
	Field        string
	StatementKey string
	// ParentColumn is the correlating column in the parent result set.
	ParentColumn string
	// ChildColumn is the column in the child result set matched against the
	// parent value.
	ChildColumn string
	ToOne       bool
}

// AggregateDescriptor tells the materializer which result set and columns
// hold a grouped aggregate value.
type AggregateDescriptor struct {
	Field        string
	StatementKey string
	ParentColumn string
	GroupColumn  string
	ValueColumn  string
	Op           query.AggregateOp
}

// Descriptor carries everything the materializer needs for one node.
type Descriptor struct {
	Key        string
	Table      *model.Table
	Alias      string
	CountKey   string
	Offset     int
	Limit      int
	Paginate   bool
	Joins      map[string]JoinDescriptor
	Aggregates map[string]AggregateDescriptor
}

// Batch is the ordered output of compiling one request.
type Batch struct {
	Statements  []Statement
	Descriptors map[string]*Descriptor
	RootKey     string
}

// Limits bounds the compiled shape of a single request.
type Limits struct {
	MaxDepth      int
	MaxStatements int
}

// Compiler compiles one request. Construct a fresh one per request; it is
// cheap and keeps per-request alias counters out of shared state.
type Compiler struct {
	model   *model.Model
	dialect dialect.Dialect
	filters *transform.FilterPipeline
	limits  Limits

	aliasCounter int
}

// New builds a per-request compiler.
func New(m *model.Model, d dialect.Dialect, filters *transform.FilterPipeline, limits Limits) *Compiler {
	return &Compiler{model: m, dialect: d, filters: filters, limits: limits}
}

// Compile produces the statement batch for a query tree. The filter pipeline
// runs per node before any SQL is generated; its errors abort compilation.
func (c *Compiler) Compile(ctx transform.Context, root *query.Node) (*Batch, error) {
	if err := root.Validate(); err != nil {
		return nil, err
	}

	batch := &Batch{Descriptors: make(map[string]*Descriptor)}
	batch.RootKey = root.Name()
	if err := c.compileNode(ctx, batch, root, batch.RootKey, nil, 1); err != nil {
		return nil, err
	}
	if c.limits.MaxStatements > 0 && len(batch.Statements) > c.limits.MaxStatements {
		return nil, qerr.New(qerr.KindCompile,
			"query compiles to %d statements, exceeding the maximum of %d",
			len(batch.Statements), c.limits.MaxStatements)
	}
	return batch, nil
}

// correlation constrains a node to the key set its parent statement emits.
type correlation struct {
	// column on this node's table matched against the parent key set.
	column string
	// expr is the ready-made "col IN (SELECT ...)" condition with args.
	expr sq.Sqlizer
}

func (c *Compiler) compileNode(
	ctx transform.Context,
	batch *Batch,
	node *query.Node,
	key string,
	corr *correlation,
	depth int,
) error {
	if c.limits.MaxDepth > 0 && depth > c.limits.MaxDepth {
		return qerr.New(qerr.KindCompile,
			"query exceeds maximum nesting depth of %d", c.limits.MaxDepth)
	}

	table, err := c.model.Table(node.Table)
	if err != nil {
		return err
	}

	where, err := c.filters.Apply(table, node.Where, ctx)
	if err != nil {
		return err
	}
	cond, err := buildWhere(table, c.dialect, where)
	if err != nil {
		return err
	}

	conds := make([]sq.Sqlizer, 0, 2)
	if corr != nil {
		conds = append(conds, corr.expr)
	}
	if cond != nil {
		conds = append(conds, cond)
	}

	orderClauses, err := c.orderClauses(table, node)
	if err != nil {
		return err
	}

	desc := &Descriptor{
		Key:        key,
		Table:      table,
		Alias:      node.Alias,
		Offset:     node.Offset,
		Limit:      node.Limit,
		Paginate:   node.Paginate,
		Joins:      make(map[string]JoinDescriptor, len(node.Joins)),
		Aggregates: make(map[string]AggregateDescriptor, len(node.Aggregates)),
	}
	batch.Descriptors[key] = desc

	// Resolve links up front so correlation columns land in the projection.
	type childPlan struct {
		join query.Join
		link model.Link
		// parentColumn/childColumn as seen from THIS node.
		parentColumn string
		childColumn  string
		childTable   string
	}
	children := make([]childPlan, 0, len(node.Joins))
	required := make([]string, 0, len(node.Joins))
	for _, join := range node.Joins {
		plan := childPlan{join: join}
		if join.ToOne {
			link, err := table.SingleLink(join.LinkName())
			if err != nil {
				return err
			}
			plan.link = link
			plan.parentColumn = link.ChildColumn
			plan.childColumn = link.ParentColumn
			plan.childTable = link.ParentTable
		} else {
			link, err := table.MultiLink(join.LinkName())
			if err != nil {
				return err
			}
			plan.link = link
			plan.parentColumn = link.ParentColumn
			plan.childColumn = link.ChildColumn
			plan.childTable = link.ChildTable
		}
		children = append(children, plan)
		required = append(required, plan.parentColumn)
	}

	aggLinks := make([]model.Link, 0, len(node.Aggregates))
	for _, agg := range node.Aggregates {
		link, err := table.MultiLink(agg.Link)
		if err != nil {
			return err
		}
		aggLinks = append(aggLinks, link)
		required = append(required, link.ParentColumn)
	}
	if corr != nil {
		required = append(required, corr.column)
	}

	projection, err := c.projection(table, node, required)
	if err != nil {
		return err
	}

	ref := c.dialect.TableReference(table.Schema, table.Name)
	pagination := c.pagination(node)

	dataBuilder := sq.Select(projection...).From(ref)
	for _, cnd := range conds {
		dataBuilder = dataBuilder.Where(cnd)
	}
	if len(orderClauses) > 0 {
		dataBuilder = dataBuilder.OrderBy(orderClauses...)
	}
	if pagination != "" {
		dataBuilder = dataBuilder.Suffix(pagination)
	}
	if err := c.emit(batch, key, dataBuilder); err != nil {
		return err
	}

	if node.Paginate {
		countBuilder := sq.Select("COUNT(*)").From(ref)
		for _, cnd := range conds {
			countBuilder = countBuilder.Where(cnd)
		}
		countKey := key + CountKeySuffix
		desc.CountKey = countKey
		if err := c.emit(batch, countKey, countBuilder); err != nil {
			return err
		}
	}

	// keySubquery selects one correlating column under this node's full
	// filter, order, and pagination, so children and aggregates see exactly
	// the parent rows the data statement returns. The derived-table wrapper
	// keeps LIMIT legal inside IN (...) on MySQL.
	keySubquery := func(column string) (sq.Sqlizer, error) {
		builder := sq.Select(c.dialect.QuoteIdentifier(column)).From(ref)
		for _, cnd := range conds {
			builder = builder.Where(cnd)
		}
		if len(orderClauses) > 0 {
			builder = builder.OrderBy(orderClauses...)
		}
		if pagination != "" {
			builder = builder.Suffix(pagination)
		}
		subSQL, subArgs, err := builder.ToSql()
		if err != nil {
			return nil, qerr.Wrap(qerr.KindCompile, err, "key subquery for %q", key)
		}
		c.aliasCounter++
		return sq.Expr(fmt.Sprintf("(SELECT %s FROM (%s) AS %s)",
			c.dialect.QuoteIdentifier(column), subSQL,
			c.dialect.QuoteIdentifier(fmt.Sprintf("__keys_%d", c.aliasCounter)),
		), subArgs...), nil
	}

	for i, agg := range node.Aggregates {
		link := aggLinks[i]
		if err := c.compileAggregate(batch, desc, key, agg, link, keySubquery); err != nil {
			return err
		}
	}

	for _, plan := range children {
		childKey := key + "." + plan.join.Field
		desc.Joins[plan.join.Field] = JoinDescriptor{
			Field:        plan.join.Field,
			StatementKey: childKey,
			ParentColumn: plan.parentColumn,
			ChildColumn:  plan.childColumn,
			ToOne:        plan.join.ToOne,
		}

		sub, err := keySubquery(plan.parentColumn)
		if err != nil {
			return err
		}
		subSQL, subArgs, err := sub.ToSql()
		if err != nil {
			return qerr.Wrap(qerr.KindCompile, err, "join %q", plan.join.Field)
		}
		childCorr := &correlation{
			column: plan.childColumn,
			expr: sq.Expr(fmt.Sprintf("%s IN %s",
				c.dialect.QuoteIdentifier(plan.childColumn), subSQL), subArgs...),
		}

		childNode := plan.join.Node
		if childNode.Table == "" {
			return qerr.New(qerr.KindCompile, "join %q has no child table", plan.join.Field)
		}
		if childNode.Table != plan.childTable {
			return qerr.New(qerr.KindCompile,
				"join %q targets table %q but relationship %q links to %q",
				plan.join.Field, childNode.Table, plan.link.Name, plan.childTable)
		}
		if err := c.compileNode(ctx, batch, childNode, childKey, childCorr, depth+1); err != nil {
			return err
		}
	}

	return nil
}

func (c *Compiler) compileAggregate(
	batch *Batch,
	desc *Descriptor,
	key string,
	agg query.Aggregate,
	link model.Link,
	keySubquery func(string) (sq.Sqlizer, error),
) error {
	child, err := c.model.Table(link.ChildTable)
	if err != nil {
		return err
	}

	opSQL, err := c.aggregateSQL(child, agg)
	if err != nil {
		return err
	}

	sub, err := keySubquery(link.ParentColumn)
	if err != nil {
		return err
	}
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return qerr.Wrap(qerr.KindCompile, err, "aggregate %q", agg.Field)
	}

	groupCol := c.dialect.QuoteIdentifier(link.ChildColumn)
	statementKey := key + AggKeyPrefix + agg.Field
	builder := sq.Select(groupCol, opSQL+" AS "+c.dialect.QuoteIdentifier(aggValueColumn)).
		From(c.dialect.TableReference(child.Schema, child.Name)).
		Where(sq.Expr(fmt.Sprintf("%s IN %s", groupCol, subSQL), subArgs...)).
		GroupBy(groupCol)
	if err := c.emit(batch, statementKey, builder); err != nil {
		return err
	}

	desc.Aggregates[agg.Field] = AggregateDescriptor{
		Field:        agg.Field,
		StatementKey: statementKey,
		ParentColumn: link.ParentColumn,
		GroupColumn:  link.ChildColumn,
		ValueColumn:  aggValueColumn,
		Op:           agg.Op,
	}
	return nil
}

const aggValueColumn = "__agg"

func (c *Compiler) aggregateSQL(child *model.Table, agg query.Aggregate) (string, error) {
	if agg.Op == query.AggCount {
		return "COUNT(*)", nil
	}
	col, err := child.Column(agg.Column)
	if err != nil {
		return "", qerr.Wrap(qerr.KindCompile, err, "aggregate %q", agg.Field)
	}
	quoted := c.dialect.QuoteIdentifier(col.Name)
	switch agg.Op {
	case query.AggSum:
		return "SUM(" + quoted + ")", nil
	case query.AggAvg:
		return "AVG(" + quoted + ")", nil
	case query.AggMin:
		return "MIN(" + quoted + ")", nil
	case query.AggMax:
		return "MAX(" + quoted + ")", nil
	default:
		return "", qerr.New(qerr.KindCompile, "unknown aggregate operation %q", string(agg.Op))
	}
}

// projection resolves the node's requested columns plus primary-key and
// correlation columns, preserving table column order. Requested names that
// resolve to no column are skipped here: they may be join or aggregate
// fields, which the materializer resolves (or rejects) at access time.
func (c *Compiler) projection(table *model.Table, node *query.Node, required []string) ([]string, error) {
	selected := make(map[string]struct{})
	for _, name := range node.Columns {
		col, err := table.Column(name)
		if err != nil {
			continue
		}
		selected[col.Name] = struct{}{}
	}

	if len(selected) == 0 {
		// No explicit selection: all columns.
		for _, col := range table.Columns {
			selected[col.Name] = struct{}{}
		}
	}

	for _, col := range table.PrimaryKeys {
		selected[col.Name] = struct{}{}
	}
	for _, name := range required {
		col, err := table.Column(name)
		if err != nil {
			return nil, err
		}
		selected[col.Name] = struct{}{}
	}

	projection := make([]string, 0, len(selected))
	for _, col := range table.Columns {
		if _, ok := selected[col.Name]; ok {
			projection = append(projection, c.dialect.QuoteIdentifier(col.Name))
		}
	}
	if len(projection) == 0 {
		return nil, qerr.New(qerr.KindCompile, "no selectable columns on table %q", table.Name)
	}
	return projection, nil
}

func (c *Compiler) orderClauses(table *model.Table, node *query.Node) ([]string, error) {
	clauses := make([]string, 0, len(node.OrderBy))
	for _, order := range node.OrderBy {
		col, err := table.Column(order.Field)
		if err != nil {
			return nil, qerr.Wrap(qerr.KindCompile, err, "order by on table %q", table.Name)
		}
		direction := "ASC"
		if order.Desc {
			direction = "DESC"
		}
		clauses = append(clauses, c.dialect.QuoteIdentifier(col.Name)+" "+direction)
	}

	// Pagination without an explicit order is nondeterministic; fall back to
	// primary-key order like the batched child loads do.
	if len(clauses) == 0 && (node.Paginate || node.Limit > 0 || node.Offset > 0) {
		for _, pk := range table.PrimaryKeys {
			clauses = append(clauses, c.dialect.QuoteIdentifier(pk.Name)+" ASC")
		}
	}
	return clauses, nil
}

func (c *Compiler) pagination(node *query.Node) string {
	limit := -1
	if node.Limit > 0 {
		limit = node.Limit
	}
	if limit < 0 && node.Offset == 0 {
		return ""
	}
	return c.dialect.Pagination(node.Offset, limit)
}

// emit finalizes a builder with the dialect placeholder format and appends it
// to the batch under key.
func (c *Compiler) emit(batch *Batch, key string, builder sq.SelectBuilder) error {
	sqlText, args, err := builder.PlaceholderFormat(c.dialect.PlaceholderFormat()).ToSql()
	if err != nil {
		return qerr.Wrap(qerr.KindCompile, err, "statement %q", key)
	}
	if strings.TrimSpace(sqlText) == "" {
		return qerr.New(qerr.KindCompile, "statement %q compiled to empty SQL", key)
	}
	batch.Statements = append(batch.Statements, Statement{Key: key, SQL: sqlText, Args: args})
	return nil
}
