package executor

import (
	"fmt"
	"strconv"

	"nestql/internal/compiler"
	"nestql/internal/qerr"
	"nestql/internal/query"
)

// Execution is the materialized outcome of one batch run. It owns every
// captured result set and hands out lightweight views into them. Views are
// restartable: walking a collection consumes nothing, so the same child set
// can be traversed any number of times.
type Execution struct {
	batch   *compiler.Batch
	results map[string]*ResultSet

	// childIndex memoizes, per statement and correlation column, the mapping
	// from correlation value to matching row positions. Built on first
	// traversal of a relationship and shared by every parent row.
	childIndex map[string]map[string][]int
}

// Root returns the view over the root node's rows.
func (e *Execution) Root() (*NodeSet, error) {
	return e.nodeSet(e.batch.RootKey)
}

// TotalRows returns the number of rows captured across every result set.
func (e *Execution) TotalRows() int {
	total := 0
	for _, rs := range e.results {
		total += rs.Len()
	}
	return total
}

// Result exposes a raw result set by statement key.
func (e *Execution) Result(key string) (*ResultSet, bool) {
	rs, ok := e.results[key]
	return rs, ok
}

func (e *Execution) nodeSet(key string) (*NodeSet, error) {
	desc, ok := e.batch.Descriptors[key]
	if !ok {
		return nil, qerr.New(qerr.KindResolve, "no descriptor for statement %q", key)
	}
	rs, ok := e.results[key]
	if !ok {
		return nil, qerr.New(qerr.KindResolve, "no result set for statement %q", key)
	}
	return &NodeSet{exec: e, desc: desc, rs: rs}, nil
}

// index returns the row positions in the keyed result set whose column
// matches the given correlation value.
func (e *Execution) index(key, column string, value any) ([]int, error) {
	cacheKey := key + "\x00" + column
	if e.childIndex == nil {
		e.childIndex = make(map[string]map[string][]int)
	}
	byValue, ok := e.childIndex[cacheKey]
	if !ok {
		rs, found := e.results[key]
		if !found {
			return nil, qerr.New(qerr.KindResolve, "no result set for statement %q", key)
		}
		col, found := rs.ColumnIndex(column)
		if !found {
			return nil, qerr.New(qerr.KindResolve, "no column %q in result set %q", column, key)
		}
		byValue = make(map[string][]int, rs.Len())
		for i, row := range rs.rows {
			k := correlationKey(row[col])
			byValue[k] = append(byValue[k], i)
		}
		e.childIndex[cacheKey] = byValue
	}
	return byValue[correlationKey(value)], nil
}

// correlationKey folds a correlation value to a comparable form. Drivers
// disagree on the Go type of the same column across statements (int64 here,
// string there), so matching happens on the printed representation.
func correlationKey(v any) string {
	return fmt.Sprint(v)
}

// NodeSet is a restartable view over some rows of one statement's result
// set. A nil indices slice means every row.
type NodeSet struct {
	exec    *Execution
	desc    *compiler.Descriptor
	rs      *ResultSet
	indices []int
	scoped  bool
}

// Len returns the number of rows in the view.
func (s *NodeSet) Len() int {
	if s.scoped {
		return len(s.indices)
	}
	return s.rs.Len()
}

// Row returns the i-th row of the view.
func (s *NodeSet) Row(i int) (*Row, error) {
	n := s.Len()
	if i < 0 || i >= n {
		return nil, qerr.New(qerr.KindResolve, "row %d out of range (%d rows)", i, n)
	}
	pos := i
	if s.scoped {
		pos = s.indices[i]
	}
	return &Row{set: s, pos: pos}, nil
}

// Rows returns all rows of the view in statement order.
func (s *NodeSet) Rows() []*Row {
	out := make([]*Row, s.Len())
	for i := range out {
		out[i], _ = s.Row(i)
	}
	return out
}

// Page describes pagination of a node that requested it: the window that was
// fetched and the total row count the filter matches.
type Page struct {
	TotalCount int64
	Offset     int
	Limit      int
}

// Page returns pagination info for this node. It errors on nodes that did
// not request pagination.
func (s *NodeSet) Page() (*Page, error) {
	if !s.desc.Paginate || s.desc.CountKey == "" {
		return nil, qerr.New(qerr.KindResolve, "node %q is not paginated", s.desc.Key)
	}
	rs, ok := s.exec.results[s.desc.CountKey]
	if !ok {
		return nil, qerr.New(qerr.KindResolve, "no count result for node %q", s.desc.Key)
	}
	if rs.Len() == 0 || len(rs.columns) == 0 {
		return nil, qerr.New(qerr.KindResolve, "empty count result for node %q", s.desc.Key)
	}
	total, err := toInt64(rs.rows[0][0])
	if err != nil {
		return nil, qerr.Wrap(qerr.KindResolve, err, "count for node %q", s.desc.Key)
	}
	return &Page{TotalCount: total, Offset: s.desc.Offset, Limit: s.desc.Limit}, nil
}

// Row is one row of a NodeSet. Field access resolves columns, relationship
// traversals, and aggregate values under a single namespace.
type Row struct {
	set *NodeSet
	pos int
}

// Field resolves a name against this row. Resolution order: a column of the
// row's table, then a requested relationship, then a requested aggregate.
// A relationship field yields *NodeSet (or *Row / nil for to-one joins); an
// aggregate field yields its scalar.
func (r *Row) Field(name string) (any, error) {
	desc := r.set.desc

	if col, err := desc.Table.Column(name); err == nil {
		if i, ok := r.set.rs.ColumnIndex(col.Name); ok {
			return r.set.rs.rows[r.pos][i], nil
		}
	}

	if join, ok := desc.Joins[name]; ok {
		return r.resolveJoin(join)
	}

	if agg, ok := desc.Aggregates[name]; ok {
		return r.resolveAggregate(agg)
	}

	return nil, qerr.New(qerr.KindResolve,
		"%q is not a selected column, relationship, or aggregate of %q", name, desc.Table.Name)
}

// Column returns the raw column value, bypassing join and aggregate lookup.
func (r *Row) Column(name string) (any, error) {
	col, err := r.set.desc.Table.Column(name)
	if err != nil {
		return nil, err
	}
	return r.set.rs.Value(r.pos, col.Name)
}

func (r *Row) resolveJoin(join compiler.JoinDescriptor) (any, error) {
	parent, err := r.set.rs.Value(r.pos, join.ParentColumn)
	if err != nil {
		return nil, err
	}

	child, err := r.set.exec.nodeSet(join.StatementKey)
	if err != nil {
		return nil, err
	}

	if parent == nil {
		// Unset foreign key: nothing to traverse to.
		if join.ToOne {
			return nil, nil
		}
		child.indices = nil
		child.scoped = true
		return child, nil
	}

	indices, err := r.set.exec.index(join.StatementKey, join.ChildColumn, parent)
	if err != nil {
		return nil, err
	}
	child.indices = indices
	child.scoped = true

	if join.ToOne {
		if len(indices) == 0 {
			return nil, nil
		}
		return child.Row(0)
	}
	return child, nil
}

func (r *Row) resolveAggregate(agg compiler.AggregateDescriptor) (any, error) {
	parent, err := r.set.rs.Value(r.pos, agg.ParentColumn)
	if err != nil {
		return nil, err
	}

	indices, err := r.set.exec.index(agg.StatementKey, agg.GroupColumn, parent)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		// No child rows grouped under this parent: a count is zero, the
		// other operations have no defined value.
		if agg.Op == query.AggCount {
			return int64(0), nil
		}
		return nil, nil
	}

	rs := r.set.exec.results[agg.StatementKey]
	return rs.Value(indices[0], agg.ValueColumn)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integer", v)
	}
}
