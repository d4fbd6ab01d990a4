// Package query defines the typed query and mutation trees the engine
// consumes. The request-language front end parses incoming documents into
// these types; the engine never sees the wire format.
package query

import (
	"strings"

	"nestql/internal/qerr"
)

// Order describes one sort key.
type Order struct {
	Field string
	Desc  bool
}

// Join describes a nested child selection over a named relationship.
type Join struct {
	// Field is the name the caller used to request the child collection; it is
	// also the name the materializer resolves it under.
	Field string
	// Link is the relationship name on the parent table. Empty means Field.
	Link string
	// ToOne selects single-link (many-to-one) traversal; otherwise the join
	// follows a multi link and yields a collection.
	ToOne bool
	Node  *Node
}

// AggregateOp enumerates supported aggregate operations.
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)

// Aggregate describes one grouped aggregate over a multi-link relationship,
// scoped to each parent row.
type Aggregate struct {
	Field  string
	Link   string
	Op     AggregateOp
	Column string
}

// Node is one nesting level of a request: a table, the columns to return,
// filter/sort/pagination, and the child joins and aggregates hanging off it.
type Node struct {
	Table   string
	Alias   string
	Columns []string
	// Where is an operator-map filter tree: {"status": {"eq": "open"},
	// "OR": [...]}. Keys are column names (display or database form) plus the
	// AND/OR combinators.
	Where    map[string]any
	OrderBy  []Order
	Offset   int
	Limit    int
	Paginate bool

	Joins      []Join
	Aggregates []Aggregate
}

// Name returns the alias when set, else the table name.
func (n *Node) Name() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Table
}

// Validate checks structural constraints before compilation.
func (n *Node) Validate() error {
	if n == nil {
		return qerr.New(qerr.KindCompile, "query node is nil")
	}
	if strings.TrimSpace(n.Table) == "" {
		return qerr.New(qerr.KindCompile, "query node has no table")
	}
	if n.Offset < 0 {
		return qerr.New(qerr.KindCompile, "offset must be non-negative")
	}
	if n.Limit < 0 {
		return qerr.New(qerr.KindCompile, "limit must be non-negative")
	}
	for _, agg := range n.Aggregates {
		switch agg.Op {
		case AggCount, AggSum, AggAvg, AggMin, AggMax:
		default:
			return qerr.New(qerr.KindCompile, "unknown aggregate operation %q", string(agg.Op))
		}
		if agg.Op != AggCount && agg.Column == "" {
			return qerr.New(qerr.KindCompile, "aggregate %q requires a target column", agg.Field)
		}
	}
	for _, join := range n.Joins {
		if join.Field == "" {
			return qerr.New(qerr.KindCompile, "join on table %s has no field name", n.Table)
		}
		if join.Node == nil {
			return qerr.New(qerr.KindCompile, "join %q has no child node", join.Field)
		}
		if err := join.Node.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LinkName returns the relationship name a join traverses.
func (j Join) LinkName() string {
	if j.Link != "" {
		return j.Link
	}
	return j.Field
}

// ActionKind discriminates mutation actions.
type ActionKind int

const (
	ActionInsert ActionKind = iota
	ActionUpdate
	ActionDelete
	ActionUpsert
)

// ParseActionKind maps a kind name to its ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch s {
	case "insert":
		return ActionInsert, nil
	case "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	case "upsert":
		return ActionUpsert, nil
	default:
		return 0, qerr.New(qerr.KindValidation, "unknown mutation kind %q", s)
	}
}

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionUpsert:
		return "upsert"
	default:
		return "invalid"
	}
}

// Action is one mutation step: an explicit kind, the field values, and (for
// update/delete) an optional explicit primary-key predicate. Key values may
// alternatively be embedded in Values.
type Action struct {
	Kind   ActionKind
	Values map[string]any
	Key    map[string]any
}

// Validate checks the action is structurally sound for its kind.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionInsert, ActionUpsert:
		if len(a.Values) == 0 {
			return qerr.New(qerr.KindValidation, "%s requires field values", a.Kind)
		}
	case ActionUpdate:
		if len(a.Values) == 0 {
			return qerr.New(qerr.KindValidation, "update requires field values")
		}
	case ActionDelete:
	default:
		return qerr.New(qerr.KindValidation, "invalid mutation kind")
	}
	return nil
}
