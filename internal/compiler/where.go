package compiler

import (
	"sort"

	sq "github.com/Masterminds/squirrel"

	"nestql/internal/dialect"
	"nestql/internal/model"
	"nestql/internal/qerr"
)

// buildWhere parses an operator-map filter tree into a squirrel condition.
// Keys are column names (database or display form) plus the AND/OR
// combinators; values are operator maps like {"eq": 5} or {"in": [...]}.
// Keys are processed in sorted order so generated SQL is deterministic.
func buildWhere(table *model.Table, d dialect.Dialect, where map[string]any) (sq.Sqlizer, error) {
	if len(where) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(where))
	for key := range where {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]sq.Sqlizer, 0, len(keys))
	for _, key := range keys {
		value := where[key]
		switch key {
		case "AND", "OR":
			items, err := filterList(key, value)
			if err != nil {
				return nil, err
			}
			subConditions := make([]sq.Sqlizer, 0, len(items))
			for _, item := range items {
				cond, err := buildWhere(table, d, item)
				if err != nil {
					return nil, err
				}
				if cond != nil {
					subConditions = append(subConditions, cond)
				}
			}
			if len(subConditions) == 0 {
				continue
			}
			if key == "AND" {
				conditions = append(conditions, sq.And(subConditions))
			} else {
				conditions = append(conditions, sq.Or(subConditions))
			}

		default:
			col, err := table.Column(key)
			if err != nil {
				return nil, qerr.Wrap(qerr.KindCompile, err, "filter on table %q", table.Name)
			}
			filterMap, ok := value.(map[string]any)
			if !ok {
				return nil, qerr.New(qerr.KindCompile, "filter for %q must be an operator map", key)
			}
			colConditions, err := buildColumnFilter(d.QuoteIdentifier(col.Name), filterMap)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, colConditions...)
		}
	}

	if len(conditions) == 0 {
		return nil, nil
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return sq.And(conditions), nil
}

func filterList(combinator string, value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, raw := range v {
			item, ok := raw.(map[string]any)
			if !ok {
				return nil, qerr.New(qerr.KindCompile, "%s array items must be objects", combinator)
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, qerr.New(qerr.KindCompile, "%s must be an array", combinator)
	}
}

// buildColumnFilter builds conditions for one column. Operators are processed
// in sorted order for deterministic SQL.
func buildColumnFilter(quotedColumn string, filterMap map[string]any) ([]sq.Sqlizer, error) {
	ops := make([]string, 0, len(filterMap))
	for op := range filterMap {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	conditions := make([]sq.Sqlizer, 0, len(ops))
	for _, op := range ops {
		value := filterMap[op]
		switch op {
		case "eq":
			conditions = append(conditions, sq.Eq{quotedColumn: value})
		case "ne":
			conditions = append(conditions, sq.NotEq{quotedColumn: value})
		case "lt":
			conditions = append(conditions, sq.Lt{quotedColumn: value})
		case "lte":
			conditions = append(conditions, sq.LtOrEq{quotedColumn: value})
		case "gt":
			conditions = append(conditions, sq.Gt{quotedColumn: value})
		case "gte":
			conditions = append(conditions, sq.GtOrEq{quotedColumn: value})
		case "in":
			arr, err := valueList(op, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, sq.Eq{quotedColumn: arr})
		case "notIn":
			arr, err := valueList(op, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, sq.NotEq{quotedColumn: arr})
		case "like":
			conditions = append(conditions, sq.Like{quotedColumn: value})
		case "notLike":
			conditions = append(conditions, sq.NotLike{quotedColumn: value})
		case "isNull":
			boolVal, ok := value.(bool)
			if !ok {
				return nil, qerr.New(qerr.KindCompile, "isNull must be a boolean")
			}
			if boolVal {
				conditions = append(conditions, sq.Eq{quotedColumn: nil})
			} else {
				conditions = append(conditions, sq.NotEq{quotedColumn: nil})
			}
		default:
			return nil, qerr.New(qerr.KindCompile, "unknown filter operator %q", op)
		}
	}

	return conditions, nil
}

func valueList(op string, value any) ([]any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, qerr.New(qerr.KindCompile, "%s operator requires an array", op)
	}
	return arr, nil
}
