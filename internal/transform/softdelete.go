package transform

import (
	"time"

	"nestql/internal/model"
	"nestql/internal/query"
)

// SoftDelete rewrites a physical delete into an update that stamps the
// table's soft-delete column (and, when configured, the soft-delete-by
// column) instead of removing the row. Tables without a soft-delete column
// are left alone.
type SoftDelete struct {
	// Now supplies the deletion timestamp; defaults to time.Now.
	Now func() time.Time
}

func (SoftDelete) Name() string { return "soft-delete" }

func (s SoftDelete) TransformMutation(table *model.Table, action query.Action, ctx Context) (query.Action, error) {
	if action.Kind != query.ActionDelete {
		return action, nil
	}
	column := table.Metadata.Get(model.MetaSoftDelete)
	if column == "" {
		return action, nil
	}

	now := s.Now
	if now == nil {
		now = time.Now
	}

	values := map[string]any{column: now().UTC()}
	if byColumn := table.Metadata.Get(model.MetaSoftDeleteBy); byColumn != "" {
		if user := ctx.String(CtxUser); user != "" {
			values[byColumn] = user
		}
	}

	// A delete may carry its key inside the field map. The rewrite replaces
	// the field map, so lift the primary-key entries into Key first.
	key := action.Key
	if len(key) == 0 {
		key = make(map[string]any, len(table.PrimaryKeys))
		for _, pk := range table.PrimaryKeys {
			if v, ok := action.Values[pk.Name]; ok {
				key[pk.Name] = v
			} else if v, ok := action.Values[pk.DisplayName]; ok {
				key[pk.Name] = v
			}
		}
	}

	return query.Action{
		Kind:   query.ActionUpdate,
		Values: values,
		Key:    key,
	}, nil
}

// SoftDeleteFilter hides soft-deleted rows from reads by requiring the
// soft-delete column to be NULL, unless the request context explicitly asks
// for deleted rows.
type SoftDeleteFilter struct{}

func (SoftDeleteFilter) Name() string { return "soft-delete-filter" }

func (SoftDeleteFilter) TransformFilter(table *model.Table, where map[string]any, ctx Context) (map[string]any, error) {
	column := table.Metadata.Get(model.MetaSoftDelete)
	if column == "" {
		return where, nil
	}
	if ctx.Bool(CtxIncludeDeleted) {
		return where, nil
	}
	return andWhere(map[string]any{column: map[string]any{"isNull": true}}, where), nil
}
