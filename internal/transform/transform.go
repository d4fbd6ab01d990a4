// Package transform holds the policy pipelines evaluated ahead of SQL
// generation. Filter transformers rewrite a query's filter tree; mutation
// transformers rewrite a mutation action. Both are pure functions of
// (table, data, context) and never touch the database themselves.
package transform

import (
	"nestql/internal/model"
	"nestql/internal/query"
)

// Context carries per-request caller state (claims, tenant id, correlation
// id) consumed by transformers. The engine treats its contents as opaque.
type Context map[string]any

// Well-known context keys.
const (
	CtxTenant         = "tenant_id"
	CtxUser           = "user_id"
	CtxIncludeDeleted = "include_deleted"
)

// String returns the string value under key, or "".
func (c Context) String(key string) string {
	if c == nil {
		return ""
	}
	if s, ok := c[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the boolean value under key, defaulting to false.
func (c Context) Bool(key string) bool {
	if c == nil {
		return false
	}
	b, _ := c[key].(bool)
	return b
}

// FilterTransformer rewrites or extends a filter tree before compilation.
type FilterTransformer interface {
	Name() string
	TransformFilter(table *model.Table, where map[string]any, ctx Context) (map[string]any, error)
}

// MutationTransformer rewrites a mutation action before it becomes SQL. It
// may change the action kind (soft delete turns Delete into Update).
type MutationTransformer interface {
	Name() string
	TransformMutation(table *model.Table, action query.Action, ctx Context) (query.Action, error)
}

// FilterPipeline applies filter transformers in registration order.
type FilterPipeline struct {
	transformers []FilterTransformer
}

// NewFilterPipeline builds a pipeline over the given transformers.
func NewFilterPipeline(transformers ...FilterTransformer) *FilterPipeline {
	return &FilterPipeline{transformers: transformers}
}

// Register appends a transformer; it runs after all previously registered
// ones.
func (p *FilterPipeline) Register(t FilterTransformer) {
	p.transformers = append(p.transformers, t)
}

// Apply runs the pipeline. A nil pipeline passes the filter through.
func (p *FilterPipeline) Apply(table *model.Table, where map[string]any, ctx Context) (map[string]any, error) {
	if p == nil {
		return where, nil
	}
	var err error
	for _, t := range p.transformers {
		where, err = t.TransformFilter(table, where, ctx)
		if err != nil {
			return nil, err
		}
	}
	return where, nil
}

// MutationPipeline applies mutation transformers in registration order.
type MutationPipeline struct {
	transformers []MutationTransformer
}

// NewMutationPipeline builds a pipeline over the given transformers.
func NewMutationPipeline(transformers ...MutationTransformer) *MutationPipeline {
	return &MutationPipeline{transformers: transformers}
}

// Register appends a transformer.
func (p *MutationPipeline) Register(t MutationTransformer) {
	p.transformers = append(p.transformers, t)
}

// Apply runs the pipeline. A nil pipeline passes the action through.
func (p *MutationPipeline) Apply(table *model.Table, action query.Action, ctx Context) (query.Action, error) {
	if p == nil {
		return action, nil
	}
	var err error
	for _, t := range p.transformers {
		action, err = t.TransformMutation(table, action, ctx)
		if err != nil {
			return query.Action{}, err
		}
	}
	return action, nil
}

// andWhere combines an injected condition with the caller-supplied filter.
// The injected condition always applies; the caller cannot opt out.
func andWhere(injected, user map[string]any) map[string]any {
	if len(user) == 0 {
		return injected
	}
	return map[string]any{"AND": []any{injected, user}}
}
