package transform

import (
	"nestql/internal/model"
	"nestql/internal/qerr"
	"nestql/internal/query"
)

// TenantFilter appends an equality condition on the table's tenant-filter
// column using the tenant id from the request context. The condition is
// appended unconditionally: a request cannot opt out of tenant scoping.
type TenantFilter struct{}

func (TenantFilter) Name() string { return "tenant-filter" }

func (TenantFilter) TransformFilter(table *model.Table, where map[string]any, ctx Context) (map[string]any, error) {
	column := table.Metadata.Get(model.MetaTenantFilter)
	if column == "" {
		return where, nil
	}

	tenant, ok := ctx[CtxTenant]
	if !ok || tenant == nil || tenant == "" {
		return nil, qerr.New(qerr.KindValidation,
			"table %q requires a tenant id in the request context", table.Name)
	}

	return andWhere(map[string]any{column: map[string]any{"eq": tenant}}, where), nil
}

// TenantGuard enforces tenant scoping on writes to tenant-filtered tables.
// Inserts and upserts get the tenant column stamped from the request context;
// a caller-supplied value for a different tenant is rejected.
type TenantGuard struct{}

func (TenantGuard) Name() string { return "tenant-guard" }

func (TenantGuard) TransformMutation(table *model.Table, action query.Action, ctx Context) (query.Action, error) {
	column := table.Metadata.Get(model.MetaTenantFilter)
	if column == "" {
		return action, nil
	}

	tenant, ok := ctx[CtxTenant]
	if !ok || tenant == nil || tenant == "" {
		return query.Action{}, qerr.New(qerr.KindValidation,
			"table %q requires a tenant id in the request context", table.Name)
	}

	if action.Kind != query.ActionInsert && action.Kind != query.ActionUpsert {
		return action, nil
	}

	if supplied, present := action.Values[column]; present && supplied != tenant {
		return query.Action{}, qerr.New(qerr.KindValidation,
			"value for tenant column %q does not match the request tenant", column)
	}

	values := make(map[string]any, len(action.Values)+1)
	for k, v := range action.Values {
		values[k] = v
	}
	values[column] = tenant
	action.Values = values
	return action, nil
}
