package transform

import (
	"nestql/internal/model"
	"nestql/internal/query"
)

// PopulateGuard strips system-populated audit columns from caller-supplied
// values. Columns marked with populate metadata are read-only to callers;
// silently dropping them (rather than erroring) matches how the engine treats
// unknown write intent on managed columns.
type PopulateGuard struct{}

func (PopulateGuard) Name() string { return "populate-guard" }

func (PopulateGuard) TransformMutation(table *model.Table, action query.Action, _ Context) (query.Action, error) {
	if action.Kind == query.ActionDelete || len(action.Values) == 0 {
		return action, nil
	}

	cleaned := make(map[string]any, len(action.Values))
	for field, value := range action.Values {
		col, err := table.Column(field)
		if err == nil && col.Populated() {
			continue
		}
		cleaned[field] = value
	}
	action.Values = cleaned
	return action, nil
}
