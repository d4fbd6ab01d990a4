package model

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Normalizer reduces a table or column name to the canonical form used for
// relationship inference. It is a pure function passed explicitly to Load;
// there is no ambient global naming state.
type Normalizer func(name string) string

// DefaultNormalizer lower-cases, strips underscores, singularizes, and drops
// a trailing "id" so that table "OrderItems" and column "order_item_id"
// normalize to the same "orderitem".
func DefaultNormalizer() Normalizer {
	return func(name string) string {
		n := strings.ToLower(strings.TrimSpace(name))
		n = strings.ReplaceAll(n, "_", "")
		n = strings.TrimSuffix(n, "id")
		if n == "" {
			return strings.ToLower(strings.TrimSpace(name))
		}
		return inflection.Singular(n)
	}
}
