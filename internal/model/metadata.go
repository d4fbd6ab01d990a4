package model

import "strconv"

// Metadata keys consumed by the transformer pipeline and the mutation engine.
const (
	MetaTenantFilter = "tenant-filter"
	MetaSoftDelete   = "soft-delete"
	MetaSoftDeleteBy = "soft-delete-by"
	MetaBatchMaxSize = "batch-max-size"
	MetaVisibility   = "visibility"
	MetaPopulate     = "populate"

	visibilityHidden = "hidden"

	// DefaultBatchMaxSize caps batched mutations when a table declares no
	// batch-max-size of its own.
	DefaultBatchMaxSize = 100
)

// Metadata is the open-ended key/value bag attached to tables and columns.
type Metadata map[string]string

// Get returns the value for key, or "".
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Has reports whether key is present with a non-empty value.
func (m Metadata) Has(key string) bool {
	return m.Get(key) != ""
}

// Merge returns a copy of m with overrides applied on top.
func (m Metadata) Merge(overrides Metadata) Metadata {
	if len(overrides) == 0 {
		return m
	}
	merged := make(Metadata, len(m)+len(overrides))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Hidden reports whether the bag marks its owner as hidden.
func (m Metadata) Hidden() bool {
	return m.Get(MetaVisibility) == visibilityHidden
}

// BatchMaxSize returns the declared batch cap, or DefaultBatchMaxSize when
// absent or unparseable.
func (m Metadata) BatchMaxSize() int {
	raw := m.Get(MetaBatchMaxSize)
	if raw == "" {
		return DefaultBatchMaxSize
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return DefaultBatchMaxSize
	}
	return size
}
