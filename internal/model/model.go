// Package model holds the typed description of the database the engine works
// against: tables, columns, primary keys, and the single/multi relationship
// maps used for nested queries. The model is built once from introspected
// schema input and is immutable afterward, so it is safe for unbounded
// concurrent readers.
package model

import (
	"strings"

	"nestql/internal/qerr"
)

// Column describes one table column.
type Column struct {
	Name        string
	DisplayName string
	DataType    string
	Nullable    bool
	Ordinal     int
	IsPrimary   bool
	IsIdentity  bool
	Metadata    Metadata
}

// Populated reports whether the column is system-populated (audit columns);
// callers may not supply values for it.
func (c *Column) Populated() bool {
	return c.Metadata.Has(MetaPopulate)
}

// Link is a directed relationship between a parent key column and a child
// foreign-key column. The same Link value is recorded on both participating
// tables: as a single link on the child (FK) side and a multi link on the
// parent (key) side, under context-dependent names.
type Link struct {
	Name         string
	ParentTable  string
	ParentColumn string
	ChildTable   string
	ChildColumn  string
}

// Table is a schema-qualified relation plus its relationship maps.
type Table struct {
	Schema      string
	Name        string
	DisplayName string
	Columns     []*Column
	PrimaryKeys []*Column
	// SingleLinks: this table's FK points at one row of Link.ParentTable.
	SingleLinks map[string]Link
	// MultiLinks: Link.ChildTable holds FKs pointing at this table's key.
	MultiLinks map[string]Link
	Metadata   Metadata

	normalized string
	byName     map[string]*Column
	byDisplay  map[string]*Column
}

// Column resolves a column by database name or display name.
func (t *Table) Column(name string) (*Column, error) {
	if col, ok := t.byName[name]; ok {
		return col, nil
	}
	if col, ok := t.byDisplay[name]; ok {
		return col, nil
	}
	return nil, qerr.NotFound("column", t.Name+"."+name)
}

// HasColumn reports whether name resolves to a column on this table.
func (t *Table) HasColumn(name string) bool {
	_, err := t.Column(name)
	return err == nil
}

// Key returns the table's sole primary-key column and errors when the table
// has none or a composite key.
func (t *Table) Key() (*Column, error) {
	if len(t.PrimaryKeys) != 1 {
		return nil, qerr.New(qerr.KindNotFound, "table %q has no single-column primary key", t.Name)
	}
	return t.PrimaryKeys[0], nil
}

// SingleLink resolves a many-to-one relationship by name.
func (t *Table) SingleLink(name string) (Link, error) {
	if link, ok := t.SingleLinks[name]; ok {
		return link, nil
	}
	return Link{}, qerr.NotFound("relationship", t.Name+"."+name)
}

// MultiLink resolves a one-to-many relationship by name.
func (t *Table) MultiLink(name string) (Link, error) {
	if link, ok := t.MultiLinks[name]; ok {
		return link, nil
	}
	return Link{}, qerr.NotFound("relationship", t.Name+"."+name)
}

// Model is the loaded relational model.
type Model struct {
	tables    []*Table
	byName    map[string]*Table
	byDisplay map[string]*Table
}

// Tables returns the loaded tables in input order.
func (m *Model) Tables() []*Table { return m.tables }

// Table resolves a table by database name or display name.
func (m *Model) Table(name string) (*Table, error) {
	if t, ok := m.byName[name]; ok {
		return t, nil
	}
	if t, ok := m.byDisplay[name]; ok {
		return t, nil
	}
	return nil, qerr.NotFound("table", name)
}

// RawColumn is column input from schema introspection.
type RawColumn struct {
	Name        string
	DisplayName string
	DataType    string
	Nullable    bool
	Ordinal     int
	IsIdentity  bool
	Metadata    Metadata
}

// RawForeignKey is a declared foreign-key constraint on a raw table.
type RawForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// RawTable is table input from schema introspection, with columns and primary
// keys already populated.
type RawTable struct {
	Schema      string
	Name        string
	DisplayName string
	Columns     []RawColumn
	PrimaryKeys []string
	ForeignKeys []RawForeignKey
	Metadata    Metadata
}

type loadOptions struct {
	normalize   Normalizer
	tableMeta   map[string]Metadata
	columnMeta  map[string]map[string]Metadata
	displayName func(string) string
}

// Option customizes model loading.
type Option func(*loadOptions)

// WithNormalizer overrides the name normalizer used for relationship
// inference.
func WithNormalizer(n Normalizer) Option {
	return func(o *loadOptions) { o.normalize = n }
}

// WithTableMetadata merges metadata onto a table before loading.
func WithTableMetadata(table string, md Metadata) Option {
	return func(o *loadOptions) {
		if o.tableMeta == nil {
			o.tableMeta = make(map[string]Metadata)
		}
		o.tableMeta[table] = o.tableMeta[table].Merge(md)
	}
}

// WithColumnMetadata merges metadata onto a column before loading.
func WithColumnMetadata(table, column string, md Metadata) Option {
	return func(o *loadOptions) {
		if o.columnMeta == nil {
			o.columnMeta = make(map[string]map[string]Metadata)
		}
		if o.columnMeta[table] == nil {
			o.columnMeta[table] = make(map[string]Metadata)
		}
		o.columnMeta[table][column] = o.columnMeta[table][column].Merge(md)
	}
}

// Load builds the model: applies metadata, drops hidden tables, and infers
// relationships. The returned model must not be mutated.
func Load(raw []RawTable, opts ...Option) (*Model, error) {
	options := &loadOptions{normalize: DefaultNormalizer()}
	for _, opt := range opts {
		opt(options)
	}

	m := &Model{
		byName:    make(map[string]*Table, len(raw)),
		byDisplay: make(map[string]*Table, len(raw)),
	}

	for _, rt := range raw {
		meta := rt.Metadata.Merge(options.tableMeta[rt.Name])
		if meta.Hidden() {
			continue
		}

		display := rt.DisplayName
		if display == "" {
			display = rt.Name
		}
		table := &Table{
			Schema:      rt.Schema,
			Name:        rt.Name,
			DisplayName: display,
			SingleLinks: make(map[string]Link),
			MultiLinks:  make(map[string]Link),
			Metadata:    meta,
			normalized:  options.normalize(rt.Name),
			byName:      make(map[string]*Column, len(rt.Columns)),
			byDisplay:   make(map[string]*Column, len(rt.Columns)),
		}

		pkSet := make(map[string]struct{}, len(rt.PrimaryKeys))
		for _, pk := range rt.PrimaryKeys {
			pkSet[pk] = struct{}{}
		}

		for i, rc := range rt.Columns {
			colDisplay := rc.DisplayName
			if colDisplay == "" {
				colDisplay = rc.Name
			}
			ordinal := rc.Ordinal
			if ordinal == 0 {
				ordinal = i + 1
			}
			_, isPK := pkSet[rc.Name]
			col := &Column{
				Name:        rc.Name,
				DisplayName: colDisplay,
				DataType:    strings.ToLower(rc.DataType),
				Nullable:    rc.Nullable,
				Ordinal:     ordinal,
				IsPrimary:   isPK,
				IsIdentity:  rc.IsIdentity,
				Metadata:    rc.Metadata.Merge(options.columnMeta[rt.Name][rc.Name]),
			}
			table.Columns = append(table.Columns, col)
			table.byName[col.Name] = col
			table.byDisplay[col.DisplayName] = col
			if isPK {
				table.PrimaryKeys = append(table.PrimaryKeys, col)
			}
		}

		m.tables = append(m.tables, table)
		m.byName[table.Name] = table
		m.byDisplay[table.DisplayName] = table
	}

	inferLinks(m, raw, options.normalize)
	return m, nil
}
