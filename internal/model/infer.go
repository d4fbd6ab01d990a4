package model

// Relationship inference wires the single/multi link maps. Declared foreign
// keys take precedence; name/type inference then fills in links for schemas
// that never declared constraints. Every link is recorded symmetrically: a
// single link on the referencing (FK) table and a multi link on the
// referenced (key) table.

func inferLinks(m *Model, raw []RawTable, normalize Normalizer) {
	// childTable|childColumn pairs already bound by a declared constraint.
	covered := make(map[string]struct{})

	for _, rt := range raw {
		child, ok := m.byName[rt.Name]
		if !ok {
			continue
		}
		for _, fk := range rt.ForeignKeys {
			parent, ok := m.byName[fk.ReferencedTable]
			if !ok {
				continue
			}
			parentCol, ok := parent.byName[fk.ReferencedColumn]
			if !ok {
				continue
			}
			childCol, ok := child.byName[fk.Column]
			if !ok {
				continue
			}
			addLink(parent, parentCol, child, childCol)
			covered[child.Name+"|"+childCol.Name] = struct{}{}
		}
	}

	for _, parent := range m.tables {
		if len(parent.PrimaryKeys) != 1 {
			continue
		}
		pk := parent.PrimaryKeys[0]
		for _, child := range m.tables {
			if child == parent {
				continue
			}
			for _, col := range child.Columns {
				if col.IsPrimary {
					continue
				}
				if _, bound := covered[child.Name+"|"+col.Name]; bound {
					continue
				}
				if normalize(col.Name) != parent.normalized {
					continue
				}
				if col.DataType != pk.DataType {
					continue
				}
				addLink(parent, pk, child, col)
			}
		}
	}
}

func addLink(parent *Table, parentCol *Column, child *Table, childCol *Column) {
	link := Link{
		ParentTable:  parent.Name,
		ParentColumn: parentCol.Name,
		ChildTable:   child.Name,
		ChildColumn:  childCol.Name,
	}

	singleName := uniqueLinkName(child.SingleLinks, parent.DisplayName, childCol.Name)
	single := link
	single.Name = singleName
	child.SingleLinks[singleName] = single

	multiName := uniqueLinkName(parent.MultiLinks, child.DisplayName, childCol.Name)
	multi := link
	multi.Name = multiName
	parent.MultiLinks[multiName] = multi
}

// uniqueLinkName disambiguates when two FKs between the same pair of tables
// would otherwise claim the same relationship name.
func uniqueLinkName(existing map[string]Link, base, fkColumn string) string {
	if _, taken := existing[base]; !taken {
		return base
	}
	return base + "_" + fkColumn
}
