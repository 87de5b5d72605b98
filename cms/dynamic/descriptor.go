// Package dynamic holds the runtime side of the schema engine: the entity
// descriptor derived from a content type, the registry caching descriptors
// per slug, the synchronizer converging physical storage with declared
// definitions, and the entry store implementing the generic CRUD semantics.
package dynamic

import (
	"contro/cms/fieldtype"
	"contro/cms/schema"

	"github.com/google/uuid"
)

// FieldSpec pairs a field definition with its storage mapping. Exactly one of
// Column and Join is set: multi-relations live in a join table, everything
// else in a column of the entity table.
type FieldSpec struct {
	Def    schema.ContentFieldDefinition
	Column *fieldtype.ColumnSpec
	Join   *fieldtype.JoinTableSpec
}

// EntityDef is the runtime entity definition for one content type: a data
// driven descriptor interpreted uniformly by storage and serialization code.
// No per-type static types are ever synthesized.
type EntityDef struct {
	TypeId   uuid.UUID
	Slug     string
	Name     string
	Plural   string
	Table    string
	IsActive bool

	Fields []FieldSpec
}

// BuildDef derives the runtime entity definition from a content type, one
// field spec per field definition in declared order.
func BuildDef(ct *schema.ContentTypeDefinition) (*EntityDef, error) {
	def := &EntityDef{
		TypeId:   ct.Id,
		Slug:     ct.Slug,
		Name:     ct.Name,
		Plural:   ct.Plural(),
		Table:    ct.StorageTable(),
		IsActive: ct.IsActive,
		Fields:   make([]FieldSpec, 0, len(ct.Fields)),
	}

	for i := range ct.Fields {
		field := ct.Fields[i]

		if field.FieldType == schema.FieldM2m {
			join, err := fieldtype.JoinTable(ct, &field)
			if err != nil {
				return nil, err
			}
			def.Fields = append(def.Fields, FieldSpec{Def: field, Join: &join})
			continue
		}

		column, err := fieldtype.Column(&field)
		if err != nil {
			return nil, err
		}
		def.Fields = append(def.Fields, FieldSpec{Def: field, Column: &column})
	}

	return def, nil
}

func (d *EntityDef) Field(slug string) *FieldSpec {
	for i := range d.Fields {
		if d.Fields[i].Def.Slug == slug {
			return &d.Fields[i]
		}
	}
	return nil
}

// StandardColumns are the lifecycle columns every dynamic entity table
// carries, ahead of the declared fields.
func (d *EntityDef) StandardColumns() []fieldtype.ColumnSpec {
	draft := schema.StatusDraft
	return []fieldtype.ColumnSpec{
		{Name: "id", SQLType: "uuid", PrimaryKey: true},
		{Name: "created_at", SQLType: "timestamp", NotNull: true},
		{Name: "updated_at", SQLType: "timestamp", NotNull: true},
		{Name: "status", SQLType: "varchar(20)", NotNull: true, Default: &draft},
		{Name: "published_at", SQLType: "timestamp"},
	}
}

// TableColumns is the full column set for table creation: standard columns
// followed by the declared field columns in order.
func (d *EntityDef) TableColumns() []fieldtype.ColumnSpec {
	columns := d.StandardColumns()
	for i := range d.Fields {
		if d.Fields[i].Column != nil {
			columns = append(columns, *d.Fields[i].Column)
		}
	}
	return columns
}

// JoinTables lists the through tables required by the type's multi-relation
// fields.
func (d *EntityDef) JoinTables() []fieldtype.JoinTableSpec {
	var joins []fieldtype.JoinTableSpec
	for i := range d.Fields {
		if d.Fields[i].Join != nil {
			joins = append(joins, *d.Fields[i].Join)
		}
	}
	return joins
}
