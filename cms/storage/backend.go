// Package storage is the physical storage collaborator of the schema
// synchronizer: table introspection plus the minimal DDL the synchronizer
// needs. It does not interpret field definitions.
package storage

import "contro/cms/fieldtype"

type TableSpec struct {
	Name    string
	Columns []fieldtype.ColumnSpec
}

type Backend interface {
	TableExists(name string) (bool, error)
	ColumnsOf(table string) (map[string]struct{}, error)
	CreateTable(spec TableSpec) error
	AddColumn(table string, column fieldtype.ColumnSpec) error
	CreateJoinTable(spec fieldtype.JoinTableSpec) error
}
