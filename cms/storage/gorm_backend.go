package storage

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"contro/cms/fieldtype"

	"gorm.io/gorm"
)

// GormBackend implements Backend on top of a gorm connection: introspection
// through the dialect's migrator, DDL through plain statements so the same
// code serves postgres and sqlite.
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func (b *GormBackend) TableExists(name string) (bool, error) {
	return b.db.Migrator().HasTable(name), nil
}

func (b *GormBackend) ColumnsOf(table string) (map[string]struct{}, error) {
	columnTypes, err := b.db.Migrator().ColumnTypes(table)
	if err != nil {
		slog.Error("sql error introspecting table columns", "table", table, "error", err)
		return nil, fmt.Errorf("error introspecting table '%v': %w", table, err)
	}

	columns := make(map[string]struct{}, len(columnTypes))
	for _, col := range columnTypes {
		columns[col.Name()] = struct{}{}
	}
	return columns, nil
}

func (b *GormBackend) CreateTable(spec TableSpec) error {
	defs := make([]string, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		defs = append(defs, columnDDL(col))
	}

	stmt := fmt.Sprintf("CREATE TABLE %v (%v)", spec.Name, strings.Join(defs, ", "))
	if err := b.db.Exec(stmt).Error; err != nil {
		slog.Error("sql error creating table", "table", spec.Name, "error", err)
		return fmt.Errorf("error creating table '%v': %w", spec.Name, err)
	}
	return nil
}

func (b *GormBackend) AddColumn(table string, column fieldtype.ColumnSpec) error {
	stmt := fmt.Sprintf("ALTER TABLE %v ADD COLUMN %v", table, columnDDL(column))
	if err := b.db.Exec(stmt).Error; err != nil {
		slog.Error("sql error adding column", "table", table, "column", column.Name, "error", err)
		return fmt.Errorf("error adding column '%v' to '%v': %w", column.Name, table, err)
	}
	return nil
}

func (b *GormBackend) CreateJoinTable(spec fieldtype.JoinTableSpec) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE %v (%v uuid NOT NULL REFERENCES %v(id) ON DELETE CASCADE, %v uuid NOT NULL REFERENCES %v(id) ON DELETE CASCADE, PRIMARY KEY (%v, %v))",
		spec.Name,
		spec.OwnerColumn, spec.OwnerTable,
		spec.TargetColumn, spec.TargetTable,
		spec.OwnerColumn, spec.TargetColumn,
	)
	if err := b.db.Exec(stmt).Error; err != nil {
		slog.Error("sql error creating join table", "table", spec.Name, "error", err)
		return fmt.Errorf("error creating join table '%v': %w", spec.Name, err)
	}
	return nil
}

func columnDDL(col fieldtype.ColumnSpec) string {
	var sb strings.Builder
	sb.WriteString(col.Name)
	sb.WriteString(" ")
	sb.WriteString(col.SQLType)

	if col.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if col.NotNull && !col.PrimaryKey {
		sb.WriteString(" NOT NULL")
	}
	if col.Unique {
		sb.WriteString(" UNIQUE")
	}
	if col.Default != nil {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(defaultLiteral(*col.Default))
	}
	if col.Ref != nil {
		sb.WriteString(fmt.Sprintf(" REFERENCES %v(id) ON DELETE %v", col.Ref.Table, col.Ref.OnDelete))
	}

	return sb.String()
}

// defaultLiteral renders a default value for DDL. Numbers and booleans pass
// through, everything else is quoted as a string literal.
func defaultLiteral(raw string) string {
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return raw
	}
	if raw == "true" || raw == "false" {
		return raw
	}
	return "'" + strings.ReplaceAll(raw, "'", "''") + "'"
}
