package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the logical type of a column. The mapping to a physical
// storage type is fixed and total: unrecognized types fall back to TEXT
// rather than failing.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeBoolean ColumnType = "boolean"
	TypeBlob    ColumnType = "blob"
)

// StorageType returns the physical SQLite storage type for a logical type.
func (t ColumnType) StorageType() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeBoolean:
		// SQLite has no boolean storage class; booleans are 0/1 integers.
		return "INTEGER"
	case TypeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// Column declares a single table column.
type Column struct {
	Name          string     `yaml:"name"`
	Type          ColumnType `yaml:"type"`
	NotNull       bool       `yaml:"not_null,omitempty"`
	Unique        bool       `yaml:"unique,omitempty"`
	Default       any        `yaml:"default,omitempty"`
	PrimaryKey    bool       `yaml:"primary_key,omitempty"`
	AutoIncrement bool       `yaml:"auto_increment,omitempty"`
}

// DefaultLiteral renders the column's default value as a SQL literal.
// Returns an empty string when no default is declared.
func (c Column) DefaultLiteral() string {
	switch v := c.Default.(type) {
	case nil:
		return ""
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Index declares a table index.
type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

// Table declares a table: its name, columns in declaration order, and indexes.
type Table struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
	Indexes []Index  `yaml:"indexes,omitempty"`
}

// System column names present on every managed table.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColSynced    = "synced"
	ColDeleted   = "deleted"
)

// SystemColumns returns the five columns every managed table carries.
func SystemColumns() []Column {
	return []Column{
		{Name: ColID, Type: TypeText, PrimaryKey: true},
		{Name: ColCreatedAt, Type: TypeInteger, NotNull: true},
		{Name: ColUpdatedAt, Type: TypeInteger, NotNull: true},
		{Name: ColSynced, Type: TypeBoolean, Default: false},
		{Name: ColDeleted, Type: TypeBoolean, Default: false},
	}
}

// IsSystemColumn reports whether name is one of the five system columns.
func IsSystemColumn(name string) bool {
	switch name {
	case ColID, ColCreatedAt, ColUpdatedAt, ColSynced, ColDeleted:
		return true
	}
	return false
}

// NewTable declares a table with the system columns prepended to the given
// domain columns.
func NewTable(name string, domainCols []Column, indexes ...Index) Table {
	cols := SystemColumns()
	cols = append(cols, domainCols...)
	return Table{Name: name, Columns: cols, Indexes: indexes}
}

// Column returns the declared column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns all column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Validate checks that the table declaration is internally consistent.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s has a column without a name", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s declares column %s twice", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.AutoIncrement && c.Type != TypeInteger {
			return fmt.Errorf("table %s column %s: auto_increment requires integer type", t.Name, c.Name)
		}
	}
	for _, idx := range t.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("table %s has an index without a name", t.Name)
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("table %s index %s has no columns", t.Name, idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return fmt.Errorf("table %s index %s references unknown column %s", t.Name, idx.Name, col)
			}
		}
	}
	return nil
}
