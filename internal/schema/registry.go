package schema

import (
	"fmt"
)

// Registry is the ordered, immutable set of table declarations the data layer
// converges toward. Table order matters: the migration engine and sync engine
// both process tables in registry order.
type Registry struct {
	version int
	tables  []Table
	byName  map[string]int
}

// NewRegistry builds a registry from the given tables.
// Returns an error if any table declaration is invalid or duplicated.
func NewRegistry(version int, tables ...Table) (*Registry, error) {
	r := &Registry{
		version: version,
		tables:  make([]Table, 0, len(tables)),
		byName:  make(map[string]int, len(tables)),
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid table declaration: %w", err)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("table %s declared twice", t.Name)
		}
		r.byName[t.Name] = len(r.tables)
		r.tables = append(r.tables, t)
	}
	return r, nil
}

// Version returns the registry's declared schema version.
func (r *Registry) Version() int {
	return r.version
}

// Tables returns all table declarations in registry order.
func (r *Registry) Tables() []Table {
	out := make([]Table, len(r.tables))
	copy(out, r.tables)
	return out
}

// Table returns the declaration for the named table.
func (r *Registry) Table(name string) (Table, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Table{}, false
	}
	return r.tables[i], true
}

// DefaultRegistry declares the Focusloop application tables.
//
// sessions holds one row per focus/break session. streaks is a single-row
// aggregate maintained by the application. settings is a key/value table for
// user preferences that should follow the user across devices.
func DefaultRegistry() *Registry {
	sessions := NewTable("sessions",
		[]Column{
			{Name: "kind", Type: TypeText, NotNull: true, Default: "focus"},
			{Name: "label", Type: TypeText},
			{Name: "started_at", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "ended_at", Type: TypeInteger},
			{Name: "duration_min", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "completed", Type: TypeBoolean, Default: false},
		},
		Index{Name: "idx_sessions_started", Columns: []string{"started_at"}},
		Index{Name: "idx_sessions_kind", Columns: []string{"kind"}},
	)

	// last_streak_date is always epoch milliseconds at UTC midnight, never a
	// calendar date string. Keeping one representation lets the sync boundary
	// convert it like any other timestamp column.
	streaks := NewTable("streaks",
		[]Column{
			{Name: "current_streak", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "longest_streak", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "total_sessions", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "total_focus_min", Type: TypeInteger, NotNull: true, Default: 0},
			{Name: "last_streak_date", Type: TypeInteger},
		},
	)

	settings := NewTable("settings",
		[]Column{
			{Name: "key", Type: TypeText, NotNull: true, Unique: true},
			{Name: "value", Type: TypeText},
		},
		Index{Name: "idx_settings_key", Columns: []string{"key"}, Unique: true},
	)

	reg, err := NewRegistry(1, sessions, streaks, settings)
	if err != nil {
		// The default registry is static; a failure here is a programming error.
		panic(fmt.Sprintf("schema: invalid default registry: %v", err))
	}
	return reg
}
