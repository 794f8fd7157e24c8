// Package migrate converges the live store toward the declared schema
// registry using strictly additive operations.
//
// Apply is idempotent and safe to run on every startup: it introspects the
// live store and issues only the CREATE TABLE, ADD COLUMN and CREATE INDEX
// statements needed to close the gap. Nothing is ever dropped, renamed or
// retyped. Every structural change is appended to the _migrations log table
// for audit; the log is never replayed, the live store's introspected schema
// is the truth Apply converges from.
package migrate

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
)

// logTable is the append-only migration audit log.
const logTable = "_migrations"

// Engine applies additive schema migrations.
type Engine struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a migration engine over an opened store. If logger is nil, a
// default stderr logger is used.
func New(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger}
}

// Apply brings the live store into alignment with the registry. Safe to call
// repeatedly; a second run against an up-to-date store performs no structural
// change and appends no log entries.
func (e *Engine) Apply(ctx context.Context) error {
	if err := e.ensureLogTable(ctx); err != nil {
		return fmt.Errorf("failed to create migration log: %w", err)
	}

	reg := e.store.Registry()
	for _, tbl := range reg.Tables() {
		exists, err := e.tableExists(ctx, tbl.Name)
		if err != nil {
			return fmt.Errorf("failed to introspect table %s: %w", tbl.Name, err)
		}

		if !exists {
			if err := e.createTable(ctx, reg.Version(), tbl); err != nil {
				return err
			}
			// A fresh CREATE TABLE already carries every declared column.
		} else if err := e.addMissingColumns(ctx, reg.Version(), tbl); err != nil {
			return err
		}

		if err := e.createMissingIndexes(ctx, reg.Version(), tbl); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ensureLogTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + logTable + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		table_name TEXT NOT NULL,
		operation TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := e.store.Exec(ctx, query)
	return err
}

func (e *Engine) tableExists(ctx context.Context, name string) (bool, error) {
	recs, err := e.store.Query(ctx,
		"SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, nil
	}
	n, _ := recs[0]["n"].(int64)
	return n > 0, nil
}

func (e *Engine) createTable(ctx context.Context, version int, tbl schema.Table) error {
	defs := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		defs = append(defs, columnDef(col, false))
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)", tbl.Name, strings.Join(defs, ", "))
	if _, err := e.store.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tbl.Name, err)
	}
	e.logger.Printf("Created table %s", tbl.Name)
	return e.appendLog(ctx, version, tbl.Name, "CREATE_TABLE")
}

func (e *Engine) addMissingColumns(ctx context.Context, version int, tbl schema.Table) error {
	existing, err := e.existingColumns(ctx, tbl.Name)
	if err != nil {
		return fmt.Errorf("failed to introspect columns of %s: %w", tbl.Name, err)
	}

	for _, col := range tbl.Columns {
		if existing[col.Name] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", tbl.Name, columnDef(col, true))
		if _, err := e.store.Exec(ctx, query); err != nil {
			// A racing initializer may have added the column between our
			// introspection and this statement. Only that exact condition is
			// absorbed; any other failure propagates.
			if isDuplicateColumn(err) {
				e.logger.Printf("Warning: column %s.%s already exists, skipping", tbl.Name, col.Name)
				continue
			}
			return fmt.Errorf("failed to add column %s.%s: %w", tbl.Name, col.Name, err)
		}
		e.logger.Printf("Added column %s.%s", tbl.Name, col.Name)
		if err := e.appendLog(ctx, version, tbl.Name, "ADD_COLUMN:"+col.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) createMissingIndexes(ctx context.Context, version int, tbl schema.Table) error {
	existing, err := e.existingIndexes(ctx, tbl.Name)
	if err != nil {
		return fmt.Errorf("failed to introspect indexes of %s: %w", tbl.Name, err)
	}

	for _, idx := range tbl.Indexes {
		if existing[idx.Name] {
			continue
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		query := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, idx.Name, tbl.Name, strings.Join(idx.Columns, ", "))
		if _, err := e.store.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
		e.logger.Printf("Created index %s on %s", idx.Name, tbl.Name)
		if err := e.appendLog(ctx, version, tbl.Name, "CREATE_INDEX:"+idx.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	recs, err := e.store.Query(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(recs))
	for _, rec := range recs {
		cols[asString(rec["name"])] = true
	}
	return cols, nil
}

func (e *Engine) existingIndexes(ctx context.Context, table string) (map[string]bool, error) {
	recs, err := e.store.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	if err != nil {
		return nil, err
	}
	idxs := make(map[string]bool, len(recs))
	for _, rec := range recs {
		idxs[asString(rec["name"])] = true
	}
	return idxs, nil
}

func (e *Engine) appendLog(ctx context.Context, version int, table, operation string) error {
	_, err := e.store.Exec(ctx,
		"INSERT INTO "+logTable+" (version, table_name, operation, applied_at) VALUES (?, ?, ?, ?)",
		version, table, operation, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record migration %s on %s: %w", operation, table, err)
	}
	return nil
}

// Entry is one migration log record.
type Entry struct {
	ID        int64
	Version   int
	TableName string
	Operation string
	AppliedAt int64
}

// Log returns all migration log entries in application order.
func (e *Engine) Log(ctx context.Context) ([]Entry, error) {
	recs, err := e.store.Query(ctx,
		"SELECT id, version, table_name, operation, applied_at FROM "+logTable+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration log: %w", err)
	}
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		ent := Entry{
			ID:        asInt64(rec["id"]),
			Version:   int(asInt64(rec["version"])),
			TableName: asString(rec["table_name"]),
			Operation: asString(rec["operation"]),
			AppliedAt: asInt64(rec["applied_at"]),
		}
		entries = append(entries, ent)
	}
	return entries, nil
}

// columnDef renders one column declaration. In ADD COLUMN position the
// primary-key and unique constraints are omitted: SQLite rejects them there,
// and schema evolution only ever adds plain data columns.
func columnDef(col schema.Column, addColumn bool) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteString(" ")
	b.WriteString(col.Type.StorageType())

	if !addColumn {
		if col.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
			if col.AutoIncrement {
				b.WriteString(" AUTOINCREMENT")
			}
		}
		if col.Unique && !col.PrimaryKey {
			b.WriteString(" UNIQUE")
		}
	}

	// NOT NULL on ADD COLUMN requires a default for existing rows.
	def := col.DefaultLiteral()
	if col.NotNull && (!addColumn || def != "") {
		b.WriteString(" NOT NULL")
	}
	if def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String()
}

// isDuplicateColumn matches SQLite's "duplicate column name" error across
// both embedded builds.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func asInt64(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}
