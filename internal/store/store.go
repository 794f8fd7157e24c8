// Package store is the storage adapter: uniform record CRUD over one of the
// driver backends.
//
// Every write injects the system fields. Insert assigns a fresh identifier
// and stamps both timestamps; every mutation refreshes updated_at and clears
// the synced flag; delete is always a soft delete. Application read paths
// (FindByID, FindAll, Count) never see soft-deleted rows; FindUnsynced is the
// single read path that does, because deletions must still be uploaded.
//
// The store owns the driver handle exclusively. The sync engine and the
// migration engine go through the store's raw Exec/Query pair rather than
// touching the backend directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store/driver"
)

// Record is one row: the five system fields plus the table's domain columns.
// Values use the canonical Go types from the schema package.
type Record map[string]any

// Store provides record CRUD over a single driver backend.
type Store struct {
	drv    driver.Driver
	reg    *schema.Registry
	logger *log.Logger
	now    func() int64
}

// Config parameterizes a Store.
type Config struct {
	// Driver is the backend handle. The store takes ownership. Required.
	Driver driver.Driver

	// Registry describes the tables the store manages. Required.
	Registry *schema.Registry

	// Logger for adapter activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// New constructs a Store over an opened driver.
func New(cfg Config) (*Store, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		drv:    cfg.Driver,
		reg:    cfg.Registry,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Registry returns the schema registry the store was built with.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Close releases the underlying driver.
func (s *Store) Close() error {
	return s.drv.Close()
}

// Exec runs a raw mutating statement against the backend. Used by the
// migration engine and ad-hoc maintenance; application code should prefer the
// typed CRUD methods.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.drv.ExecContext(ctx, query, args...)
}

// Query runs a raw read statement and returns generic records. This path does
// not filter soft-deleted rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGeneric(rows)
}

// Insert writes a new record and returns its generated identifier.
//
// The identifier, both timestamps and the synced/deleted flags are assigned
// here; callers supply domain columns only. Constraint violations from the
// backend propagate unchanged.
func (s *Store) Insert(ctx context.Context, table string, data Record) (string, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return "", fmt.Errorf("unknown table %s", table)
	}
	domain, err := tbl.ValidateRecord(data, false)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now()

	cols := []string{schema.ColID, schema.ColCreatedAt, schema.ColUpdatedAt, schema.ColSynced, schema.ColDeleted}
	args := []any{id, now, now, 0, 0}
	for _, col := range tbl.Columns {
		if schema.IsSystemColumn(col.Name) {
			continue
		}
		v, present := domain[col.Name]
		if !present {
			continue
		}
		cols = append(cols, col.Name)
		args = append(args, bindValue(v))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.drv.ExecContext(ctx, query, args...); err != nil {
		return "", err
	}
	return id, nil
}

// Update applies the supplied fields to the record with the given identifier.
// updated_at is stamped and the synced flag cleared unconditionally. A missing
// identifier is a no-op, not an error.
func (s *Store) Update(ctx context.Context, table, id string, data Record) error {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return fmt.Errorf("unknown table %s", table)
	}
	domain, err := tbl.ValidateRecord(data, true)
	if err != nil {
		return err
	}

	sets := []string{schema.ColUpdatedAt + " = ?", schema.ColSynced + " = 0"}
	args := []any{s.now()}
	for _, col := range tbl.Columns {
		if schema.IsSystemColumn(col.Name) {
			continue
		}
		v, present := domain[col.Name]
		if !present {
			continue
		}
		sets = append(sets, col.Name+" = ?")
		args = append(args, bindValue(v))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	if _, err := s.drv.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// Delete soft-deletes the record: the row stays in place as a tombstone so
// the deletion itself can be uploaded. Missing identifiers are a no-op.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, ok := s.reg.Table(table); !ok {
		return fmt.Errorf("unknown table %s", table)
	}
	query := fmt.Sprintf("UPDATE %s SET deleted = 1, synced = 0, updated_at = ? WHERE id = ?", table)
	if _, err := s.drv.ExecContext(ctx, query, s.now(), id); err != nil {
		return err
	}
	return nil
}

// FindByID returns the record with the given identifier, or nil if it does
// not exist or has been soft-deleted.
func (s *Store) FindByID(ctx context.Context, table, id string) (Record, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND deleted = 0",
		strings.Join(tbl.ColumnNames(), ", "), table)
	recs, err := s.queryTable(ctx, tbl, query, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// FindOptions controls ordering and pagination for FindAll.
type FindOptions struct {
	// OrderBy names the ordering column (default: created_at).
	OrderBy string
	// Desc orders descending. The default ordering (created_at) is
	// descending unless OrderBy is set explicitly.
	Desc bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results.
	Offset int
}

// FindAll returns records matching every condition by equality, excluding
// soft-deleted rows. With no explicit OrderBy, results come newest-first by
// created_at.
func (s *Store) FindAll(ctx context.Context, table string, conditions Record, opts FindOptions) ([]Record, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}

	where, args, err := buildConditions(&tbl, conditions)
	if err != nil {
		return nil, err
	}

	orderBy := schema.ColCreatedAt
	desc := true
	if opts.OrderBy != "" {
		if _, ok := tbl.Column(opts.OrderBy); !ok {
			return nil, fmt.Errorf("table %s has no column %s", table, opts.OrderBy)
		}
		orderBy = opts.OrderBy
		desc = opts.Desc
	}
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s %s",
		strings.Join(tbl.ColumnNames(), ", "), table, where, orderBy, direction)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite has no bare OFFSET clause; -1 means unlimited.
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	return s.queryTable(ctx, tbl, query, args...)
}

// Count returns the number of records matching the conditions, with the same
// filter semantics as FindAll.
func (s *Store) Count(ctx context.Context, table string, conditions Record) (int, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	where, args, err := buildConditions(&tbl, conditions)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	rows, err := s.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return count, rows.Err()
}

// FindUnsynced returns every locally-dirty record, tombstones included,
// oldest change first. This is the upload working set.
func (s *Store) FindUnsynced(ctx context.Context, table string) ([]Record, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE synced = 0 ORDER BY updated_at ASC",
		strings.Join(tbl.ColumnNames(), ", "), table)
	return s.queryTable(ctx, tbl, query)
}

// CountUnsynced returns the number of locally-dirty records, tombstones
// included.
func (s *Store) CountUnsynced(ctx context.Context, table string) (int, error) {
	if _, ok := s.reg.Table(table); !ok {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	rows, err := s.drv.QueryContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE synced = 0", table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return count, rows.Err()
}

// MarkSynced bulk-sets the synced flag for the given identifiers after a
// confirmed upload. An empty id list is a no-op.
func (s *Store) MarkSynced(ctx context.Context, table string, ids []string) error {
	if _, ok := s.reg.Table(table); !ok {
		return fmt.Errorf("unknown table %s", table)
	}
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("UPDATE %s SET synced = 1 WHERE id IN (%s)", table, placeholders(len(ids)))
	if _, err := s.drv.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// FindByIDAny returns the record regardless of its deleted flag, or nil when
// absent. Sync-engine lookup path; application code uses FindByID.
func (s *Store) FindByIDAny(ctx context.Context, table, id string) (Record, error) {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(tbl.ColumnNames(), ", "), table)
	recs, err := s.queryTable(ctx, tbl, query, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// ApplyRemote materializes a downloaded record locally, preserving the
// remote-assigned identifier, timestamps and delete flag, and marking the row
// synced. Insert-or-replace keyed by id.
func (s *Store) ApplyRemote(ctx context.Context, table string, rec Record) error {
	tbl, ok := s.reg.Table(table)
	if !ok {
		return fmt.Errorf("unknown table %s", table)
	}

	id, _ := rec[schema.ColID].(string)
	if id == "" {
		return fmt.Errorf("remote record for %s has no id", table)
	}

	cols := make([]string, 0, len(tbl.Columns))
	args := make([]any, 0, len(tbl.Columns))
	sets := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		var v any
		switch col.Name {
		case schema.ColSynced:
			v = true
		default:
			raw, present := rec[col.Name]
			if !present {
				continue
			}
			nv, err := schema.NormalizeValue(col, raw)
			if err != nil {
				return fmt.Errorf("remote record for %s: %w", table, err)
			}
			v = nv
		}
		cols = append(cols, col.Name)
		args = append(args, bindValue(v))
		if col.Name != schema.ColID {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col.Name, col.Name))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(sets, ", "))
	if _, err := s.drv.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// buildConditions renders equality conditions plus the tombstone filter.
// Conditions address domain columns only; the adapter owns the system fields
// and a caller-supplied deleted or synced filter would fight the tombstone
// semantics.
func buildConditions(tbl *schema.Table, conditions Record) (string, []any, error) {
	where := []string{"deleted = 0"}
	var args []any
	for _, name := range tbl.ColumnNames() {
		v, present := conditions[name]
		if !present {
			continue
		}
		if schema.IsSystemColumn(name) {
			return "", nil, fmt.Errorf("cannot filter on system column %s", name)
		}
		col, _ := tbl.Column(name)
		nv, err := schema.NormalizeValue(col, v)
		if err != nil {
			return "", nil, err
		}
		where = append(where, name+" = ?")
		args = append(args, bindValue(nv))
	}
	for name := range conditions {
		if _, ok := tbl.Column(name); !ok {
			return "", nil, fmt.Errorf("table %s has no column %s", tbl.Name, name)
		}
	}
	return strings.Join(where, " AND "), args, nil
}

// placeholders returns n comma-separated ? markers.
func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ", ")
}

// bindValue converts a canonical value to its storage representation.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
