// Package remote implements the sync engine's client boundary over a Turso
// (libSQL) database.
//
// The remote stores timestamps as RFC 3339 text while the local store keeps
// epoch milliseconds; the client converts recognized time-valued fields in
// both directions so neither side ever sees the other's representation. The
// local-only sync flag never crosses the boundary.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
)

// Client talks to a libSQL database holding the remote copy of every
// registry table. It satisfies the sync engine's RemoteClient interface.
type Client struct {
	conn   *sql.DB
	reg    *schema.Registry
	logger *log.Logger
}

// Config parameterizes a Client.
type Config struct {
	// URL is the database URL, e.g. libsql://focusloop-prod.turso.io.
	// Required.
	URL string

	// AuthToken authenticates against a hosted database. Required for
	// libsql:// URLs.
	AuthToken string

	// Registry declares the tables and columns the client transfers.
	// Required.
	Registry *schema.Registry

	// Logger for client activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// New connects to the remote database and verifies the connection.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote URL is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("schema registry is required")
	}
	connStr := cfg.URL
	if strings.HasPrefix(cfg.URL, "libsql://") {
		if cfg.AuthToken == "" {
			return nil, fmt.Errorf("auth token is required for %s", cfg.URL)
		}
		connStr = cfg.URL + "?authToken=" + cfg.AuthToken
	}

	conn, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach remote database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{conn: conn, reg: cfg.Registry, logger: logger}, nil
}

// Close closes the remote connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// EnsureSchema creates the remote tables for every registry table. Remote
// tables mirror the local ones minus the sync flag, with time-valued columns
// stored as TEXT. Idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, tbl := range c.reg.Tables() {
		var defs []string
		for _, col := range tbl.Columns {
			if col.Name == schema.ColSynced {
				continue
			}
			storage := col.Type.StorageType()
			if isTimeColumn(col) {
				storage = "TEXT"
			}
			def := col.Name + " " + storage
			if col.Name == schema.ColID {
				def += " PRIMARY KEY"
			}
			defs = append(defs, def)
		}
		query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
			tbl.Name, strings.Join(defs, ", "))
		if _, err := c.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create remote table %s: %w", tbl.Name, err)
		}
	}
	return nil
}

// UpsertBatch writes records keyed by id and returns the identifiers
// actually written. A record that fails individually is logged and skipped
// so the rest of the batch still lands.
func (c *Client) UpsertBatch(ctx context.Context, table string, records []store.Record) ([]string, error) {
	tbl, ok := c.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	cols := transferColumns(tbl)
	var sets []string
	for _, name := range cols {
		if name == schema.ColID {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", name, name))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders(len(cols)),
		schema.ColID, strings.Join(sets, ", "))

	var written []string
	for _, rec := range records {
		id, _ := rec[schema.ColID].(string)
		wire := c.toRemote(tbl, rec)
		args := make([]any, 0, len(cols))
		for _, name := range cols {
			args = append(args, wire[name])
		}
		if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
			c.logger.Printf("Warning: upsert of %s/%s failed: %v", table, id, err)
			continue
		}
		written = append(written, id)
	}
	return written, nil
}

// Delete removes the remote record by identifier. Deleting a missing record
// is not an error.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	if _, ok := c.reg.Table(table); !ok {
		return fmt.Errorf("unknown table: %s", table)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, schema.ColID)
	if _, err := c.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

// FetchModifiedSince returns records modified at or after sinceMs, ordered
// by modification time ascending, already converted to the local shape.
func (c *Client) FetchModifiedSince(ctx context.Context, table string, sinceMs int64) ([]store.Record, error) {
	tbl, ok := c.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	cols := transferColumns(tbl)
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s >= ? ORDER BY %s ASC",
		strings.Join(cols, ", "), table, schema.ColUpdatedAt, schema.ColUpdatedAt)

	rows, err := c.conn.QueryContext(ctx, query, msToRFC3339(sinceMs))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s changes: %w", table, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		wire := make(store.Record, len(cols))
		for i, name := range cols {
			wire[name] = values[i]
		}
		out = append(out, c.fromRemote(tbl, wire))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}
	return out, nil
}

// transferColumns lists the columns that cross the boundary, in declaration
// order. The sync flag stays local.
func transferColumns(tbl schema.Table) []string {
	var cols []string
	for _, col := range tbl.Columns {
		if col.Name == schema.ColSynced {
			continue
		}
		cols = append(cols, col.Name)
	}
	return cols
}

// isTimeColumn reports whether the column carries an epoch-ms timestamp
// locally and therefore travels as RFC 3339 text.
func isTimeColumn(col schema.Column) bool {
	if col.Name == schema.ColCreatedAt || col.Name == schema.ColUpdatedAt {
		return true
	}
	if col.Type != schema.TypeInteger {
		return false
	}
	return strings.HasSuffix(col.Name, "_at") || col.Name == "last_streak_date"
}

// toRemote converts a local record to the wire shape: time-valued fields
// become RFC 3339 text, booleans become 0/1, the sync flag is dropped.
func (c *Client) toRemote(tbl schema.Table, rec store.Record) store.Record {
	wire := make(store.Record, len(rec))
	for _, col := range tbl.Columns {
		if col.Name == schema.ColSynced {
			continue
		}
		v, ok := rec[col.Name]
		if !ok || v == nil {
			wire[col.Name] = nil
			continue
		}
		switch {
		case isTimeColumn(col):
			wire[col.Name] = msToRFC3339(asInt64(v))
		case col.Type == schema.TypeBoolean:
			if b, _ := v.(bool); b {
				wire[col.Name] = int64(1)
			} else {
				wire[col.Name] = int64(0)
			}
		default:
			wire[col.Name] = v
		}
	}
	return wire
}

// fromRemote converts a wire record back to the local shape.
func (c *Client) fromRemote(tbl schema.Table, wire store.Record) store.Record {
	rec := make(store.Record, len(wire))
	for _, col := range tbl.Columns {
		if col.Name == schema.ColSynced {
			continue
		}
		v, ok := wire[col.Name]
		if !ok || v == nil {
			rec[col.Name] = nil
			continue
		}
		switch {
		case isTimeColumn(col):
			ms, err := rfc3339ToMs(asText(v))
			if err != nil {
				c.logger.Printf("Warning: bad timestamp in %s.%s: %v", tbl.Name, col.Name, err)
				rec[col.Name] = nil
				continue
			}
			rec[col.Name] = ms
		case col.Type == schema.TypeBoolean:
			rec[col.Name] = asInt64(v) != 0
		case col.Type == schema.TypeText:
			rec[col.Name] = asText(v)
		case col.Type == schema.TypeInteger:
			rec[col.Name] = asInt64(v)
		default:
			rec[col.Name] = v
		}
	}
	return rec
}

// wireTimeLayout is RFC 3339 in UTC with a fixed three-digit fraction.
// Constant width keeps the remote's lexicographic ordering and comparisons
// on the updated_at column chronological.
const wireTimeLayout = "2006-01-02T15:04:05.000Z"

// msToRFC3339 formats an epoch-ms timestamp as RFC 3339 text in UTC.
func msToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(wireTimeLayout)
}

// rfc3339ToMs parses RFC 3339 text, with or without fractional seconds,
// into epoch milliseconds.
func rfc3339ToMs(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprintf("%v", v)
}
