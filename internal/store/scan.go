package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/focusloop/localstore/internal/schema"
)

// queryTable runs a read whose select list matches the table's declared
// columns and decodes each row into a Record with canonical value types.
func (s *Store) queryTable(ctx context.Context, tbl schema.Table, query string, args ...any) ([]Record, error) {
	rows, err := s.drv.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanDeclared(rows, tbl)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", tbl.Name, err)
	}
	return out, nil
}

// scanDeclared decodes one row using the table's declared column types.
func scanDeclared(rows *sql.Rows, tbl schema.Table) (Record, error) {
	raw := make([]any, len(tbl.Columns))
	ptrs := make([]any, len(tbl.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", tbl.Name, err)
	}

	rec := make(Record, len(tbl.Columns))
	for i, col := range tbl.Columns {
		v, err := decodeValue(col, raw[i])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tbl.Name, err)
		}
		rec[col.Name] = v
	}
	return rec, nil
}

// decodeValue converts a driver value to the canonical type for a column.
func decodeValue(col schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.TypeText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case schema.TypeInteger:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case schema.TypeReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case schema.TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeBlob:
		if bs, ok := v.([]byte); ok {
			return bs, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("column %s: unexpected driver value %T", col.Name, v)
}

// scanGeneric decodes rows from a raw query without schema knowledge. Byte
// slices are kept as-is; callers on this path deal with driver types.
func scanGeneric(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, name := range cols {
			rec[name] = raw[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
