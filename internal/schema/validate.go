package schema

import (
	"fmt"
)

// NormalizeValue coerces a record value to the canonical Go representation for
// the column's logical type: string, int64, float64, bool or []byte. A nil
// value passes through for nullable columns.
func NormalizeValue(c Column, v any) (any, error) {
	if v == nil {
		if c.NotNull {
			return nil, fmt.Errorf("column %s is not nullable", c.Name)
		}
		return nil, nil
	}
	switch c.Type {
	case TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %s expects text, got %T", c.Name, v)
		}
		return s, nil
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			// JSON decoding yields float64 for every number.
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("column %s expects integer, got fractional %v", c.Name, n)
			}
			return int64(n), nil
		default:
			return nil, fmt.Errorf("column %s expects integer, got %T", c.Name, v)
		}
	case TypeReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("column %s expects real, got %T", c.Name, v)
		}
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int:
			return b != 0, nil
		case int64:
			return b != 0, nil
		default:
			return nil, fmt.Errorf("column %s expects boolean, got %T", c.Name, v)
		}
	case TypeBlob:
		bs, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("column %s expects blob, got %T", c.Name, v)
		}
		return bs, nil
	default:
		return v, nil
	}
}

// ValidateRecord checks a domain record against the table declaration and
// returns a copy with every value normalized to its canonical representation.
//
// System columns are rejected: callers never supply id, timestamps or flags,
// the storage adapter owns those. When partial is true (updates), absent
// columns are fine; otherwise not-null domain columns without a declared
// default must be present.
func (t *Table) ValidateRecord(rec map[string]any, partial bool) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for name, v := range rec {
		if IsSystemColumn(name) {
			return nil, fmt.Errorf("table %s: system column %s cannot be set directly", t.Name, name)
		}
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %s has no column %s", t.Name, name)
		}
		nv, err := NormalizeValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		out[name] = nv
	}
	if partial {
		return out, nil
	}
	for _, col := range t.Columns {
		if IsSystemColumn(col.Name) {
			continue
		}
		if col.NotNull && col.Default == nil {
			if _, present := out[col.Name]; !present {
				return nil, fmt.Errorf("table %s: column %s is required", t.Name, col.Name)
			}
		}
	}
	return out, nil
}
