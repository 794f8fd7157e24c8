package schema

import (
	"strings"
	"testing"
)

// TestNewTable_SystemColumnsFirst verifies every declared table starts with
// the five system columns in canonical order.
func TestNewTable_SystemColumnsFirst(t *testing.T) {
	tbl := NewTable("things", []Column{{Name: "title", Type: TypeText}})

	want := []string{ColID, ColCreatedAt, ColUpdatedAt, ColSynced, ColDeleted, "title"}
	got := tbl.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("ColumnNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestTableValidate_DuplicateColumn tests that duplicate columns are rejected.
func TestTableValidate_DuplicateColumn(t *testing.T) {
	tbl := Table{
		Name: "bad",
		Columns: []Column{
			{Name: "x", Type: TypeText},
			{Name: "x", Type: TypeText},
		},
	}
	if err := tbl.Validate(); err == nil {
		t.Fatal("Validate() accepted duplicate columns")
	}
}

// TestTableValidate_IndexUnknownColumn tests that an index over an undeclared
// column is rejected.
func TestTableValidate_IndexUnknownColumn(t *testing.T) {
	tbl := NewTable("things",
		[]Column{{Name: "title", Type: TypeText}},
		Index{Name: "idx_things_missing", Columns: []string{"missing"}},
	)
	if err := tbl.Validate(); err == nil {
		t.Fatal("Validate() accepted index over unknown column")
	}
}

// TestStorageType_Mapping verifies the fixed logical-to-physical mapping,
// including the generic fallback for unrecognized types.
func TestStorageType_Mapping(t *testing.T) {
	cases := []struct {
		typ  ColumnType
		want string
	}{
		{TypeText, "TEXT"},
		{TypeInteger, "INTEGER"},
		{TypeReal, "REAL"},
		{TypeBoolean, "INTEGER"},
		{TypeBlob, "BLOB"},
		{ColumnType("geodata"), "TEXT"},
	}
	for _, tc := range cases {
		if got := tc.typ.StorageType(); got != tc.want {
			t.Errorf("StorageType(%q) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

// TestDefaultLiteral_Rendering tests SQL literal rendering for defaults.
func TestDefaultLiteral_Rendering(t *testing.T) {
	cases := []struct {
		col  Column
		want string
	}{
		{Column{Name: "a", Default: "focus"}, "'focus'"},
		{Column{Name: "b", Default: "it's"}, "'it''s'"},
		{Column{Name: "c", Default: true}, "1"},
		{Column{Name: "d", Default: false}, "0"},
		{Column{Name: "e", Default: 42}, "42"},
		{Column{Name: "f"}, ""},
	}
	for _, tc := range cases {
		if got := tc.col.DefaultLiteral(); got != tc.want {
			t.Errorf("DefaultLiteral(%s) = %q, want %q", tc.col.Name, got, tc.want)
		}
	}
}

// TestValidateRecord_RejectsSystemColumns tests that callers cannot set
// adapter-owned fields.
func TestValidateRecord_RejectsSystemColumns(t *testing.T) {
	reg := DefaultRegistry()
	tbl, _ := reg.Table("sessions")

	_, err := tbl.ValidateRecord(map[string]any{"synced": true}, true)
	if err == nil {
		t.Fatal("ValidateRecord() accepted a system column")
	}
	if !strings.Contains(err.Error(), "synced") {
		t.Errorf("error %q does not name the offending column", err)
	}
}

// TestValidateRecord_UnknownColumn tests rejection of undeclared columns.
func TestValidateRecord_UnknownColumn(t *testing.T) {
	reg := DefaultRegistry()
	tbl, _ := reg.Table("sessions")

	if _, err := tbl.ValidateRecord(map[string]any{"flavor": "mint"}, false); err == nil {
		t.Fatal("ValidateRecord() accepted unknown column")
	}
}

// TestValidateRecord_Normalizes tests value coercion to canonical types.
func TestValidateRecord_Normalizes(t *testing.T) {
	reg := DefaultRegistry()
	tbl, _ := reg.Table("sessions")

	rec, err := tbl.ValidateRecord(map[string]any{
		"kind":         "focus",
		"started_at":   float64(1700000000000), // JSON numbers arrive as float64
		"duration_min": 25,
		"completed":    int64(1),
	}, false)
	if err != nil {
		t.Fatalf("ValidateRecord() failed: %v", err)
	}

	if v, ok := rec["started_at"].(int64); !ok || v != 1700000000000 {
		t.Errorf("started_at = %v (%T), want int64 1700000000000", rec["started_at"], rec["started_at"])
	}
	if v, ok := rec["duration_min"].(int64); !ok || v != 25 {
		t.Errorf("duration_min = %v (%T), want int64 25", rec["duration_min"], rec["duration_min"])
	}
	if v, ok := rec["completed"].(bool); !ok || !v {
		t.Errorf("completed = %v (%T), want true", rec["completed"], rec["completed"])
	}
}

// TestValidateRecord_TypeMismatch tests that mismatched value types propagate
// an error instead of being written through.
func TestValidateRecord_TypeMismatch(t *testing.T) {
	reg := DefaultRegistry()
	tbl, _ := reg.Table("sessions")

	if _, err := tbl.ValidateRecord(map[string]any{"started_at": "yesterday"}, true); err == nil {
		t.Fatal("ValidateRecord() accepted text for an integer column")
	}
}

// TestRegistryYAML_RoundTrip tests DumpYAML/LoadYAML preserve the catalog.
func TestRegistryYAML_RoundTrip(t *testing.T) {
	reg := DefaultRegistry()

	data, err := reg.DumpYAML()
	if err != nil {
		t.Fatalf("DumpYAML() failed: %v", err)
	}

	loaded, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML() failed: %v", err)
	}

	if loaded.Version() != reg.Version() {
		t.Errorf("version = %d, want %d", loaded.Version(), reg.Version())
	}
	if len(loaded.Tables()) != len(reg.Tables()) {
		t.Fatalf("table count = %d, want %d", len(loaded.Tables()), len(reg.Tables()))
	}
	for i, tbl := range loaded.Tables() {
		orig := reg.Tables()[i]
		if tbl.Name != orig.Name {
			t.Errorf("table[%d] = %s, want %s", i, tbl.Name, orig.Name)
		}
		if len(tbl.Columns) != len(orig.Columns) {
			t.Errorf("table %s column count = %d, want %d", tbl.Name, len(tbl.Columns), len(orig.Columns))
		}
	}
}
