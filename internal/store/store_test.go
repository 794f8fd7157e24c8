package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
	"github.com/focusloop/localstore/internal/store/driver"
	"github.com/focusloop/localstore/internal/store/migrate"
)

// newTestStore opens a migrated mobile-backend store in a temp directory.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	drv, err := driver.Open(driver.Config{
		Backend: driver.BackendMobile,
		Path:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("driver.Open() failed: %v", err)
	}
	st, err := store.New(store.Config{Driver: drv, Registry: schema.DefaultRegistry()})
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := migrate.New(st, nil).Apply(context.Background()); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	return st
}

// TestInsert_SystemFields tests that a fresh record carries a generated id,
// equal timestamps, and cleared flags.
func TestInsert_SystemFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, "sessions", store.Record{"label": "x", "started_at": int64(1)})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id == "" {
		t.Fatal("Insert() returned empty id")
	}

	rec, err := st.FindByID(ctx, "sessions", id)
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if rec == nil {
		t.Fatal("FindByID() returned nil for a fresh record")
	}
	if rec["synced"] != false {
		t.Errorf("synced = %v, want false", rec["synced"])
	}
	if rec["deleted"] != false {
		t.Errorf("deleted = %v, want false", rec["deleted"])
	}
	if rec["created_at"] != rec["updated_at"] {
		t.Errorf("created_at = %v, updated_at = %v, want equal", rec["created_at"], rec["updated_at"])
	}
	if rec["kind"] != "focus" {
		t.Errorf("kind = %v, want declared default %q", rec["kind"], "focus")
	}
}

// TestInsert_ConstraintViolationPropagates tests that a duplicate unique
// column surfaces to the caller.
func TestInsert_ConstraintViolationPropagates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Insert(ctx, "settings", store.Record{"key": "theme", "value": "dark"}); err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	if _, err := st.Insert(ctx, "settings", store.Record{"key": "theme", "value": "light"}); err == nil {
		t.Fatal("duplicate unique key did not propagate an error")
	}
}

// TestUpdate_DirtiesRecord tests that any update clears the synced flag and
// refreshes updated_at.
func TestUpdate_DirtiesRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, "sessions", store.Record{"started_at": int64(1)})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := st.MarkSynced(ctx, "sessions", []string{id}); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	if err := st.Update(ctx, "sessions", id, store.Record{"label": "deep work"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	rec, err := st.FindByID(ctx, "sessions", id)
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if rec["synced"] != false {
		t.Error("update did not clear the synced flag")
	}
	if rec["label"] != "deep work" {
		t.Errorf("label = %v, want %q", rec["label"], "deep work")
	}
	created := rec["created_at"].(int64)
	updated := rec["updated_at"].(int64)
	if updated < created {
		t.Errorf("updated_at = %d went backwards from created_at = %d", updated, created)
	}
}

// TestUpdate_MissingIDIsNoop tests updates against absent identifiers.
func TestUpdate_MissingIDIsNoop(t *testing.T) {
	st := newTestStore(t)
	if err := st.Update(context.Background(), "sessions", "no-such-id", store.Record{"label": "x"}); err != nil {
		t.Fatalf("Update() on missing id returned error: %v", err)
	}
}

// TestDelete_SoftDeleteVisibility tests that tombstones vanish from the
// application read paths but stay visible to FindUnsynced.
func TestDelete_SoftDeleteVisibility(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, "sessions", store.Record{"started_at": int64(1)})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := st.MarkSynced(ctx, "sessions", []string{id}); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if err := st.Delete(ctx, "sessions", id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if rec, err := st.FindByID(ctx, "sessions", id); err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	} else if rec != nil {
		t.Error("FindByID() returned a soft-deleted record")
	}

	all, err := st.FindAll(ctx, "sessions", nil, store.FindOptions{})
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("FindAll() returned %d records, want 0", len(all))
	}

	n, err := st.Count(ctx, "sessions", nil)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}

	unsynced, err := st.FindUnsynced(ctx, "sessions")
	if err != nil {
		t.Fatalf("FindUnsynced() failed: %v", err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("FindUnsynced() returned %d records, want the tombstone", len(unsynced))
	}
	if unsynced[0]["deleted"] != true {
		t.Error("tombstone lost its deleted flag")
	}
	if unsynced[0]["synced"] != false {
		t.Error("delete did not clear the synced flag")
	}
}

// TestFindAll_ConditionsAndPagination tests equality filters, explicit
// ordering, limit and offset.
func TestFindAll_ConditionsAndPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, kind := range []string{"focus", "break", "focus", "focus"} {
		_, err := st.Insert(ctx, "sessions", store.Record{
			"kind":       kind,
			"started_at": int64(100 + i),
		})
		if err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	focus, err := st.FindAll(ctx, "sessions", store.Record{"kind": "focus"},
		store.FindOptions{OrderBy: "started_at"})
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	if len(focus) != 3 {
		t.Fatalf("FindAll(kind=focus) returned %d records, want 3", len(focus))
	}
	for i := 1; i < len(focus); i++ {
		if focus[i]["started_at"].(int64) < focus[i-1]["started_at"].(int64) {
			t.Error("explicit ascending order not honored")
		}
	}

	page, err := st.FindAll(ctx, "sessions", nil,
		store.FindOptions{OrderBy: "started_at", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("FindAll() with pagination failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("paginated FindAll() returned %d records, want 2", len(page))
	}
	if got := page[0]["started_at"].(int64); got != 101 {
		t.Errorf("page starts at started_at = %d, want 101", got)
	}

	n, err := st.Count(ctx, "sessions", store.Record{"kind": "break"})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count(kind=break) = %d, want 1", n)
	}
}

// TestFindAll_OffsetWithoutLimit tests offset-only pagination.
func TestFindAll_OffsetWithoutLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := st.Insert(ctx, "sessions", store.Record{"started_at": int64(100 + i)}); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	recs, err := st.FindAll(ctx, "sessions", nil,
		store.FindOptions{OrderBy: "started_at", Offset: 1})
	if err != nil {
		t.Fatalf("FindAll() with offset only failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("FindAll() returned %d records, want the 2 after the offset", len(recs))
	}
	if got := recs[0]["started_at"].(int64); got != 101 {
		t.Errorf("first record started_at = %d, want 101", got)
	}
}

// TestFindAll_RejectsSystemColumnCondition tests that filters cannot address
// the adapter-owned fields.
func TestFindAll_RejectsSystemColumnCondition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.FindAll(ctx, "sessions", store.Record{"deleted": true}, store.FindOptions{}); err == nil {
		t.Error("FindAll() accepted a condition on the deleted flag")
	}
	if _, err := st.Count(ctx, "sessions", store.Record{"synced": false}); err == nil {
		t.Error("Count() accepted a condition on the synced flag")
	}
}

// TestFindAll_UnknownConditionColumn tests filter key validation.
func TestFindAll_UnknownConditionColumn(t *testing.T) {
	st := newTestStore(t)
	_, err := st.FindAll(context.Background(), "sessions", store.Record{"mood": "good"}, store.FindOptions{})
	if err == nil {
		t.Fatal("FindAll() accepted an unknown condition column")
	}
}

// TestFindUnsynced_OldestFirst tests the upload working set ordering.
func TestFindUnsynced_OldestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := st.Insert(ctx, "sessions", store.Record{"started_at": int64(i)})
		if err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
		ids = append(ids, id)
	}

	recs, err := st.FindUnsynced(ctx, "sessions")
	if err != nil {
		t.Fatalf("FindUnsynced() failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("FindUnsynced() returned %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i]["updated_at"].(int64) < recs[i-1]["updated_at"].(int64) {
			t.Error("FindUnsynced() not ordered oldest change first")
		}
	}
	_ = ids
}

// TestMarkSynced_Bulk tests flag transitions, including the empty no-op.
func TestMarkSynced_Bulk(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.MarkSynced(ctx, "sessions", nil); err != nil {
		t.Fatalf("MarkSynced() on empty list failed: %v", err)
	}

	a, _ := st.Insert(ctx, "sessions", store.Record{"started_at": int64(1)})
	b, _ := st.Insert(ctx, "sessions", store.Record{"started_at": int64(2)})

	if err := st.MarkSynced(ctx, "sessions", []string{a}); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	n, err := st.CountUnsynced(ctx, "sessions")
	if err != nil {
		t.Fatalf("CountUnsynced() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountUnsynced() = %d, want 1", n)
	}

	rec, err := st.FindByID(ctx, "sessions", b)
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if rec["synced"] != false {
		t.Error("MarkSynced() touched an identifier it was not given")
	}
}

// TestApplyRemote_PreservesRemoteFields tests that a downloaded record keeps
// its remote identifier, timestamps and delete flag, and lands synced.
func TestApplyRemote_PreservesRemoteFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.ApplyRemote(ctx, "sessions", store.Record{
		"id":         "remote-1",
		"created_at": int64(500),
		"updated_at": int64(900),
		"deleted":    false,
		"kind":       "focus",
		"started_at": int64(500),
	})
	if err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}

	rec, err := st.FindByIDAny(ctx, "sessions", "remote-1")
	if err != nil {
		t.Fatalf("FindByIDAny() failed: %v", err)
	}
	if rec == nil {
		t.Fatal("remote record was not materialized")
	}
	if rec["synced"] != true {
		t.Error("downloaded record is not marked synced")
	}
	if rec["created_at"].(int64) != 500 || rec["updated_at"].(int64) != 900 {
		t.Errorf("remote timestamps not preserved: created=%v updated=%v",
			rec["created_at"], rec["updated_at"])
	}

	// Replaying the same record is an upsert, not a constraint violation.
	if err := st.ApplyRemote(ctx, "sessions", store.Record{
		"id":         "remote-1",
		"created_at": int64(500),
		"updated_at": int64(950),
		"deleted":    true,
		"started_at": int64(500),
	}); err != nil {
		t.Fatalf("ApplyRemote() replay failed: %v", err)
	}
	rec, err = st.FindByIDAny(ctx, "sessions", "remote-1")
	if err != nil {
		t.Fatalf("FindByIDAny() failed: %v", err)
	}
	if rec["deleted"] != true {
		t.Error("remote delete flag not applied on upsert")
	}
}

// TestFindByIDAny_SeesTombstones tests the sync-path lookup.
func TestFindByIDAny_SeesTombstones(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.Insert(ctx, "sessions", store.Record{"started_at": int64(1)})
	if err := st.Delete(ctx, "sessions", id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	rec, err := st.FindByIDAny(ctx, "sessions", id)
	if err != nil {
		t.Fatalf("FindByIDAny() failed: %v", err)
	}
	if rec == nil {
		t.Fatal("FindByIDAny() did not return the tombstone")
	}
}
