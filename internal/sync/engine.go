package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
)

// ErrSyncInProgress is returned when a cycle is requested while one is
// already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// stateTable holds engine state that must survive the process, currently
// just the download watermark. Kept out of the registry: it is engine
// bookkeeping, not an application table, like the migration log.
const stateTable = "_sync_state"

const stateKeyWatermark = "last_sync_at"

// RemoteClient is the boundary to the remote service. Implementations
// translate between the local record shape and the remote representation;
// their retry, auth and network semantics are their own concern.
type RemoteClient interface {
	// UpsertBatch writes records keyed by id (insert-or-replace) and returns
	// the identifiers actually written. Per-record failures are skipped, not
	// fatal to the batch.
	UpsertBatch(ctx context.Context, table string, records []store.Record) ([]string, error)

	// Delete removes the remote record by identifier. Missing identifiers
	// are not an error.
	Delete(ctx context.Context, table, id string) error

	// FetchModifiedSince returns records whose modification timestamp is >=
	// sinceMs, ordered by that timestamp ascending.
	FetchModifiedSince(ctx context.Context, table string, sinceMs int64) ([]store.Record, error)
}

// Status is the externally observable sync state. The application sees this
// snapshot and nothing else; per-record failures never surface directly.
type Status struct {
	// LastSyncAt is the start time (epoch ms) of the last fully successful
	// cycle, 0 when no cycle has ever completed.
	LastSyncAt int64

	// Pending is the number of locally-dirty records awaiting upload.
	Pending int

	// Syncing reports whether a cycle is currently running.
	Syncing bool

	// LastError holds the most recent cycle-level failure, empty after a
	// successful cycle.
	LastError string
}

// Result summarizes one completed cycle.
type Result struct {
	StartedAt  int64
	Duration   time.Duration
	Uploaded   int
	Deleted    int
	Downloaded int
}

// Engine orchestrates sync cycles over the store's registry.
type Engine struct {
	store  *store.Store
	remote RemoteClient
	logger *log.Logger
	now    func() int64

	mu     stdsync.Mutex
	status Status
}

// Config parameterizes an Engine.
type Config struct {
	// Store is the local storage adapter. Required.
	Store *store.Store

	// Remote is the remote service client. Required.
	Remote RemoteClient

	// Logger for sync activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// New constructs a sync engine. Construction fails when the remote side is
// not configured; sync is never attempted half-wired.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote client is not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	e := &Engine{
		store:  cfg.Store,
		remote: cfg.Remote,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	if err := e.loadWatermark(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	return e, nil
}

// loadWatermark restores the persisted watermark so a fresh engine over an
// existing store resumes downloads where the last process left off.
func (e *Engine) loadWatermark(ctx context.Context) error {
	_, err := e.store.Exec(ctx,
		"CREATE TABLE IF NOT EXISTS "+stateTable+" (key TEXT PRIMARY KEY, value INTEGER NOT NULL)")
	if err != nil {
		return err
	}
	recs, err := e.store.Query(ctx,
		"SELECT value FROM "+stateTable+" WHERE key = ?", stateKeyWatermark)
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		e.mu.Lock()
		e.status.LastSyncAt = asInt64(recs[0]["value"])
		e.mu.Unlock()
	}
	return nil
}

// saveWatermark persists the watermark after a successful cycle. A failed
// save is survivable: the next process replays downloads from the older
// watermark and last-write-wins keeps the replay idempotent.
func (e *Engine) saveWatermark(ctx context.Context, ms int64) error {
	_, err := e.store.Exec(ctx,
		"INSERT INTO "+stateTable+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		stateKeyWatermark, ms)
	return err
}

// Status returns the current status snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RefreshPending recounts locally-dirty records across all tables and
// updates the status snapshot.
func (e *Engine) RefreshPending(ctx context.Context) (int, error) {
	pending, err := e.countPending(ctx)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.status.Pending = pending
	e.mu.Unlock()
	return pending, nil
}

// Sync runs one full upload-then-download cycle over every table in registry
// order. Returns ErrSyncInProgress when a cycle is already running.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.status.Syncing {
		e.mu.Unlock()
		e.logger.Printf("Sync requested while a cycle is running, skipping")
		return nil, ErrSyncInProgress
	}
	e.status.Syncing = true
	since := e.status.LastSyncAt
	e.mu.Unlock()

	start := e.now()
	result := &Result{StartedAt: start}

	err := e.runCycle(ctx, since, result)
	result.Duration = time.Duration(e.now()-start) * time.Millisecond

	pending, perr := e.countPending(ctx)

	e.mu.Lock()
	e.status.Syncing = false
	if err != nil {
		// The watermark stays put: a failed cycle must not skip remote
		// changes on the next attempt.
		e.status.LastError = err.Error()
	} else {
		e.status.LastError = ""
		e.status.LastSyncAt = start
	}
	if perr == nil {
		e.status.Pending = pending
	}
	e.mu.Unlock()

	if err == nil {
		if serr := e.saveWatermark(ctx, start); serr != nil {
			e.logger.Printf("Warning: failed to persist sync watermark: %v", serr)
		}
	}

	if err != nil {
		e.logger.Printf("Sync cycle failed: %v", err)
		return result, err
	}
	e.logger.Printf("Sync cycle complete: uploaded=%d deleted=%d downloaded=%d in %s",
		result.Uploaded, result.Deleted, result.Downloaded, result.Duration)
	return result, nil
}

// runCycle processes every table sequentially; upload fully precedes
// download within each table.
func (e *Engine) runCycle(ctx context.Context, since int64, result *Result) error {
	for _, tbl := range e.store.Registry().Tables() {
		if err := e.uploadTable(ctx, tbl.Name, result); err != nil {
			return fmt.Errorf("upload of %s failed: %w", tbl.Name, err)
		}
		if err := e.downloadTable(ctx, tbl.Name, since, result); err != nil {
			return fmt.Errorf("download of %s failed: %w", tbl.Name, err)
		}
	}
	return nil
}

// uploadTable pushes the table's dirty records, oldest change first, and
// marks exactly the confirmed identifiers as synced.
func (e *Engine) uploadTable(ctx context.Context, table string, result *Result) error {
	dirty, err := e.store.FindUnsynced(ctx, table)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	var confirmed []string
	var upserts []store.Record
	for _, rec := range dirty {
		id, _ := rec[schema.ColID].(string)
		if deleted, _ := rec[schema.ColDeleted].(bool); deleted {
			if err := e.remote.Delete(ctx, table, id); err != nil {
				// The tombstone stays dirty and is retried next cycle.
				e.logger.Printf("Warning: remote delete of %s/%s failed: %v", table, id, err)
				continue
			}
			confirmed = append(confirmed, id)
			result.Deleted++
			continue
		}
		upserts = append(upserts, rec)
	}

	if len(upserts) > 0 {
		written, err := e.remote.UpsertBatch(ctx, table, upserts)
		if err != nil {
			return err
		}
		confirmed = append(confirmed, written...)
		result.Uploaded += len(written)
		if len(written) < len(upserts) {
			e.logger.Printf("Warning: %d of %d %s records not accepted remotely, will retry",
				len(upserts)-len(written), len(upserts), table)
		}
	}

	return e.store.MarkSynced(ctx, table, confirmed)
}

// downloadTable pulls remote changes since the watermark and applies
// last-write-wins per record.
func (e *Engine) downloadTable(ctx context.Context, table string, since int64, result *Result) error {
	remote, err := e.remote.FetchModifiedSince(ctx, table, since)
	if err != nil {
		return err
	}

	for _, rec := range remote {
		id, _ := rec[schema.ColID].(string)
		if id == "" {
			e.logger.Printf("Warning: remote %s record without id, skipping", table)
			continue
		}

		local, err := e.store.FindByIDAny(ctx, table, id)
		if err != nil {
			e.logger.Printf("Warning: local lookup of %s/%s failed: %v", table, id, err)
			continue
		}

		if local != nil {
			localUpdated, _ := local[schema.ColUpdatedAt].(int64)
			remoteUpdated := asInt64(rec[schema.ColUpdatedAt])
			// Not strictly newer: the local version wins. A concurrently
			// dirty local edit gets re-uploaded on a later cycle instead of
			// being clobbered here.
			if remoteUpdated <= localUpdated {
				continue
			}
		}

		if err := e.store.ApplyRemote(ctx, table, rec); err != nil {
			e.logger.Printf("Warning: failed to apply remote %s/%s: %v", table, id, err)
			continue
		}
		result.Downloaded++
	}
	return nil
}

func (e *Engine) countPending(ctx context.Context) (int, error) {
	total := 0
	for _, tbl := range e.store.Registry().Tables() {
		n, err := e.store.CountUnsynced(ctx, tbl.Name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
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
