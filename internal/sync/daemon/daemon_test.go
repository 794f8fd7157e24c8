package daemon

import (
	"context"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
	"github.com/focusloop/localstore/internal/store/driver"
	"github.com/focusloop/localstore/internal/store/migrate"
	"github.com/focusloop/localstore/internal/sync"
)

// nullRemote accepts everything and returns nothing. Enough to let cycles
// complete; daemon tests exercise scheduling, not merging.
type nullRemote struct{}

func (nullRemote) UpsertBatch(ctx context.Context, table string, records []store.Record) ([]string, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec["id"].(string))
	}
	return ids, nil
}

func (nullRemote) Delete(ctx context.Context, table, id string) error { return nil }

func (nullRemote) FetchModifiedSince(ctx context.Context, table string, sinceMs int64) ([]store.Record, error) {
	return nil, nil
}

// newTestEngine builds a migrated store plus an engine over the given remote,
// returning the data directory the daemon should watch.
func newTestEngine(t *testing.T, remote sync.RemoteClient) (*sync.Engine, *store.Store, string) {
	t.Helper()
	dataDir := t.TempDir()

	drv, err := driver.Open(driver.Config{
		Backend: driver.BackendMobile,
		Path:    filepath.Join(dataDir, "test.db"),
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

	eng, err := sync.New(sync.Config{Store: st, Remote: remote})
	if err != nil {
		t.Fatalf("sync.New() failed: %v", err)
	}
	return eng, st, dataDir
}

// startDaemon runs Start in the background and returns a stop func that
// cancels the start context and waits for Start to return.
func startDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
}

// newTestDaemon builds and starts a daemon over a null remote.
func newTestDaemon(t *testing.T, cfg *Config) (*Daemon, *store.Store, string, func()) {
	t.Helper()
	eng, st, dataDir := newTestEngine(t, nullRemote{})
	d, err := New(eng, dataDir, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return d, st, dataDir, startDaemon(t, d)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestNew_Validation tests required constructor arguments.
func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, t.TempDir(), nil); err == nil {
		t.Error("New() accepted a nil engine")
	}
	eng := &sync.Engine{}
	if _, err := New(eng, "", nil); err == nil {
		t.Error("New() accepted an empty data directory")
	}
}

// TestDaemon_RunsInitialCycle tests that startup drains pending work without
// waiting for the first tick.
func TestDaemon_RunsInitialCycle(t *testing.T) {
	d, st, _, stop := newTestDaemon(t, &Config{Interval: time.Hour})
	defer stop()

	waitFor(t, "startup cycle", func() bool { return d.engine.Status().LastSyncAt != 0 })

	if _, err := st.Insert(context.Background(), "sessions", store.Record{"started_at": int64(1)}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	d.RequestSync()
	waitFor(t, "requested cycle", func() bool { return d.engine.Status().Pending == 0 })
}

// TestDaemon_TriggerFile tests that touching the trigger file forces a cycle
// and the file is consumed.
func TestDaemon_TriggerFile(t *testing.T) {
	d, st, dataDir, stop := newTestDaemon(t, &Config{Interval: time.Hour})
	defer stop()

	waitFor(t, "startup cycle", func() bool { return d.engine.Status().LastSyncAt != 0 })

	if _, err := st.Insert(context.Background(), "sessions", store.Record{"started_at": int64(1)}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	trigger := filepath.Join(dataDir, TriggerFile)
	if err := os.WriteFile(trigger, nil, 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	waitFor(t, "triggered cycle", func() bool { return d.engine.Status().Pending == 0 })
	waitFor(t, "trigger file removal", func() bool {
		_, err := os.Stat(trigger)
		return os.IsNotExist(err)
	})
}

// TestDaemon_PeriodicCycles tests the interval scheduler.
func TestDaemon_PeriodicCycles(t *testing.T) {
	var mu stdsync.Mutex
	cycles := 0
	cfg := &Config{
		Interval: 20 * time.Millisecond,
		OnCycle: func(sync.Status) {
			mu.Lock()
			cycles++
			mu.Unlock()
		},
	}
	_, _, _, stop := newTestDaemon(t, cfg)
	defer stop()

	waitFor(t, "several cycles", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cycles >= 3
	})
}

// blockingRemote parks the first sessions download until released, then
// reports whether its context was cancelled while it waited.
type blockingRemote struct {
	nullRemote

	entered chan struct{}
	release chan struct{}
	once    stdsync.Once
}

func (b *blockingRemote) FetchModifiedSince(ctx context.Context, table string, sinceMs int64) ([]store.Record, error) {
	if table != "sessions" {
		return nil, nil
	}
	b.once.Do(func() { close(b.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return nil, ctx.Err()
	}
}

// TestDaemon_StopLetsCycleFinish tests that shutdown does not cancel the
// cycle in flight: Stop waits and the cycle completes cleanly.
func TestDaemon_StopLetsCycleFinish(t *testing.T) {
	remote := &blockingRemote{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	eng, _, dataDir := newTestEngine(t, remote)
	d, err := New(eng, dataDir, &Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// The startup cycle is now parked inside the remote call.
	select {
	case <-remote.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("startup cycle never reached the remote")
	}

	// Shut down while the cycle is in flight, then let the remote answer.
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(remote.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after the cycle finished")
	}

	status := eng.Status()
	if status.LastError != "" {
		t.Errorf("LastError = %q, want the interrupted-looking cycle to finish cleanly", status.LastError)
	}
	if status.LastSyncAt == 0 {
		t.Error("cycle in flight during shutdown did not complete")
	}
	if status.Syncing {
		t.Error("engine still reports a running cycle after shutdown")
	}
}
