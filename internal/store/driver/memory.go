package driver

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// memoryDriver is the in-process engine for hosts without durable filesystem
// access of their own. The working copy lives in a private scratch directory
// that is discarded on Close; durability comes entirely from the snapshot
// side-channel. Every successful mutation persists a fresh snapshot, and a
// periodic snapshotter bounds the loss window if the process is killed
// between writes.
type memoryDriver struct {
	conn      *sql.DB
	snapshots SnapshotStore
	workDir   string
	workPath  string
	logger    *log.Logger

	persistMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openMemory(cfg Config) (Driver, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("memory backend requires a snapshot store")
	}
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[driver] ", log.LstdFlags)
	}

	workDir, err := os.MkdirTemp("", "localstore-mem-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	workPath := filepath.Join(workDir, "work.db")

	// A stored snapshot seeds the working copy; otherwise start empty.
	if data, ok, err := cfg.Snapshots.Load(); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	} else if ok {
		if err := os.WriteFile(workPath, data, 0644); err != nil {
			_ = os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to materialize snapshot: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", workPath)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to open working copy: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to ping working copy: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithCancel(context.Background())
	d := &memoryDriver{
		conn:      conn,
		snapshots: cfg.Snapshots,
		workDir:   workDir,
		workPath:  workPath,
		logger:    logger,
		cancel:    cancel,
	}

	d.wg.Add(1)
	go d.snapshotLoop(ctx, interval)

	return d, nil
}

func (d *memoryDriver) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Persistence is best-effort; the statement itself already succeeded.
	if perr := d.persist(); perr != nil {
		d.logger.Printf("Warning: snapshot after write failed: %v", perr)
	}
	return res, nil
}

func (d *memoryDriver) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, query, args...)
}

// Close persists a final snapshot, releases the engine and discards the
// scratch directory.
func (d *memoryDriver) Close() error {
	if d.conn == nil {
		return nil
	}

	d.cancel()
	d.wg.Wait()

	if err := d.persist(); err != nil {
		d.logger.Printf("Warning: final snapshot failed: %v", err)
	}

	err := d.conn.Close()
	d.conn = nil
	_ = os.RemoveAll(d.workDir)
	if err != nil {
		return fmt.Errorf("failed to close working copy: %w", err)
	}
	return nil
}

// snapshotLoop persists the store on a fixed interval so a hard kill loses at
// most a few seconds of writes.
func (d *memoryDriver) snapshotLoop(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.persist(); err != nil {
				d.logger.Printf("Warning: periodic snapshot failed: %v", err)
			}
		}
	}
}

// persist exports a consistent copy of the store and hands it to the
// side-channel. VACUUM INTO writes a complete standalone database, so the
// snapshot can never contain a partial statement.
func (d *memoryDriver) persist() error {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	exportPath := filepath.Join(d.workDir, "export.db")
	_ = os.Remove(exportPath) // VACUUM INTO refuses to overwrite

	if _, err := d.conn.Exec(fmt.Sprintf("VACUUM INTO '%s'", exportPath)); err != nil {
		return fmt.Errorf("failed to export store: %w", err)
	}
	defer os.Remove(exportPath)

	data, err := os.ReadFile(exportPath)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	if err := d.snapshots.Save(data); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
