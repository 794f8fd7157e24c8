// Package driver abstracts the embedded store backends behind a single
// execute/query capability interface.
//
// Three backends exist: the native desktop build (ncruces/go-sqlite3), the
// pure-Go mobile build (modernc.org/sqlite), and an ephemeral in-process
// engine that persists whole-store snapshots through a durability
// side-channel. Selection is by explicit configuration at startup; nothing
// probes the runtime environment.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Driver is the capability interface every backend implements. The storage
// adapter owns exactly one Driver and funnels every statement through it.
type Driver interface {
	// ExecContext runs a mutating statement.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)

	// QueryContext runs a read statement.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// Close releases the underlying store handle.
	Close() error
}

// Backend names a concrete driver implementation.
type Backend string

const (
	// BackendNative is the desktop build on ncruces/go-sqlite3.
	BackendNative Backend = "native"

	// BackendMobile is the pure-Go build on modernc.org/sqlite.
	BackendMobile Backend = "mobile"

	// BackendMemory is the ephemeral engine with a snapshot side-channel.
	BackendMemory Backend = "memory"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Backend selects the implementation. Required.
	Backend Backend

	// Path is the database file location (native and mobile backends).
	Path string

	// Snapshots is the durability side-channel (memory backend). Required
	// for BackendMemory, ignored otherwise.
	Snapshots SnapshotStore

	// SnapshotInterval is how often the memory backend persists a snapshot
	// in addition to per-write persistence. Defaults to 5 seconds.
	SnapshotInterval time.Duration

	// Logger for backend activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Open constructs the backend named by cfg.Backend.
//
// The caller owns the returned Driver and must Close it.
func Open(cfg Config) (Driver, error) {
	switch cfg.Backend {
	case BackendNative:
		return openNative(cfg)
	case BackendMobile:
		return openMobile(cfg)
	case BackendMemory:
		return openMemory(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
