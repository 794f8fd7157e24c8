// Package daemon runs sync cycles in the background.
//
// The daemon:
// 1. Runs one cycle immediately on startup
// 2. Runs a cycle on a fixed interval
// 3. Watches the data directory for a trigger file to force a cycle
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/focusloop/localstore/internal/sync"
)

// TriggerFile is the name of the file whose creation in the data directory
// requests an immediate sync cycle. The daemon consumes the file.
const TriggerFile = "sync.request"

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often a cycle runs without an explicit trigger.
	Interval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger

	// OnCycle, when set, is called with the engine's status snapshot after
	// every attempted cycle, including skipped and failed ones.
	OnCycle func(sync.Status)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync cycles from a ticker, a trigger file, and
// programmatic requests.
type Daemon struct {
	engine  *sync.Engine
	dataDir string
	config  *Config

	watcher *fsnotify.Watcher
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - engine: the sync engine to drive
//   - dataDir: the directory watched for the trigger file
//
// Use Start() to begin scheduling.
func New(engine *sync.Engine, dataDir string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("dataDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:  engine,
		dataDir: dataDir,
		config:  config,
		watcher: watcher,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run one sync cycle immediately
// 2. Watch the data directory for the trigger file
// 3. Run a cycle on every interval tick and every trigger
//
// This blocks until ctx is cancelled or the daemon is stopped.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Add(d.dataDir); err != nil {
		return fmt.Errorf("failed to watch data directory: %w", err)
	}
	d.config.Logger.Printf("Watching %s for %s", d.dataDir, TriggerFile)

	d.wg.Add(2)
	go d.watchTriggerFile()
	go d.runLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A cycle in flight runs to
// completion.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// RequestSync asks for a cycle as soon as possible. Coalesces with any
// request already queued.
func (d *Daemon) RequestSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// runLoop runs the startup cycle and then serves ticks and triggers.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	d.runCycle()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runCycle()

		case <-d.trigger:
			d.runCycle()
		}
	}
}

// runCycle attempts one sync cycle. An overlapping request is a logged
// no-op; other failures are logged and the daemon keeps running.
//
// The cycle runs on its own context: d.ctx only stops the scheduling loops,
// so a cycle in flight when Stop is called finishes naturally and Stop's
// WaitGroup join waits for it.
func (d *Daemon) runCycle() {
	_, err := d.engine.Sync(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrSyncInProgress):
		d.config.Logger.Println("Cycle already running, skipping")
	default:
		d.config.Logger.Printf("Cycle failed: %v", err)
	}

	if d.config.OnCycle != nil {
		d.config.OnCycle(d.engine.Status())
	}
}

// watchTriggerFile queues a cycle whenever the trigger file appears and
// consumes the file.
func (d *Daemon) watchTriggerFile() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Base(event.Name) != TriggerFile {
				continue
			}

			d.config.Logger.Printf("Sync requested via %s", TriggerFile)
			if err := os.Remove(event.Name); err != nil && !os.IsNotExist(err) {
				d.config.Logger.Printf("Error removing trigger file: %v", err)
			}
			d.RequestSync()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
