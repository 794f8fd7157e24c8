package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/focusloop/localstore/internal/schema"
	"github.com/focusloop/localstore/internal/store"
	"github.com/focusloop/localstore/internal/store/driver"
	"github.com/focusloop/localstore/internal/store/migrate"
)

// DatabaseFile is the database filename inside the data directory.
const DatabaseFile = "localstore.db"

// Settings is the resolved configuration: defaults, then the config file,
// then LOCALSTORE_* environment variables, then command-line flags.
type Settings struct {
	DataDir string
	Backend driver.Backend

	RemoteURL   string
	RemoteToken string

	SyncInterval  time.Duration
	DashboardPort int

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// LoadSettings resolves configuration for the given global flags.
func LoadSettings(opts *RootOptions) (*Settings, error) {
	v := viper.New()
	v.SetDefault("data_dir", ".focusloop")
	v.SetDefault("backend", string(driver.BackendNative))
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("dashboard.port", 8377)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetEnvPrefix("LOCALSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = v.GetString("data_dir")
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("localstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// The config file may redefine the data dir when the flag did not.
	if opts.DataDir == "" {
		dataDir = v.GetString("data_dir")
	}
	backend := opts.Backend
	if backend == "" {
		backend = v.GetString("backend")
	}

	interval, err := time.ParseDuration(v.GetString("sync.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid sync.interval: %w", err)
	}

	return &Settings{
		DataDir:       dataDir,
		Backend:       driver.Backend(backend),
		RemoteURL:     v.GetString("remote.url"),
		RemoteToken:   v.GetString("remote.token"),
		SyncInterval:  interval,
		DashboardPort: v.GetInt("dashboard.port"),
		LogFile:       v.GetString("log.file"),
		LogMaxSizeMB:  v.GetInt("log.max_size_mb"),
		LogMaxBackups: v.GetInt("log.max_backups"),
	}, nil
}

// DatabasePath returns the database location inside the data directory.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, DatabaseFile)
}

// OpenStore opens the configured backend, runs migrations, and returns the
// ready store. The caller owns Close.
func OpenStore(settings *Settings, logger *log.Logger) (*store.Store, error) {
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	drv, err := driver.Open(driver.Config{
		Backend:   settings.Backend,
		Path:      settings.DatabasePath(),
		Snapshots: driver.NewFileSnapshotStore(settings.DataDir),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{
		Driver:   drv,
		Registry: schema.DefaultRegistry(),
		Logger:   logger,
	})
	if err != nil {
		_ = drv.Close()
		return nil, err
	}

	if err := migrate.New(st, logger).Apply(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return st, nil
}
