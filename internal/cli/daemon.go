package cli

import (
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/focusloop/localstore/internal/sync"
	"github.com/focusloop/localstore/internal/sync/daemon"
	"github.com/focusloop/localstore/internal/sync/dashboard"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	var noDashboard bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync daemon",
		Long: `Run sync cycles continuously: once at startup, on every interval tick,
and whenever a ` + daemon.TriggerFile + ` file appears in the data directory.

Unless --no-dashboard is given, a status dashboard listens on
dashboard.port with /status, /health, and a /ws WebSocket feed.

Stops cleanly on SIGINT or SIGTERM.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings(rootOpts)
			if err != nil {
				return err
			}
			logger := newDaemonLogger(rootOpts, settings)

			st, err := OpenStore(settings, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			eng, cleanup, err := buildEngine(settings, st, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			dcfg := &daemon.Config{
				Interval: settings.SyncInterval,
				Logger:   logger,
			}

			if !noDashboard {
				srv, err := dashboard.NewServer(eng, &dashboard.Config{
					Port:   settings.DashboardPort,
					Logger: logger,
				})
				if err != nil {
					return err
				}
				if err := srv.Start(); err != nil {
					return err
				}
				defer func() { _ = srv.Stop() }()
				dcfg.OnCycle = func(status sync.Status) { srv.Publish(status) }
			}

			d, err := daemon.New(eng, settings.DataDir, dcfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "disable the status dashboard")

	return cmd
}

// newDaemonLogger logs to the configured rotating file, or to stderr when no
// file is set. Daemon runs always log; --verbose only matters without a file.
func newDaemonLogger(rootOpts *RootOptions, settings *Settings) *log.Logger {
	if settings.LogFile != "" {
		var out io.Writer = &lumberjack.Logger{
			Filename:   settings.LogFile,
			MaxSize:    settings.LogMaxSizeMB,
			MaxBackups: settings.LogMaxBackups,
		}
		if rootOpts.Verbose {
			out = io.MultiWriter(out, os.Stderr)
		}
		return log.New(out, "[daemon] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
}
