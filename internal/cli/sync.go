package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/focusloop/localstore/internal/store"
	syncengine "github.com/focusloop/localstore/internal/sync"
	"github.com/focusloop/localstore/internal/sync/remote"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Upload locally changed records to the remote service and download
remote changes since the last successful cycle.

Requires remote.url (and remote.token for hosted databases) in the config
file or LOCALSTORE_REMOTE_URL / LOCALSTORE_REMOTE_TOKEN.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings(rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(rootOpts, "[sync] ")

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

			result, err := eng.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d, deleted %d, downloaded %d in %s\n",
				result.Uploaded, result.Deleted, result.Downloaded, result.Duration)
			return nil
		},
	}
	return cmd
}

// buildEngine wires the remote client and sync engine from settings.
func buildEngine(settings *Settings, st *store.Store, logger *log.Logger) (*syncengine.Engine, func(), error) {
	if settings.RemoteURL == "" {
		return nil, nil, fmt.Errorf("remote.url is not configured")
	}

	client, err := remote.New(remote.Config{
		URL:       settings.RemoteURL,
		AuthToken: settings.RemoteToken,
		Registry:  st.Registry(),
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}

	eng, err := syncengine.New(syncengine.Config{
		Store:  st,
		Remote: client,
		Logger: logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return eng, func() { _ = client.Close() }, nil
}

// newLogger builds the command logger; quiet unless --verbose.
func newLogger(rootOpts *RootOptions, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if !rootOpts.Verbose {
		out = io.Discard
	}
	return log.New(out, prefix, log.LstdFlags)
}
