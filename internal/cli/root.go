// Package cli implements the localstored command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/focusloop/localstore/internal/store/driver"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	DataDir    string
	Backend    string
	Verbose    bool
}

// ValidBackends defines the allowed storage backends.
var ValidBackends = []string{
	string(driver.BackendNative),
	string(driver.BackendMobile),
	string(driver.BackendMemory),
}

// NewRootCommand creates the root command for the localstored CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "localstored",
		Short: "Focusloop local data store",
		Long:  "Manages the Focusloop local database: schema migration, sync with the remote service, and the background sync daemon.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidBackend(opts.Backend) {
				return fmt.Errorf("invalid backend %q: must be one of %v", opts.Backend, ValidBackends)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config file (default: localstore.yaml in the data dir)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (default: .focusloop)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", string(driver.BackendNative), "storage backend (native|mobile|memory)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))

	return cmd
}

// isValidBackend checks if the backend is one of the allowed values.
func isValidBackend(backend string) bool {
	for _, b := range ValidBackends {
		if b == backend {
			return true
		}
	}
	return false
}
