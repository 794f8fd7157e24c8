package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/focusloop/localstore/internal/store/migrate"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var showLog bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Bring the local database in line with the declared schema.

Missing tables, columns, and indexes are created; nothing is ever dropped
or renamed. Safe to run repeatedly.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings(rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(rootOpts, "[migrate] ")

			// OpenStore applies migrations as part of opening.
			st, err := OpenStore(settings, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", st.Registry().Version())

			if !showLog {
				return nil
			}
			entries, err := migrate.New(st, logger).Log(cmd.Context())
			if err != nil {
				return err
			}
			for _, ent := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  v%d  %-10s %s\n",
					time.UnixMilli(ent.AppliedAt).Format(time.RFC3339),
					ent.Version, ent.TableName, ent.Operation)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLog, "log", false, "print the migration log after applying")

	return cmd
}
