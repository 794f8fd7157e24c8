package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// statusReport is the status command's output shape.
type statusReport struct {
	DataDir       string         `json:"data_dir"`
	Backend       string         `json:"backend"`
	SchemaVersion int            `json:"schema_version"`
	Pending       map[string]int `json:"pending"`
	TotalPending  int            `json:"total_pending"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show local store status",
		Long:         "Reports the schema version and per-table counts of records awaiting upload.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings(rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(rootOpts, "[status] ")

			st, err := OpenStore(settings, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			report := statusReport{
				DataDir:       settings.DataDir,
				Backend:       string(settings.Backend),
				SchemaVersion: st.Registry().Version(),
				Pending:       make(map[string]int),
			}
			for _, tbl := range st.Registry().Tables() {
				n, err := st.CountUnsynced(cmd.Context(), tbl.Name)
				if err != nil {
					return err
				}
				report.Pending[tbl.Name] = n
				report.TotalPending += n
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Data dir:       %s\n", report.DataDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Backend:        %s\n", report.Backend)
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", report.SchemaVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "Pending upload: %d\n", report.TotalPending)
			for _, tbl := range st.Registry().Tables() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", tbl.Name, report.Pending[tbl.Name])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	return cmd
}
