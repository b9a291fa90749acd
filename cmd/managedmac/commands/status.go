package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/stores"
)

type printerStatus struct {
	ID         string `json:"id"`
	LastUpdate int64  `json:"last_update"`
	User       bool   `json:"user"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [printer...]",
		Short: "Show the recorded printer state",
		Long: `Show the LastUpdate stamp recorded for each managed printer and whether
it was installed at a user's request. A stamp of -1 means none is recorded.`,
		Example: `  # Show every recorded printer
  managedmac status

  # Show selected printers
  managedmac status hp1 lab`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			state, err := stores.Open(ctx, stores.Backend(cfg.StateBackend), cfg.StorePaths(), document.NewFileStore())
			if err != nil {
				return err
			}
			defer state.Close()

			known, err := state.List(ctx)
			if err != nil {
				return err
			}
			isUser := make(map[string]bool, len(known))
			for _, id := range known {
				isUser[id] = true
			}

			var rows []printerStatus
			if len(args) > 0 {
				for _, id := range args {
					stamp, err := state.LastUpdate(ctx, id)
					if err != nil {
						return err
					}
					rows = append(rows, printerStatus{ID: id, LastUpdate: stamp, User: isUser[id]})
				}
			} else {
				records, err := state.Records(ctx)
				if err != nil {
					return err
				}
				for _, r := range records {
					rows = append(rows, printerStatus{ID: r.ID, LastUpdate: r.LastUpdate, User: isUser[r.ID]})
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRINTER\tLAST UPDATE\tUSER")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%t\n", r.ID, r.LastUpdate, r.User)
			}
			return tw.Flush()
		},
	}

	return cmd
}
