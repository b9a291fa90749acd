package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/managedmac/pkg/actions"
	"github.com/openfroyo/managedmac/pkg/engine"
)

func newRunCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Converge managed printers",
		Long: `Run the ManagedPrinters action once.

The run processes, in order:
  - printers selected in the UserPrinters directory
  - known user printers that are no longer selected
  - ManagedPrinters.Uninstall from the client manifest tree
  - ManagedPrinters.Install from the client manifest tree

A printer that is busy is left alone and retried on the next run.`,
		Example: `  # Converge printers using the default configuration
  managedmac run

  # Use a different repository and manifest
  managedmac run --repo-url https://repo.example.com/managedmac --identifier lab-12

  # Print the run summary as JSON
  managedmac run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("Shutdown incomplete")
				}
			}()

			summary, err := actions.NewManagedPrinters(a.env).Run(ctx)
			if jsonOutput {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			} else {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}

	return cmd
}

func printSummary(w io.Writer, s *engine.RunSummary) {
	fmt.Fprintf(w, "Run %s (%s) using manifest %q: %s in %s\n",
		s.RunID, s.Status(), s.Identifier, pluralize(len(s.Results), "item"), s.Duration().Round(time.Millisecond))

	if len(s.Results) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PRINTER\tSCOPE\tACTION\tOUTCOME\tERROR")
		for _, r := range s.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Scope, r.Action, r.Outcome, r.Error)
		}
		_ = tw.Flush()
	}

	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
