package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/managedmac/pkg/actions"
)

func newUpdateCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download the client manifest and catalog",
		Long: `Download the client manifest and the first catalog it names, and save
them as local copies in the data directory.

The local manifest copy is used by later runs when the repository cannot
be reached.`,
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

			result, err := actions.UpdateRepo(ctx, a.env)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Manifest %s saved to %s\n", result.Identifier, result.ManifestPath)
			if result.Catalog != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Catalog %s saved to %s\n", result.Catalog, result.CatalogPath)
			}
			return nil
		},
	}

	return cmd
}
