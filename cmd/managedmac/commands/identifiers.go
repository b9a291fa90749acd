package commands

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/managedmac/pkg/command"
	"github.com/openfroyo/managedmac/pkg/identity"
)

func newIdentifiersCommand() *cobra.Command {
	var showFacts bool

	cmd := &cobra.Command{
		Use:   "identifiers",
		Short: "Show the client identifiers tried in order",
		Long: `Show the ordered list of manifest names this client tries.

With a configured client identifier the list holds just that value.
Otherwise it is the hostname, the short hostname when the hostname is
dotted, the hardware serial number and "site_default".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			resolver := identity.NewResolver(cfg.ClientIdentifier, identity.NewSystemProbe(&command.ExecRunner{}), log.Logger)
			if jsonOutput {
				out := map[string]interface{}{"identifiers": resolver.Identifiers()}
				if showFacts {
					out["facts"] = resolver.Facts()
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			for i, id := range resolver.Identifiers() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, id)
			}
			if showFacts {
				facts := resolver.Facts()
				keys := make([]string, 0, len(facts))
				for k := range facts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, facts[k])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showFacts, "facts", false, "also show the facts used by manifest conditions")

	return cmd
}
