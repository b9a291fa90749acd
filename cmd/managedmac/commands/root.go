package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	repoURL    string
	identifier string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "managedmac",
		Short: "ManagedMac - declarative device configuration client",
		Long: `ManagedMac fetches the manifests and catalogs published for this device
and converges local state to match.

The client manifest is located by trying, in order, the configured client
identifier or the hostname, short hostname, hardware serial and
"site_default". Manifests include other manifests and inherit their
catalogs; catalogs describe each managed item.

Managed printers are declared under ManagedPrinters.Install and
ManagedPrinters.Uninstall. Users may request additional printers by
creating a file named after the printer in the UserPrinters directory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default /Library/ManagedMac/managedmac.cue)")
	rootCmd.PersistentFlags().StringVar(&repoURL, "repo-url", "", "override the repository URL")
	rootCmd.PersistentFlags().StringVar(&identifier, "identifier", "", "override the client identifier")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newUpdateCommand(version))
	rootCmd.AddCommand(newIdentifiersCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
