package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Keep a working directory in sync with a remote manifest",
	Long: `reconciler is a resilient manifest-driven asset synchronizer for
long-running, often unattended devices: given a dynamic list of remote
files, it keeps a local working directory in sync — downloading what is
missing, retrying failures with back-off, extracting archives, and
purging whatever the manifest no longer lists.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ~/.config/reconciler/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose transition logging")
}

// SetVersion stamps the root command with the build's version string, so
// subcommands that report it (none currently do, but cobra surfaces it
// via --version) see the value baked in by the linker.
func SetVersion(version string) {
	rootCmd.Version = version
}

func Execute() error {
	return rootCmd.Execute()
}
