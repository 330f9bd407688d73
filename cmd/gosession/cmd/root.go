package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	tabID      string
)

var rootCmd = &cobra.Command{
	Use:   "gosession",
	Short: "gosession keeps a signed-in session to an authentication server",
	Long: `A command-line client for the goSession manager. It signs in, keeps the
credentials in a local vault, refreshes them on demand and sends authenticated
requests on your behalf.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&tabID, "tab", "", "tab identifier used for cross-tab messages")
}
