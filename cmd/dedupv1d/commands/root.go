// Package commands implements the dedupv1d CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/dedupv1/dedupv1-go/cmd/dedupv1d/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dedupv1d",
	Short: "dedupv1d - inline-deduplication block storage engine",
	Long: `dedupv1d is the core deduplication storage engine: it chunks,
fingerprints, and deduplicates data written to logical blocks, storing the
result in append-only containers behind a write-ahead operation log.

Use "dedupv1d [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dedupv1/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path bound to the --config flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("dedupv1d %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
