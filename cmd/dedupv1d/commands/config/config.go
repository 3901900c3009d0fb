// Package config implements the dedupv1d "config" command tree.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect daemon configuration",
	Long: `Inspect the configuration dedupv1d would load.

Subcommands:
  show   Display the effective configuration`,
}

func init() {
	Cmd.AddCommand(showCmd)
}
