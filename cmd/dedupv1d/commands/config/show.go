package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dedupv1/dedupv1-go/internal/cli/output"
	"github.com/dedupv1/dedupv1-go/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration dedupv1d would load, after defaults and
environment overrides are applied.

Examples:
  dedupv1d config show
  dedupv1d config show --output json
  dedupv1d config show --config /etc/dedupv1/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
