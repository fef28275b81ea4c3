package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/rawshake/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults, the config file and RAWSHAKE_*
environment overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runConfig(cfg, cmd.OutOrStdout())
	},
}

func runConfig(cfg *config.Config, out io.Writer) error {
	data, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
