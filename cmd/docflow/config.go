package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docflow/internal/common"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration as YAML",
	Long:  `Prints the configuration after defaults, config file, DOCFLOW_* variables and flags are applied. Secrets are masked.`,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, used, err := loadConfigFrom()
	if err != nil {
		return err
	}
	if used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	out, err := common.DumpYAML(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
