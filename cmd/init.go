package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dopamas/querygate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a querygate configuration with an interactive wizard",
	Long:  `Runs an interactive wizard that asks for the LLM provider and database connections and writes querygate.yml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
