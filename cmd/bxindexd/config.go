package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `config resolves the same defaults < --backend-profiles < --config <
environment-variable layering serve/doctor/purge/stats use, and prints
the result, so an operator can tell what settings a command will
actually run with before running it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.Dump()
		if err != nil {
			return fmt.Errorf("bxindexd: render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
