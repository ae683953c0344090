package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run the startup clean-up passes once and report",
	Long: `doctor opens the index, forcing the five startup clean-up passes
(reset locked counts, clear soft-deleted state, purge unnamed storages,
assign default entity, purge invalid-state storages) to run
regardless of the INDEX_INITIAL_CLEANUP setting, then closes the index. Per-pass
row counts are logged as they run; see --verbose for debug detail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.InitialCleanup = true
		opts, err := backendOptions()
		if err != nil {
			return fmt.Errorf("bxindexd: resolve backend: %w", err)
		}
		idx, err := openIndexWithConfig(rootCtx, cfg, opts)
		if err != nil {
			return fmt.Errorf("bxindexd: doctor: %w", err)
		}
		defer idx.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "bxindexd: startup clean-up complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
