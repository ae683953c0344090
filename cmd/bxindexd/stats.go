package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/query"
)

var statsStateFilter string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List storages and their aggregate totals",
	Long: `stats lists every non-deleted storage (optionally restricted to one
lifecycle state with --state) alongside the sum of its cached
aggregates across all listed storages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		defer idx.Close()

		f := query.StorageFilter{}
		if statsStateFilter != "" {
			state, err := parseStorageState(statsStateFilter)
			if err != nil {
				return err
			}
			f.States = []model.StorageState{state}
		}
		storages, err := idx.ListStorages(rootCtx, f)
		if err != nil {
			return fmt.Errorf("bxindexd: list storages: %w", err)
		}
		all, newest, err := idx.SumStorageAggregates(rootCtx, f)
		if err != nil {
			return fmt.Errorf("bxindexd: sum aggregates: %w", err)
		}

		if flagJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"storages": storages,
				"all":      all,
				"newest":   newest,
			})
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tHOST\tUSER\tSTATE\tMODE\tSIZE")
		for _, s := range storages {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", s.Name, s.HostName, s.UserName, s.State, s.Mode, s.Size)
		}
		tw.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d storage(s)\n", len(storages))
		fmt.Fprintf(cmd.OutOrStdout(), "all:    files=%d (%d bytes)  dirs=%d  links=%d  hardlinks=%d (%d bytes)  total=%d (%d bytes)\n",
			all.FileCount, all.FileSize, all.DirectoryCount, all.LinkCount, all.HardlinkCount, all.HardlinkSize, all.TotalCount, all.TotalSize)
		fmt.Fprintf(cmd.OutOrStdout(), "newest: files=%d (%d bytes)  dirs=%d  links=%d  hardlinks=%d (%d bytes)  total=%d (%d bytes)\n",
			newest.FileCount, newest.FileSize, newest.DirectoryCount, newest.LinkCount, newest.HardlinkCount, newest.HardlinkSize, newest.TotalCount, newest.TotalSize)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsStateFilter, "state", "", "restrict to one lifecycle state: create, update_requested, update, ok, error")
	rootCmd.AddCommand(statsCmd)
}
