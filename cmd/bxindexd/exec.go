package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/duskvault/bxindex/internal/rpccmd"
)

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Decode and run one forwarded command against the index",
	Long: `exec takes one command in the "OP key=value key=%'quoted' ..." grammar
internal/rpccmd implements and runs it in-process through
bxindex.Index.Dispatch, the same call a master process would make on
behalf of a forwarding slave. Useful for probing an index without
writing a Go program against internal/bxindex directly.

EXAMPLES:
  bxindexd exec "find_storage_by_id id=storage:3"
  bxindexd exec "new_storage name=%'nightly/2026-08-01' host_name=%'db1'"
  bxindexd exec "set_storage_state id=storage:3 state=%'ok'"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsed, err := rpccmd.Decode(args[0])
		if err != nil {
			return fmt.Errorf("bxindexd: exec: %w", err)
		}
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		defer idx.Close()

		result, err := idx.Dispatch(rootCtx, parsed)
		if err != nil {
			return fmt.Errorf("bxindexd: exec: %w", err)
		}

		if flagJSON {
			out := make(map[string]string, len(result))
			for k, v := range result {
				out[k] = valueString(v)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		keys := make([]string, 0, len(result))
		for k := range result {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, valueString(result[k]))
		}
		return nil
	},
}

func valueString(v rpccmd.Value) string {
	switch v.Kind() {
	case rpccmd.KindString:
		return v.String()
	case rpccmd.KindInt:
		return fmt.Sprintf("%d", v.Int())
	case rpccmd.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case rpccmd.KindID:
		return v.ID().String()
	default:
		return ""
	}
}

func init() {
	rootCmd.AddCommand(execCmd)
}
