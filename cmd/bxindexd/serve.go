package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the index and run its maintenance loop until signaled",
	Long: `serve opens the backup index catalog, runs the startup clean-up pass
if INDEX_INITIAL_CLEANUP is enabled, and then blocks running the periodic
prune sweep until it receives SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "bxindexd: index open, serving until signaled")
		<-rootCtx.Done()
		fmt.Fprintln(cmd.OutOrStdout(), "bxindexd: shutting down")
		return idx.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
