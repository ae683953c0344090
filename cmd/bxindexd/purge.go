package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskvault/bxindex/internal/idtag"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Physically delete storage rows and their orphaned entries",
	Long: `purge is the parent command for the three physical-delete
operations of spec.md §6 ("purge storage", "purge-all by id",
"purge-all by name"). Each fails if the index was opened with
INDEX_SUPPORT_DELETE=false.`,
}

var purgeStorageCmd = &cobra.Command{
	Use:   "storage <storage-id>",
	Short: "Purge one storage by its row id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], idtag.KindStorage)
		if err != nil {
			return err
		}
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.PurgeStorage(rootCtx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged storage %s\n", id)
		return nil
	},
}

var purgeAllByIDCmd = &cobra.Command{
	Use:   "all-by-id <uuid-row-id> <keep-storage-id>",
	Short: "Purge every storage sharing a uuid, keeping one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		uuidID, err := parseID(args[0], idtag.KindUUID)
		if err != nil {
			return err
		}
		keepID, err := parseID(args[1], idtag.KindStorage)
		if err != nil {
			return err
		}
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.PurgeAllByID(rootCtx, uuidID, keepID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged all storages for uuid %s except %s\n", uuidID, keepID)
		return nil
	},
}

var purgeAllByNameCmd = &cobra.Command{
	Use:   "all-by-name <specifier> <archive-name> <keep-storage-id>",
	Short: "Purge every storage sharing a name specifier, keeping one",
	Long: `all-by-name takes the specifier in the same "job/schedule" or bare
job form internal/purge.ParseSpecifier accepts, the archive name shared
by every targeted storage, and the row id of the storage to keep.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepID, err := parseID(args[2], idtag.KindStorage)
		if err != nil {
			return err
		}
		idx, err := openIndex(rootCtx)
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.PurgeAllByName(rootCtx, args[0], args[1], keepID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged all storages named %q under %q except %s\n", args[1], args[0], keepID)
		return nil
	},
}

func init() {
	purgeCmd.AddCommand(purgeStorageCmd, purgeAllByIDCmd, purgeAllByNameCmd)
	rootCmd.AddCommand(purgeCmd)
}
