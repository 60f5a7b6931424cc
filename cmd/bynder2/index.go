package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/index"
)

var (
	indexStorage int
	indexStart   int
	indexLimit   int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and maintain the local file index",
}

func withIndex(fn func(cmd *cobra.Command, db *index.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := index.Open(cfg.IndexPath(), cmdLogger("index"))
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd, db, args)
	}
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed identifiers, newest first",
	RunE: withIndex(func(cmd *cobra.Command, db *index.DB, args []string) error {
		ids, err := db.Identifiers(cmd.Context(), indexStorage, indexStart, indexLimit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}),
}

var indexCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count the files of a storage that are not marked missing",
	RunE: withIndex(func(cmd *cobra.Command, db *index.DB, args []string) error {
		n, err := db.CountNonMissing(cmd.Context(), indexStorage)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	}),
}

var indexShowCmd = &cobra.Command{
	Use:   "show <identifier>",
	Short: "Show the indexed record of a file",
	Args:  cobra.ExactArgs(1),
	RunE: withIndex(func(cmd *cobra.Command, db *index.DB, args []string) error {
		ok, err := db.HasIdentifier(cmd.Context(), indexStorage, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not indexed in storage %d", args[0], indexStorage)
		}
		f, err := db.Get(cmd.Context(), indexStorage, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", f)
		return nil
	}),
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <identifier>",
	Short: "Delete a file and its metadata from the index",
	Args:  cobra.ExactArgs(1),
	RunE: withIndex(func(cmd *cobra.Command, db *index.DB, args []string) error {
		if err := db.DeleteFile(cmd.Context(), indexStorage, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	}),
}

var indexPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete the files marked missing",
	RunE: withIndex(func(cmd *cobra.Command, db *index.DB, args []string) error {
		n, err := db.PurgeMissing(cmd.Context(), indexStorage)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d missing files\n", n)
		return nil
	}),
}

func init() {
	indexCmd.PersistentFlags().IntVarP(&indexStorage, "storage", "s", 0, "storage uid")
	indexCmd.MarkPersistentFlagRequired("storage")
	indexListCmd.Flags().IntVar(&indexStart, "start", 0, "offset")
	indexListCmd.Flags().IntVarP(&indexLimit, "limit", "n", 50, "number of identifiers")
	indexCmd.AddCommand(indexListCmd, indexCountCmd, indexShowCmd, indexDeleteCmd, indexPurgeCmd)
	rootCmd.AddCommand(indexCmd)
}
