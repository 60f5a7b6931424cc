package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/cache"
)

var (
	cacheStorage      int
	cacheExceptLatest bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the asset and listing cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove cached assets and listings",
	Long: `Remove the cached assets and listing pages of every storage, or of
--storage only. With --except-latest only generations older than the most
recent one are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := cache.Open(cfg.CacheOptions())
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		c := cache.New(backend, cmdLogger("cache"))
		defer c.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cacheStorage == 0 && !cacheExceptLatest {
			if err := c.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Flushed the cache of all storages")
			return nil
		}

		for _, uid := range storageUIDs(cfg, cacheStorage) {
			if cacheExceptLatest {
				flushed, err := c.FlushExceptLatest(ctx, uid)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Storage %d: flushed %d old generations\n", uid, len(flushed))
				continue
			}
			if err := c.FlushStorage(ctx, uid); err != nil {
				return err
			}
			fmt.Fprintf(out, "Storage %d: flushed\n", uid)
		}
		return nil
	},
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := cache.Open(cfg.CacheOptions())
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		c := cache.New(backend, cmdLogger("cache"))
		defer c.Close()

		n, err := c.CollectGarbage(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired records from the %s cache\n", n, backend.Name())
		return nil
	},
}

func init() {
	cacheFlushCmd.Flags().IntVarP(&cacheStorage, "storage", "s", 0, "flush only this storage uid")
	cacheFlushCmd.Flags().BoolVar(&cacheExceptLatest, "except-latest", false, "keep the most recent generation")
	cacheCmd.AddCommand(cacheFlushCmd, cacheGCCmd)
	rootCmd.AddCommand(cacheCmd)
}
