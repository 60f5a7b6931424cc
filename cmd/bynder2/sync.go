package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/progress"
	"github.com/jweiland-net/bynder2/internal/service"
)

var syncStorage int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the assets of the configured storages into the index",
	Long: `Synchronize every configured storage, one after another. New assets are
created in the index, known assets are updated and assets that vanished
from the library are marked missing.

Storages with an invalid configuration are skipped. The command fails only
when the index schema is incomplete.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVarP(&syncStorage, "storage", "s", 0, "synchronize only this storage uid")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.syncService()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	svc.SetProgressReporter(progress.NewLineReporter(out))
	fmt.Fprintln(out, "Synchronize bynder files")

	summary, err := syncSelected(ctx, svc)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaPrecondition) {
			fmt.Fprintln(out, "Please analyze the database using the Install Tool before proceeding.")
			return &exitError{code: 2, err: err}
		}
		return err
	}

	if len(summary.Storages) == 0 {
		fmt.Fprintln(out, "No bynder storages found.")
	}
	for _, r := range summary.Storages {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "Could not create Bynder client because of invalid configuration (storage %d)\n", r.StorageUID)
		case r.Err != nil:
			fmt.Fprintf(out, "Synchronization of storage %d failed: %v\n", r.StorageUID, r.Err)
		}
	}

	fmt.Fprintf(out, "All files of all bynder storages have been synchronized in %s\n", progress.FormatDuration(summary.Duration()))
	return nil
}

// syncSelected runs every storage, or only --storage when it is set
func syncSelected(ctx context.Context, svc *service.SyncService) (*service.Summary, error) {
	if syncStorage == 0 {
		return svc.SyncAll(ctx)
	}

	if err := svc.CheckEnvironment(ctx); err != nil {
		return nil, err
	}
	storage, err := cfg.GetStorage(syncStorage)
	if err != nil {
		return nil, err
	}

	summary := &service.Summary{StartTime: time.Now()}
	summary.Storages = append(summary.Storages, svc.SyncStorage(ctx, storage))
	summary.EndTime = time.Now()
	return summary, nil
}
