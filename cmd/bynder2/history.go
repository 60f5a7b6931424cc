package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/progress"
	"github.com/jweiland-net/bynder2/internal/state"
)

var (
	historyStorage int
	historyLimit   int
	historyPrune   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past synchronization runs",
	Long: `Show the most recent synchronization runs, newest first.

Example usage:
  bynder2 history                     # last 20 runs of every storage
  bynder2 history --storage 2 -n 5    # last 5 runs of storage 2
  bynder2 history --prune 720h        # delete runs older than 30 days`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := state.NewManager(cfg.DataDir)
		if err != nil {
			return err
		}
		defer mgr.Close()

		out := cmd.OutOrStdout()

		if historyPrune > 0 {
			n, err := mgr.Prune(time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d runs\n", n)
			return nil
		}

		var records []state.RunRecord
		if historyStorage != 0 {
			records, err = mgr.GetHistory(historyStorage, historyLimit)
		} else {
			records, err = mgr.GetAllHistory(historyLimit)
		}
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		return writeHistory(out, records)
	},
}

func writeHistory(w io.Writer, records []state.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STORAGE\tSTARTED\tDURATION\tSTATUS\tCREATED\tUPDATED\tDELETED\tFAILED\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.StorageUID,
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			progress.FormatDuration(r.EndTime.Sub(r.StartTime)),
			r.Status,
			r.Created,
			r.Updated,
			r.Deleted,
			r.Failed,
			r.Error,
		)
	}
	return tw.Flush()
}

func init() {
	historyCmd.Flags().IntVarP(&historyStorage, "storage", "s", 0, "show only this storage uid")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this duration instead of listing")
	rootCmd.AddCommand(historyCmd)
}
