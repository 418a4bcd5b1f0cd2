package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Robinemad1/EEETrading/internal/model"
)

func newSyncCmd() *cobra.Command {
	var itemIDs []int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one manual reconciliation pass and exit",
		Long: `Pushes every local inventory item, or only those given with --item,
to QuickBooks Online. Local quantities always win.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.scheduler.TriggerNow(cmd.Context(), itemIDs)
			if err != nil {
				return err
			}
			if outcome.Skipped {
				return fmt.Errorf("a synchronization pass is already running")
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else {
				printOutcome(os.Stdout, outcome)
			}

			if outcome.Failed() > 0 {
				return fmt.Errorf("%d of %d items failed", outcome.Failed(), len(outcome.Results))
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&itemIDs, "item", nil, "item id to push (repeatable); default all items")
	return cmd
}

func printOutcome(w io.Writer, outcome *model.SyncOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tACTION\tREMOTE ID\tRESULT")
	for _, r := range outcome.Results {
		result := "ok"
		if !r.Success {
			result = r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ItemID, r.Name, r.Action, r.RemoteID, result)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d succeeded, %d failed in %s\n",
		outcome.Succeeded(), outcome.Failed(), outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
}
