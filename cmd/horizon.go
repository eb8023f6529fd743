package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/errs"
)

var horizonCmd = &cobra.Command{
	Use:   "horizon",
	Short: "Show how far the event log of a repository reaches",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		staleAfter, _ := cmd.Flags().GetDuration("stale-after")

		horizon, err := repo.Snapshot.Horizon(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "events: %d\nmax_event_occurred_at: %s\nmax_watermark_updated_at: %s\n",
			horizon.Events, formatOptional(horizon.MaxEventOccurredAt), formatOptional(horizon.MaxWatermarkUpdatedAt),
		); err != nil {
			return errs.Wrap(err, "write horizon")
		}
		if staleAfter > 0 {
			cutoff := time.Now().UTC().Add(-staleAfter)
			if horizon.Stale(cutoff) {
				return fmt.Errorf("%s is stale: no events after %s", repo.Ref.FullName(), cutoff.Format(time.RFC3339))
			}
		}
		return nil
	}),
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}

func init() {
	rootCmd.AddCommand(horizonCmd)
	horizonCmd.Flags().Duration("stale-after", 0, "Fail when the newest event is older than this")
}
