package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
)

var rebuildSubject subjectFlags

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild interval tables from the event log",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		scope := interval.All()
		if rebuildSubject.set() {
			subject, err := rebuildSubject.resolve(ctx, repo.Store)
			if err != nil {
				return errs.Wrap(err, "resolve subject")
			}
			scope = interval.ScopeOf(subject)
		}

		stats, err := repo.Reconstruct.Rebuild(ctx, scope)
		if err != nil {
			return errs.Wrap(err, "rebuild intervals")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(),
			"events=%d applied=%d ignored=%d opened=%d closed=%d orphan_removes=%d\n",
			stats.Events, stats.Applied, stats.Ignored, stats.Opened, stats.Closed, stats.OrphanRemoves,
		); err != nil {
			return errs.Wrap(err, "write rebuild output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildSubject.register(rebuildCmd)
}
