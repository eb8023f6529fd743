package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
	"ghchrono/internal/usecase/inspect"
	"ghchrono/internal/usecase/snapshot"
)

var asofSubject subjectFlags

var asofCmd = &cobra.Command{
	Use:   "asof",
	Short: "Answer the value of a subject attribute at an instant",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		attr, _ := cmd.Flags().GetString("attr")
		rawAt, _ := cmd.Flags().GetString("at")
		showIntervals, _ := cmd.Flags().GetBool("intervals")

		subject, err := asofSubject.resolve(ctx, repo.Store)
		if err != nil {
			return errs.Wrap(err, "resolve subject")
		}

		if showIntervals {
			intervals, err := repo.Snapshot.ListIntervals(ctx, subject, snapshot.Attribute(attr))
			if err != nil {
				return err
			}
			for _, iv := range intervals {
				end := "open"
				if iv.EndAt != nil {
					end = iv.EndAt.Format(time.RFC3339)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", iv.StartAt.Format(time.RFC3339), end, iv.ValueKey); err != nil {
					return errs.Wrap(err, "write intervals")
				}
			}
			return nil
		}

		at := time.Now().UTC()
		if rawAt != "" {
			if at, err = parseInstant(rawAt); err != nil {
				return errs.Wrap(err, "parse --at")
			}
		}
		answer, err := repo.Snapshot.AttributeAsOf(ctx, subject, snapshot.Attribute(attr), at)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s @ %s: %s\n",
			subject.Type, subject.ID, attr, at.Format(time.RFC3339), inspect.FormatAnswer(answer),
		); err != nil {
			return errs.Wrap(err, "write answer")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(asofCmd)
	asofSubject.register(asofCmd)

	asofCmd.Flags().String("attr", string(snapshot.AttrState), "Attribute: state, content, labels, assignees, milestone, draft, head, review_requests")
	asofCmd.Flags().String("at", "", "Instant to answer at (default now)")
	asofCmd.Flags().Bool("intervals", false, "List every interval of the attribute instead")
}
