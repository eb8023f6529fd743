package cmd

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
	"ghchrono/internal/usecase/inspect"
)

var inspectSubject subjectFlags

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Step through a subject's events and the attribute values as of each",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		subject, err := inspectSubject.resolve(ctx, repo.Store)
		if err != nil {
			return errs.Wrap(err, "resolve subject")
		}
		label := fmt.Sprintf("%s %s %d", repo.Ref.FullName(), subject.Type, subject.ID)
		if inspectSubject.number > 0 {
			label = fmt.Sprintf("%s#%d (%s)", repo.Ref.FullName(), inspectSubject.number, subject.Type)
		}

		model := inspect.NewTimelineModel(ctx, repo.Snapshot, inspect.Options{Subject: subject, Label: label})
		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run inspect console")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectSubject.register(inspectCmd)
}
