package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Print the latest ingestion QA report of a repository",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		report, err := repo.QA.Latest(cmd.Context())
		if errors.Is(err, ports.ErrNotFound) {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "no qa report for %s\n", repo.Ref.FullName())
			return err
		}
		if err != nil {
			return err
		}
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errs.Wrap(err, "marshal qa report")
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(raw)); err != nil {
			return errs.Wrap(err, "write qa report")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(qaCmd)
}
