package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
	"ghchrono/internal/usecase/artifacts"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Pin collaborator files (CODEOWNERS, contributing guides) at a commit",
	RunE: withRepo(func(cmd *cobra.Command, repo *bootstrap.Repo) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		sha, _ := cmd.Flags().GetString("sha")
		paths, _ := cmd.Flags().GetStringSlice("path")
		if strings.TrimSpace(sha) == "" {
			return errs.Configf("--sha is required")
		}
		if len(paths) == 0 {
			paths = artifacts.DefaultPaths
		}

		svc, err := repo.Artifacts(ctx)
		if err != nil {
			return err
		}
		manifest, dir, err := svc.Fetch(ctx, repo.Ref, strings.TrimSpace(sha), paths)
		if err != nil {
			return errs.Wrap(err, "fetch artifacts")
		}
		out := cmd.OutOrStdout()
		for _, entry := range manifest.Files {
			if _, err := fmt.Fprintf(out, "%s\t%s\n", entry.Path, entry.ContentSHA256); err != nil {
				return errs.Wrap(err, "write artifacts output")
			}
		}
		if _, err := fmt.Fprintf(out, "%d files pinned under %s\n", len(manifest.Files), dir); err != nil {
			return errs.Wrap(err, "write artifacts output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(artifactsCmd)

	artifactsCmd.Flags().String("sha", "", "Commit SHA to pin files at")
	artifactsCmd.Flags().StringSlice("path", nil, "File path to fetch (repeatable; default CODEOWNERS and contributing guides)")
}
