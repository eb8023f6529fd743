/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/database"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
)

// initDbCmd represents the initDb command
var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the database of a repository",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db", slog.String("repo", repoFlag))

		dsn, err := database.DSNForRepo(app.Config.Database, repoFlag)
		if err != nil {
			return errs.Wrap(err, "resolve database path")
		}
		if _, err := app.OpenRepo(ctx, repoFlag); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		logging.Info(ctx, "init-db finished", slog.String("database_dsn", dsn))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "database schema initialized: %s\n", dsn); err != nil {
			return errs.Wrap(err, "write init-db output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
