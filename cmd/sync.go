package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
	"ghchrono/internal/usecase/ingest"
)

// reposFile is the TOML run list consumed by sync --repos-file.
type reposFile struct {
	Concurrency int         `toml:"concurrency"`
	Repos       []repoEntry `toml:"repos"`
}

type repoEntry struct {
	Name     string `toml:"name"`
	MaxPages int    `toml:"max_pages"`
	Backfill bool   `toml:"backfill"`
}

func loadReposFile(path string) (reposFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return reposFile{}, errs.Wrapf(err, "read repos file %s", path)
	}
	var file reposFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return reposFile{}, errs.Wrapf(err, "parse repos file %s", path)
	}
	seen := make(map[string]struct{}, len(file.Repos))
	for i, entry := range file.Repos {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return reposFile{}, errs.Configf("repos[%d].name is required", i)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return reposFile{}, errs.Configf("repository %s listed twice", name)
		}
		seen[key] = struct{}{}
		file.Repos[i].Name = name
	}
	return file, nil
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Incrementally ingest one repository or every repository of a run list",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		path, _ := cmd.Flags().GetString("repos-file")
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		resume, _ := cmd.Flags().GetBool("resume")

		var file reposFile
		switch {
		case strings.TrimSpace(path) != "":
			loaded, err := loadReposFile(path)
			if err != nil {
				return err
			}
			file = loaded
		case strings.TrimSpace(repoFlag) != "":
			file.Repos = []repoEntry{{Name: strings.TrimSpace(repoFlag)}}
		default:
			return errs.Configf("--repo or --repos-file is required")
		}
		if file.Concurrency <= 0 {
			file.Concurrency = app.Config.Ingest.Concurrency
		}
		for i := range file.Repos {
			if file.Repos[i].MaxPages == 0 {
				file.Repos[i].MaxPages = maxPages
			}
		}

		results, err := syncRepos(ctx, file, func(ctx context.Context, entry repoEntry) (ingest.Result, error) {
			repo, err := app.OpenRepo(ctx, entry.Name)
			if err != nil {
				return ingest.Result{}, err
			}
			svc, err := repo.Ingest(ctx)
			if err != nil {
				return ingest.Result{}, err
			}
			if entry.Backfill {
				return svc.Backfill(ctx, ingest.BackfillInput{MaxPages: entry.MaxPages, Resume: resume})
			}
			return svc.Incremental(ctx, ingest.IncrementalInput{MaxPages: entry.MaxPages, Resume: resume})
		})
		for _, result := range results {
			if result.RunID == "" {
				continue
			}
			if err := printIngestResult(cmd.OutOrStdout(), result); err != nil {
				return err
			}
		}
		return err
	}),
}

// syncRepos runs one ingestion per entry with at most file.Concurrency in
// flight. Results keep the order of file.Repos. A failed repository does not
// stop the others; every failure is returned joined.
func syncRepos(ctx context.Context, file reposFile, run func(ctx context.Context, entry repoEntry) (ingest.Result, error)) ([]ingest.Result, error) {
	limit := file.Concurrency
	if limit <= 0 {
		limit = 1
	}
	results := make([]ingest.Result, len(file.Repos))
	failures := make([]error, len(file.Repos))

	var group errgroup.Group
	group.SetLimit(limit)
	for i, entry := range file.Repos {
		group.Go(func() error {
			repoCtx := logging.WithAttrs(ctx, slog.String("repo", entry.Name))
			result, err := run(repoCtx, entry)
			if err != nil {
				logging.Error(repoCtx, "repository sync failed", slog.Any("err", errs.Loggable(err)))
				failures[i] = errs.Wrapf(err, "sync %s", entry.Name)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait()
	return results, errors.Join(failures...)
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("repos-file", "", "TOML run list of repositories")
	syncCmd.Flags().Int("max-pages", 0, "Stop each listing after this many pages (0 = config default)")
	syncCmd.Flags().Bool("resume", false, "Skip stages checkpointed by an interrupted run")
}
