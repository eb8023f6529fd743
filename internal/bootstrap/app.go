package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"ghchrono/internal/bootstrap/config"
	"ghchrono/internal/bootstrap/database"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
	cacheinfra "ghchrono/internal/infrastructure/cache"
	"ghchrono/internal/infrastructure/ghclient"
	sqliterepo "ghchrono/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "ghchrono/internal/infrastructure/persistence/sqlite/uow"
	"ghchrono/internal/ports"
	"ghchrono/internal/usecase/artifacts"
	"ghchrono/internal/usecase/ingest"
	"ghchrono/internal/usecase/qa"
	"ghchrono/internal/usecase/reconstruct"
	"ghchrono/internal/usecase/snapshot"
	"ghchrono/internal/usecase/webhook"
)

// App owns the configuration, the lazily built GitHub client and every
// repository database opened during the process lifetime.
type App struct {
	Config config.Config

	githubOnce sync.Once
	github     *ghclient.Client
	githubErr  error

	mu    sync.Mutex
	repos map[string]*Repo
}

// Repo is one opened repository store plus the services bound to it.
type Repo struct {
	Ref         activity.RepoRef
	DB          *gorm.DB
	Store       *sqliterepo.Store
	UoW         ports.UnitOfWork
	Cache       ports.Cache
	Reconstruct *reconstruct.Service
	Snapshot    *snapshot.Service
	QA          *qa.Service
	Webhook     *webhook.Service

	app *App
}

func NewApp(cfg config.Config) *App {
	return &App{Config: cfg, repos: make(map[string]*Repo)}
}

// GitHub returns the shared transport, resolving credentials on first use so
// read-only commands run without a token.
func (a *App) GitHub(ctx context.Context) (*ghclient.Client, error) {
	a.githubOnce.Do(func() {
		a.github, a.githubErr = ghclient.NewFromConfig(ctx, a.Config.GitHub)
	})
	return a.github, a.githubErr
}

// OpenRepo opens (creating and migrating when needed) the database of
// fullName. Sessions are cached until Close.
func (a *App) OpenRepo(ctx context.Context, fullName string) (*Repo, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	ref, err := activity.ParseRepoRef(fullName)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(ref.FullName())

	a.mu.Lock()
	defer a.mu.Unlock()
	if repo, ok := a.repos[key]; ok {
		return repo, nil
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"), slog.String("repo", ref.FullName()))

	dsn, err := database.DSNForRepo(a.Config.Database, ref.FullName())
	if err != nil {
		return nil, err
	}
	db, err := database.Open(logCtx, a.Config.Database, dsn)
	if err != nil {
		return nil, errs.Wrap(err, "open database")
	}
	if err := database.Migrate(logCtx, db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	store := sqliterepo.NewStore(db)
	if err := store.Init(logCtx); err != nil {
		_ = database.Close(db)
		return nil, errs.Wrap(err, "init store")
	}

	uow := sqliteuow.NewUnitOfWork(db)
	rebuild := reconstruct.NewService(store, uow)
	repo := &Repo{
		Ref:         ref,
		DB:          db,
		Store:       store,
		UoW:         uow,
		Cache:       cacheinfra.NewSQLiteCache(db),
		Reconstruct: rebuild,
		Snapshot:    snapshot.NewService(store),
		QA:          qa.NewService(store, a.Config.Ingest.QADir),
		Webhook:     webhook.NewService(store, uow, rebuild),
		app:         a,
	}
	a.repos[key] = repo

	logging.Info(logCtx, "repository store opened", slog.String("dsn", dsn), slog.Int64("repo_id", store.RepoID()))
	return repo, nil
}

// Repos lists the full names of the repositories opened so far.
func (a *App) Repos() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.repos))
	for _, repo := range a.repos {
		out = append(out, repo.Ref.FullName())
	}
	sort.Strings(out)
	return out
}

func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var closeErr error
	for key, repo := range a.repos {
		if err := database.Close(repo.DB); err != nil {
			closeErr = errors.Join(closeErr, errs.Wrapf(err, "close %s", repo.Ref.FullName()))
		}
		delete(a.repos, key)
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "bootstrap.app")), "database connections closed")
	return closeErr
}

// Ingest binds the orchestrator to this repository; it needs GitHub credentials.
func (r *Repo) Ingest(ctx context.Context) (*ingest.Service, error) {
	gh, err := r.app.GitHub(ctx)
	if err != nil {
		return nil, err
	}
	cfg := r.app.Config.Ingest
	return ingest.NewService(gh, r.Store, r.UoW, r.Cache, r.Reconstruct, r.QA, ingest.Options{
		Repo:        r.Ref,
		Checkpoints: cfg.Checkpoints,
		MaxPages:    cfg.MaxPages,
	}), nil
}

func (r *Repo) Artifacts(ctx context.Context) (*artifacts.Service, error) {
	gh, err := r.app.GitHub(ctx)
	if err != nil {
		return nil, err
	}
	return artifacts.NewService(gh, filepath.Clean(r.app.Config.Ingest.ArtifactsDir)), nil
}
