package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/ghclient"
	"ghchrono/internal/ports"
	"ghchrono/internal/usecase/qa"
)

type Mode string

const (
	ModeBackfill    Mode = "backfill"
	ModeIncremental Mode = "incremental"
)

const (
	ResourceCommits = "commits"
	ResourceIssues  = "issues"
	ResourcePulls   = "pulls"
)

// GitHub is the part of the transport the orchestrator drives.
type GitHub interface {
	Get(ctx context.Context, path string, params url.Values, out any) (*ghclient.Response, error)
	Paginate(ctx context.Context, req ghclient.PageRequest) iter.Seq2[json.RawMessage, error]
	PaginateConditional(ctx context.Context, req ghclient.PageRequest, validators ghclient.Validators) iter.Seq2[json.RawMessage, error]
}

type Store interface {
	ports.EventStore
	ports.WatermarkStore
	ports.GapStore
	ports.SnapshotStore
}

type Rebuilder interface {
	Rebuild(ctx context.Context, scope interval.Scope) (interval.Stats, error)
}

type Reporter interface {
	Write(ctx context.Context, in qa.WriteInput) (ports.QAReport, string, error)
}

type Options struct {
	Repo activity.RepoRef
	// Checkpoints records stage completion so an interrupted run can resume.
	Checkpoints bool
	MaxPages    int
}

// Service ingests one repository into its store.
type Service struct {
	gh       GitHub
	store    Store
	uow      ports.UnitOfWork
	cache    ports.Cache
	rebuild  Rebuilder
	reporter Reporter
	repo     activity.RepoRef
	opts     Options
	now      func() time.Time
	newRunID func() string
}

func NewService(gh GitHub, store Store, uow ports.UnitOfWork, cache ports.Cache, rebuild Rebuilder, reporter Reporter, opts Options) *Service {
	return &Service{
		gh:       gh,
		store:    store,
		uow:      uow,
		cache:    cache,
		rebuild:  rebuild,
		reporter: reporter,
		repo:     opts.Repo,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: func() string { return uuid.NewString() },
	}
}

// Window bounds a backfill by each object's updated_at, falling back to
// created_at. Nil bounds are open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

type BackfillInput struct {
	Window   Window
	MaxPages int
	Resume   bool
}

type IncrementalInput struct {
	MaxPages int
	Resume   bool
}

type Result struct {
	RunID          string
	Mode           Mode
	Repo           string
	EventsInserted int
	Issues         int
	Pulls          int
	Touched        []activity.Subject
	Skipped        []Stage
	Rebuild        interval.Stats
	Report         ports.QAReport
	ReportPath     string
}

// Backfill fetches the repository's full history, or the objects inside the
// window, then rebuilds every interval and writes the QA report.
func (s *Service) Backfill(ctx context.Context, in BackfillInput) (Result, error) {
	return s.execute(ctx, ModeBackfill, in.Resume, in.MaxPages, in.Window)
}

// Incremental fetches what changed since each resource's watermark, then
// rebuilds intervals of the touched subjects only.
func (s *Service) Incremental(ctx context.Context, in IncrementalInput) (Result, error) {
	return s.execute(ctx, ModeIncremental, in.Resume, in.MaxPages, Window{})
}

func (s *Service) execute(ctx context.Context, mode Mode, resume bool, maxPages int, window Window) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if s.repo.Owner == "" || s.repo.Name == "" {
		return Result{}, activity.ErrRepoRefRequired
	}
	if maxPages <= 0 {
		maxPages = s.opts.MaxPages
	}

	r := &run{
		svc:      s,
		id:       s.newRunID(),
		mode:     mode,
		maxPages: maxPages,
		window:   window,
		issues:   make(map[int]*github.Issue),
		pulls:    make(map[int]*github.PullRequest),
	}
	ctx = logging.WithRepo(ctx, s.repo.FullName(), r.id)
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.ingest"), slog.String("mode", string(mode)))
	r.result = Result{RunID: r.id, Mode: mode, Repo: s.repo.FullName()}

	r.completed = Checkpoints{}
	if s.opts.Checkpoints {
		if resume {
			completed, err := s.loadCheckpoints(ctx, mode)
			if err != nil {
				return Result{}, err
			}
			r.completed = completed
		} else if err := s.clearCheckpoints(ctx, mode); err != nil {
			return Result{}, err
		}
	}

	logging.Info(ctx, "ingestion run started", slog.Bool("resume", resume), slog.Int("max_pages", maxPages))
	if err := r.execute(ctx); err != nil {
		logging.Error(ctx, "ingestion run failed", slog.Any("err", errs.Loggable(err)))
		return r.result, err
	}
	if s.opts.Checkpoints {
		if err := s.clearCheckpoints(ctx, mode); err != nil {
			return r.result, err
		}
	}
	logging.Info(ctx, "ingestion run finished",
		slog.Int("events_inserted", r.result.EventsInserted),
		slog.Int("issues", r.result.Issues),
		slog.Int("pulls", r.result.Pulls),
		slog.Int("touched_subjects", len(r.result.Touched)),
		slog.Int("total_gaps", r.result.Report.TotalGaps),
	)
	return r.result, nil
}

func (s *Service) path(parts ...string) string {
	segments := append([]string{"repos", url.PathEscape(s.repo.Owner), url.PathEscape(s.repo.Name)}, parts...)
	return strings.Join(segments, "/")
}

// run holds the state of one ingestion pass over a repository. The number to
// object maps let activity stages reuse list payloads; after a resume they
// are empty and objects are fetched again.
type run struct {
	svc       *Service
	id        string
	mode      Mode
	maxPages  int
	window    Window
	completed Checkpoints
	issues    map[int]*github.Issue
	pulls     map[int]*github.PullRequest
	gaps      []ports.Gap
	result    Result
}

func (r *run) execute(ctx context.Context) error {
	if _, err := r.stage(ctx, StageRepo, r.seedRepo); err != nil {
		return err
	}
	if r.svc.store.RepoID() == 0 {
		return errs.Invariant("repository %s has no stored id", r.svc.repo.FullName())
	}
	if _, err := r.stage(ctx, StageCommits, r.commits); err != nil {
		return err
	}
	if _, err := r.stage(ctx, StageRefs, r.refs); err != nil {
		return err
	}
	issues, err := r.stage(ctx, StageIssues, r.listIssues)
	if err != nil {
		return err
	}
	pulls, err := r.stage(ctx, StagePulls, r.listPulls)
	if err != nil {
		return err
	}
	r.result.Issues = len(issues.Numbers)
	r.result.Pulls = len(pulls.Numbers)

	issueActivity, err := r.stage(ctx, StageIssueActivity, func(ctx context.Context) (StageOutput, error) {
		return r.activity(ctx, issues, r.issueActivity)
	})
	if err != nil {
		return err
	}
	pullActivity, err := r.stage(ctx, StagePullActivity, func(ctx context.Context) (StageOutput, error) {
		return r.activity(ctx, pulls, r.pullActivity)
	})
	if err != nil {
		return err
	}

	scope := interval.All()
	if r.mode == ModeIncremental {
		scope = interval.ScopeOf(issueActivity.Subjects...)
		scope.Merge(interval.ScopeOf(pullActivity.Subjects...))
	}
	r.result.Touched = append(append([]activity.Subject(nil), issueActivity.Subjects...), pullActivity.Subjects...)

	if _, err := r.stage(ctx, StageRebuild, func(ctx context.Context) (StageOutput, error) {
		stats, err := r.svc.rebuild.Rebuild(ctx, scope)
		if err != nil {
			return StageOutput{}, err
		}
		r.result.Rebuild = stats
		return StageOutput{}, nil
	}); err != nil {
		return err
	}

	_, err = r.stage(ctx, StageQA, func(ctx context.Context) (StageOutput, error) {
		report, path, err := r.svc.reporter.Write(ctx, qa.WriteInput{RunID: r.id, Mode: string(r.mode), Repo: r.svc.repo.FullName()})
		if err != nil {
			return StageOutput{}, err
		}
		r.result.Report = report
		r.result.ReportPath = path
		return StageOutput{}, nil
	})
	return err
}

func (r *run) stage(ctx context.Context, stage Stage, fn func(context.Context) (StageOutput, error)) (StageOutput, error) {
	stageCtx := logging.WithAttrs(ctx, slog.String("stage", string(stage)))
	if ShouldSkip(r.completed, stage) {
		logging.Info(stageCtx, "stage already checkpointed, skipping")
		r.result.Skipped = append(r.result.Skipped, stage)
		return r.completed[stage], nil
	}

	started := time.Now()
	out, err := fn(stageCtx)
	if flushErr := r.flushGaps(ctx); flushErr != nil && err == nil {
		err = flushErr
	}
	if err != nil {
		return StageOutput{}, errs.Wrapf(err, "stage %s", stage)
	}
	if r.svc.opts.Checkpoints {
		if err := r.svc.saveCheckpoint(ctx, r.mode, stage, out); err != nil {
			return StageOutput{}, err
		}
	}
	logging.Debug(stageCtx, "stage finished", slog.Duration("elapsed", time.Since(started)))
	return out, nil
}

// onGap buffers pagination anomalies; flushGaps persists them outside the
// pass transaction so a rolled back pass still leaves its audit trail.
func (r *run) onGap(gap ghclient.Gap) {
	r.gaps = append(r.gaps, ports.Gap{
		RunID:        r.id,
		Resource:     gap.Resource,
		URL:          gap.URL,
		Page:         gap.Page,
		ExpectedPage: gap.ExpectedPage,
		Detail:       gap.Detail,
		DetectedAt:   r.svc.now(),
	})
}

func (r *run) flushGaps(ctx context.Context) error {
	pending := r.gaps
	r.gaps = nil
	for _, gap := range pending {
		logging.Warn(ctx, "pagination gap",
			slog.String("resource", gap.Resource),
			slog.String("detail", gap.Detail),
			slog.String("url", gap.URL),
		)
		if err := r.svc.store.RecordGap(ctx, gap); err != nil {
			return errs.Wrapf(err, "record %s gap", gap.Resource)
		}
	}
	return nil
}

func (r *run) insert(ctx context.Context, records []activity.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	inserted, err := r.svc.store.InsertEvents(ctx, records)
	if err != nil {
		return errs.Wrap(err, "insert events")
	}
	r.result.EventsInserted += inserted
	return nil
}

func subjectsOf(records []activity.EventRecord) []activity.Subject {
	seen := make(map[activity.Subject]struct{}, len(records))
	var out []activity.Subject
	for _, rec := range records {
		subject := rec.Subject()
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		out = append(out, subject)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}
