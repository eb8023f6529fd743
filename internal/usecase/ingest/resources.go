package ingest

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/go-github/v68/github"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/ghclient"
	"ghchrono/internal/ports"
)

func (r *run) seedRepo(ctx context.Context) (StageOutput, error) {
	var repo github.Repository
	if _, err := r.svc.gh.Get(ctx, r.svc.path(), nil, &repo); err != nil {
		return StageOutput{}, errs.Wrap(err, "fetch repository")
	}
	err := r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
		return r.svc.store.UpsertRepo(txCtx, &repo)
	})
	if err != nil {
		return StageOutput{}, err
	}
	logging.Info(ctx, "repository seeded", slog.Int64("repo_id", repo.GetID()))
	return StageOutput{}, nil
}

// resourcePass tracks the watermark a list pass advances.
type resourcePass struct {
	resource    string
	prior       ports.Watermark
	hasPrior    bool
	next        ports.Watermark
	validators  ghclient.Validators
	responded   bool
	notModified bool
	more        bool
	stopped     bool
}

func (r *run) beginPass(ctx context.Context, resource string) (*resourcePass, error) {
	prior, found, err := r.svc.store.GetWatermark(ctx, resource)
	if err != nil {
		return nil, errs.Wrapf(err, "read %s watermark", resource)
	}
	pass := &resourcePass{resource: resource, prior: prior, hasPrior: found}
	pass.next = ports.Watermark{Resource: resource, UpdatedAt: prior.UpdatedAt, ETag: prior.ETag, LastModified: prior.LastModified, Cursor: prior.Cursor}
	return pass, nil
}

// incremental reports whether the pass resumes from a stored watermark.
func (p *resourcePass) incremental(mode Mode) bool {
	return mode == ModeIncremental && p.hasPrior
}

func (p *resourcePass) onResponse(resp *ghclient.Response) {
	p.more = resp.HasNext()
	if p.responded {
		return
	}
	p.responded = true
	p.notModified = resp.NotModified()
	p.validators = ghclient.ValidatorsOf(resp)
}

func (p *resourcePass) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if p.next.UpdatedAt == nil || t.After(*p.next.UpdatedAt) {
		at := t.UTC()
		p.next.UpdatedAt = &at
	}
}

// truncated reports whether the page limit ended the listing with pages left.
func (p *resourcePass) truncated() bool {
	return p.more && !p.stopped
}

// pending returns the watermark the pass advanced to, or nil when the stored
// one must stay: a 304 changed nothing and a truncated listing skipped items.
func (p *resourcePass) pending() *ports.Watermark {
	if p.notModified || p.truncated() {
		return nil
	}
	next := p.next
	if p.validators.ETag != "" {
		next.ETag = p.validators.ETag
	}
	if p.validators.LastModified != "" {
		next.LastModified = p.validators.LastModified
	}
	return &next
}

func (r *run) saveWatermark(ctx context.Context, wm *ports.Watermark) error {
	if wm == nil {
		return nil
	}
	if err := r.svc.store.SaveWatermark(ctx, *wm); err != nil {
		return errs.Wrapf(err, "save %s watermark", wm.Resource)
	}
	return nil
}

func (r *run) list(ctx context.Context, pass *resourcePass, path string, params url.Values) iter.Seq2[json.RawMessage, error] {
	req := ghclient.PageRequest{
		Resource:   pass.resource,
		Path:       path,
		Params:     params,
		MaxPages:   r.maxPages,
		OnGap:      r.onGap,
		OnResponse: pass.onResponse,
	}
	if pass.incremental(r.mode) {
		return r.svc.gh.PaginateConditional(ctx, req, ghclient.Validators{ETag: pass.prior.ETag, LastModified: pass.prior.LastModified})
	}
	return r.svc.gh.Paginate(ctx, req)
}

func (r *run) commits(ctx context.Context) (StageOutput, error) {
	pass, err := r.beginPass(ctx, ResourceCommits)
	if err != nil {
		return StageOutput{}, err
	}
	params := url.Values{}
	if pass.incremental(r.mode) && pass.prior.UpdatedAt != nil {
		params.Set("since", pass.prior.UpdatedAt.Format(time.RFC3339))
	}
	if r.window.Start != nil {
		params.Set("since", r.window.Start.UTC().Format(time.RFC3339))
	}
	if r.window.End != nil {
		params.Set("until", r.window.End.UTC().Format(time.RFC3339))
	}

	count := 0
	err = r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
		for raw, err := range r.list(txCtx, pass, r.svc.path("commits"), params) {
			if err != nil {
				return err
			}
			commit, err := ghclient.Decode[*github.RepositoryCommit](raw)
			if err != nil {
				return err
			}
			at := commitTime(commit)
			if !r.window.Contains(at) {
				continue
			}
			if err := r.svc.store.UpsertCommit(txCtx, commit); err != nil {
				return err
			}
			pass.observe(at)
			count++
		}
		return r.saveWatermark(txCtx, pass.pending())
	})
	if err != nil {
		return StageOutput{}, errs.Wrap(err, "commits pass")
	}
	logging.Info(ctx, "commits pass committed",
		slog.Int("commits", count),
		slog.Bool("not_modified", pass.notModified),
		slog.Bool("truncated", pass.truncated()),
	)
	return StageOutput{}, nil
}

func (r *run) refs(ctx context.Context) (StageOutput, error) {
	err := r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
		branches, err := ghclient.Collect[*github.Branch](r.svc.gh.Paginate(txCtx, ghclient.PageRequest{
			Resource: "branches", Path: r.svc.path("branches"), MaxPages: r.maxPages, OnGap: r.onGap,
		}))
		if err != nil {
			return err
		}
		for _, b := range branches {
			if err := r.svc.store.UpsertRef(txCtx, "branch", b.GetName(), b.GetCommit().GetSHA(), b.GetProtected()); err != nil {
				return err
			}
		}

		tags, err := ghclient.Collect[*github.RepositoryTag](r.svc.gh.Paginate(txCtx, ghclient.PageRequest{
			Resource: "tags", Path: r.svc.path("tags"), MaxPages: r.maxPages, OnGap: r.onGap,
		}))
		if err != nil {
			return err
		}
		for _, tag := range tags {
			if err := r.svc.store.UpsertRef(txCtx, "tag", tag.GetName(), tag.GetCommit().GetSHA(), false); err != nil {
				return err
			}
		}

		releases, err := ghclient.Collect[*github.RepositoryRelease](r.svc.gh.Paginate(txCtx, ghclient.PageRequest{
			Resource: "releases", Path: r.svc.path("releases"), MaxPages: r.maxPages, OnGap: r.onGap,
		}))
		if err != nil {
			return err
		}
		var records []activity.EventRecord
		for _, release := range releases {
			at := release.GetPublishedAt().Time
			if at.IsZero() {
				at = release.GetCreatedAt().Time
			}
			if !r.window.Contains(at) {
				continue
			}
			if err := r.svc.store.UpsertRelease(txCtx, release); err != nil {
				return err
			}
			records = append(records, activity.NormalizeRelease(r.svc.store.RepoID(), release)...)
		}
		if err := r.insert(txCtx, records); err != nil {
			return err
		}

		logging.Info(txCtx, "refs pass committed",
			slog.Int("branches", len(branches)),
			slog.Int("tags", len(tags)),
			slog.Int("releases", len(releases)),
		)
		return nil
	})
	if err != nil {
		return StageOutput{}, errs.Wrap(err, "refs pass")
	}
	return StageOutput{}, nil
}

func (r *run) listIssues(ctx context.Context) (StageOutput, error) {
	pass, err := r.beginPass(ctx, ResourceIssues)
	if err != nil {
		return StageOutput{}, err
	}
	params := url.Values{"state": {"all"}, "sort": {"updated"}, "direction": {"asc"}}
	if pass.incremental(r.mode) && pass.prior.UpdatedAt != nil {
		params.Set("since", pass.prior.UpdatedAt.Format(time.RFC3339))
	}
	if r.window.Start != nil {
		params.Set("since", r.window.Start.UTC().Format(time.RFC3339))
	}

	var numbers []int
	err = r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
		for raw, err := range r.list(txCtx, pass, r.svc.path("issues"), params) {
			if err != nil {
				return err
			}
			issue, err := ghclient.Decode[*github.Issue](raw)
			if err != nil {
				return err
			}
			// pull requests are listed here too; the pulls pass owns them
			if issue.IsPullRequest() {
				continue
			}
			updated := updatedOrCreated(issue.UpdatedAt, issue.CreatedAt)
			if !r.window.Contains(updated) {
				continue
			}
			if err := r.svc.store.UpsertIssue(txCtx, issue); err != nil {
				return err
			}
			r.issues[issue.GetNumber()] = issue
			numbers = append(numbers, issue.GetNumber())
			pass.observe(updated)
		}
		return nil
	})
	if err != nil {
		// the transaction rolled back, so the cached objects are not stored
		clear(r.issues)
		return StageOutput{}, errs.Wrap(err, "issues pass")
	}
	sort.Ints(numbers)
	logging.Info(ctx, "issues pass committed",
		slog.Int("issues", len(numbers)),
		slog.Bool("not_modified", pass.notModified),
		slog.Bool("truncated", pass.truncated()),
	)
	return StageOutput{Numbers: numbers, Watermark: pass.pending()}, nil
}

// listPulls walks pull requests by updated_at descending. The pulls endpoint
// has no since filter, so an incremental pass stops at the first pull request
// not newer than the watermark.
//
// Neither list pass stores its watermark. The advanced value rides in the
// stage output and the matching activity stage saves it once every listed
// number has been ingested.
func (r *run) listPulls(ctx context.Context) (StageOutput, error) {
	pass, err := r.beginPass(ctx, ResourcePulls)
	if err != nil {
		return StageOutput{}, err
	}
	params := url.Values{"state": {"all"}, "sort": {"updated"}, "direction": {"desc"}}
	var cutoff *time.Time
	if pass.incremental(r.mode) {
		cutoff = pass.prior.UpdatedAt
	}

	var numbers []int
	err = r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
		for raw, err := range r.list(txCtx, pass, r.svc.path("pulls"), params) {
			if err != nil {
				return err
			}
			pr, err := ghclient.Decode[*github.PullRequest](raw)
			if err != nil {
				return err
			}
			updated := updatedOrCreated(pr.UpdatedAt, pr.CreatedAt)
			if cutoff != nil && !updated.After(*cutoff) {
				pass.stopped = true
				break
			}
			if !r.window.Contains(updated) {
				continue
			}
			if err := r.svc.store.UpsertPullRequest(txCtx, pr); err != nil {
				return err
			}
			r.pulls[pr.GetNumber()] = pr
			numbers = append(numbers, pr.GetNumber())
			pass.observe(updated)
		}
		return nil
	})
	if err != nil {
		clear(r.pulls)
		return StageOutput{}, errs.Wrap(err, "pulls pass")
	}
	sort.Ints(numbers)
	logging.Info(ctx, "pulls pass committed",
		slog.Int("pulls", len(numbers)),
		slog.Bool("not_modified", pass.notModified),
		slog.Bool("truncated", pass.truncated()),
	)
	return StageOutput{Numbers: numbers, Watermark: pass.pending()}, nil
}

// activity runs fn for every listed number in its own transaction and
// collects the subjects whose events were written. The list pass watermark is
// saved only after the last number succeeds.
func (r *run) activity(ctx context.Context, listed StageOutput, fn func(context.Context, int) ([]activity.EventRecord, error)) (StageOutput, error) {
	var out StageOutput
	seen := make(map[activity.Subject]struct{})
	for _, number := range listed.Numbers {
		var records []activity.EventRecord
		err := r.svc.uow.WithTx(ctx, func(txCtx context.Context) error {
			var err error
			records, err = fn(txCtx, number)
			if err != nil {
				return err
			}
			return r.insert(txCtx, records)
		})
		if err != nil {
			return StageOutput{}, errs.Wrapf(err, "activity of #%d", number)
		}
		for _, subject := range subjectsOf(records) {
			if _, ok := seen[subject]; ok {
				continue
			}
			seen[subject] = struct{}{}
			out.Subjects = append(out.Subjects, subject)
		}
	}
	if err := r.saveWatermark(ctx, listed.Watermark); err != nil {
		return StageOutput{}, err
	}
	out.Numbers = listed.Numbers
	return out, nil
}

func (r *run) issueActivity(ctx context.Context, number int) ([]activity.EventRecord, error) {
	issue, ok := r.issues[number]
	if !ok {
		issue = &github.Issue{}
		if _, err := r.svc.gh.Get(ctx, r.svc.path("issues", strconv.Itoa(number)), nil, issue); err != nil {
			return nil, errs.Wrapf(err, "fetch issue #%d", number)
		}
		if err := r.svc.store.UpsertIssue(ctx, issue); err != nil {
			return nil, err
		}
	}
	repoID := r.svc.store.RepoID()
	subject := activity.Subject{Type: activity.SubjectIssue, ID: issue.GetID()}

	timeline, err := r.timeline(ctx, number)
	if err != nil {
		return nil, err
	}
	hints := activity.InferHints(timeline)
	if hints.Recorded, err = r.recorded(ctx, subject, activity.TypeName(subject.Type, "opened")); err != nil {
		return nil, err
	}
	records := activity.NormalizeIssue(repoID, issue, hints)
	for _, ev := range timeline {
		records = append(records, activity.NormalizeTimeline(repoID, subject, ev)...)
	}

	comments, err := r.issueComments(ctx, activity.SubjectIssue, number)
	if err != nil {
		return nil, err
	}
	return append(records, comments...), nil
}

func (r *run) pullActivity(ctx context.Context, number int) ([]activity.EventRecord, error) {
	pr, ok := r.pulls[number]
	if !ok {
		pr = &github.PullRequest{}
		if _, err := r.svc.gh.Get(ctx, r.svc.path("pulls", strconv.Itoa(number)), nil, pr); err != nil {
			return nil, errs.Wrapf(err, "fetch pull request #%d", number)
		}
		if err := r.svc.store.UpsertPullRequest(ctx, pr); err != nil {
			return nil, err
		}
	}
	repoID := r.svc.store.RepoID()
	subject := activity.Subject{Type: activity.SubjectPullRequest, ID: pr.GetID()}
	nr := strconv.Itoa(number)

	timeline, err := r.timeline(ctx, number)
	if err != nil {
		return nil, err
	}
	hints := activity.InferHints(timeline)
	if hints.Recorded, err = r.recorded(ctx, subject, activity.TypeName(subject.Type, "opened")); err != nil {
		return nil, err
	}
	records := activity.NormalizePullRequest(repoID, pr, hints)
	for _, ev := range timeline {
		records = append(records, activity.NormalizeTimeline(repoID, subject, ev)...)
	}

	comments, err := r.issueComments(ctx, activity.SubjectPullRequest, number)
	if err != nil {
		return nil, err
	}
	records = append(records, comments...)

	reviews, err := ghclient.Collect[*github.PullRequestReview](r.svc.gh.Paginate(ctx, ghclient.PageRequest{
		Resource: "reviews", Path: r.svc.path("pulls", nr, "reviews"), MaxPages: r.maxPages, OnGap: r.onGap,
	}))
	if err != nil {
		return nil, errs.Wrapf(err, "list reviews of #%d", number)
	}
	for _, review := range reviews {
		if err := r.svc.store.UpsertReview(ctx, pr.GetID(), review); err != nil {
			return nil, err
		}
		records = append(records, activity.NormalizeReview(repoID, number, review)...)
	}

	reviewComments, err := ghclient.Collect[*github.PullRequestComment](r.svc.gh.Paginate(ctx, ghclient.PageRequest{
		Resource: "review_comments", Path: r.svc.path("pulls", nr, "comments"), MaxPages: r.maxPages, OnGap: r.onGap,
	}))
	if err != nil {
		return nil, errs.Wrapf(err, "list review comments of #%d", number)
	}
	for _, c := range reviewComments {
		if err := r.svc.store.UpsertReviewComment(ctx, number, c); err != nil {
			return nil, err
		}
		known, err := r.recorded(ctx, activity.Subject{Type: activity.SubjectReviewComment, ID: c.GetID()}, "comment.created")
		if err != nil {
			return nil, err
		}
		records = append(records, activity.NormalizeReviewComment(repoID, number, c, activity.Hints{Recorded: known})...)
	}

	files, err := ghclient.Collect[*github.CommitFile](r.svc.gh.Paginate(ctx, ghclient.PageRequest{
		Resource: "pull_files", Path: r.svc.path("pulls", nr, "files"), MaxPages: r.maxPages, OnGap: r.onGap,
	}))
	if err != nil {
		return nil, errs.Wrapf(err, "list files of #%d", number)
	}
	if sha := pr.GetHead().GetSHA(); sha != "" {
		if err := r.svc.store.UpsertPullRequestFiles(ctx, pr.GetID(), sha, files); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *run) timeline(ctx context.Context, number int) ([]activity.TimelineEvent, error) {
	var out []activity.TimelineEvent
	for raw, err := range r.svc.gh.Paginate(ctx, ghclient.PageRequest{
		Resource: "issue_events", Path: r.svc.path("issues", strconv.Itoa(number), "events"), MaxPages: r.maxPages, OnGap: r.onGap,
	}) {
		if err != nil {
			return nil, errs.Wrapf(err, "list timeline of #%d", number)
		}
		ev, err := activity.ParseTimelineEvent(raw)
		if err != nil {
			return nil, errs.Wrapf(err, "parse timeline event of #%d", number)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *run) issueComments(ctx context.Context, parentType string, number int) ([]activity.EventRecord, error) {
	comments, err := ghclient.Collect[*github.IssueComment](r.svc.gh.Paginate(ctx, ghclient.PageRequest{
		Resource: "issue_comments", Path: r.svc.path("issues", strconv.Itoa(number), "comments"), MaxPages: r.maxPages, OnGap: r.onGap,
	}))
	if err != nil {
		return nil, errs.Wrapf(err, "list comments of #%d", number)
	}
	repoID := r.svc.store.RepoID()
	var records []activity.EventRecord
	for _, c := range comments {
		if err := r.svc.store.UpsertIssueComment(ctx, parentType, number, c); err != nil {
			return nil, err
		}
		known, err := r.recorded(ctx, activity.Subject{Type: activity.SubjectComment, ID: c.GetID()}, "comment.created")
		if err != nil {
			return nil, err
		}
		records = append(records, activity.NormalizeIssueComment(repoID, parentType, number, c, activity.Hints{Recorded: known})...)
	}
	return records, nil
}

// recorded reports whether the creation event of subject is already stored.
func (r *run) recorded(ctx context.Context, subject activity.Subject, eventType string) (bool, error) {
	found, err := r.svc.store.HasEvent(ctx, subject, eventType)
	if err != nil {
		return false, errs.Wrapf(err, "look up %s of %s %d", eventType, subject.Type, subject.ID)
	}
	return found, nil
}

func commitTime(c *github.RepositoryCommit) time.Time {
	if c == nil || c.Commit == nil {
		return time.Time{}
	}
	if d := c.Commit.GetCommitter().GetDate(); !d.IsZero() {
		return d.Time.UTC()
	}
	return c.Commit.GetAuthor().GetDate().Time.UTC()
}

func updatedOrCreated(updated, created *github.Timestamp) time.Time {
	if updated != nil && !updated.IsZero() {
		return updated.Time.UTC()
	}
	if created != nil {
		return created.Time.UTC()
	}
	return time.Time{}
}
