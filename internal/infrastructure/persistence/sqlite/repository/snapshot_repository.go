package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/go-github/v68/github"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	"ghchrono/internal/ports"
)

func upsert(db *gorm.DB, value any, conflict []string, update []string) error {
	columns := make([]clause.Column, 0, len(conflict))
	for _, name := range conflict {
		columns = append(columns, clause.Column{Name: name})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(value).Error
}

func (s *Store) UpsertRepo(ctx context.Context, repo *github.Repository) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if repo == nil || repo.GetID() == 0 {
		return errors.New("repository id is required")
	}

	row := model.Repo{
		ID:            repo.GetID(),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Private:       repo.GetPrivate(),
		CreatedAt:     timestampPtr(repo.CreatedAt),
		UpdatedAt:     timestampPtr(repo.UpdatedAt),
		PushedAt:      timestampPtr(repo.PushedAt),
	}
	if err := upsert(db, &row, []string{"id"}, []string{"owner", "name", "full_name", "default_branch", "private", "created_at", "updated_at", "pushed_at"}); err != nil {
		return errs.Wrap(err, "upsert repo")
	}
	s.repoID.Store(row.ID)
	return s.UpsertUsers(ctx, repo.GetOwner())
}

func (s *Store) UpsertUsers(ctx context.Context, users ...*github.User) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(users))
	for _, u := range users {
		if u == nil || u.GetID() == 0 {
			continue
		}
		if _, ok := seen[u.GetID()]; ok {
			continue
		}
		seen[u.GetID()] = struct{}{}
		row := model.User{ID: u.GetID(), Login: u.GetLogin(), Type: u.GetType(), SiteAdmin: u.GetSiteAdmin()}
		if err := upsert(db, &row, []string{"id"}, []string{"login", "type", "site_admin"}); err != nil {
			return errs.Wrapf(err, "upsert user %d", row.ID)
		}
	}
	return nil
}

func (s *Store) UpsertTeams(ctx context.Context, teams ...*github.Team) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	for _, t := range teams {
		if t == nil || t.GetID() == 0 {
			continue
		}
		row := model.Team{ID: t.GetID(), Slug: t.GetSlug(), Name: t.GetName()}
		if err := upsert(db, &row, []string{"id"}, []string{"slug", "name"}); err != nil {
			return errs.Wrapf(err, "upsert team %d", row.ID)
		}
	}
	return nil
}

func (s *Store) UpsertLabels(ctx context.Context, labels ...*github.Label) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if l == nil || l.GetName() == "" {
			continue
		}
		row := model.Label{RepoID: s.RepoID(), Name: l.GetName(), LabelID: l.GetID(), Color: l.GetColor(), Description: l.GetDescription()}
		if err := upsert(db, &row, []string{"repo_id", "name"}, []string{"label_id", "color", "description"}); err != nil {
			return errs.Wrapf(err, "upsert label %q", row.Name)
		}
	}
	return nil
}

func (s *Store) UpsertMilestone(ctx context.Context, m *github.Milestone) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if m == nil || m.GetID() == 0 {
		return nil
	}
	row := model.Milestone{
		ID:     m.GetID(),
		RepoID: s.RepoID(),
		Number: m.GetNumber(),
		Title:  m.GetTitle(),
		State:  m.GetState(),
		DueOn:  timestampPtr(m.DueOn),
	}
	if err := upsert(db, &row, []string{"id"}, []string{"number", "title", "state", "due_on"}); err != nil {
		return errs.Wrapf(err, "upsert milestone %d", row.ID)
	}
	return nil
}

func (s *Store) UpsertIssue(ctx context.Context, issue *github.Issue) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if issue == nil || issue.GetID() == 0 {
		return errors.New("issue id is required")
	}

	row := model.Issue{
		ID:        issue.GetID(),
		RepoID:    s.RepoID(),
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		Locked:    issue.GetLocked(),
		AuthorID:  userIDOf(issue.User),
		Milestone: issue.GetMilestone().GetTitle(),
		Comments:  issue.GetComments(),
		CreatedAt: timestamp(issue.CreatedAt),
		UpdatedAt: timestamp(issue.UpdatedAt),
		ClosedAt:  timestampPtr(issue.ClosedAt),
	}
	if err := upsert(db, &row, []string{"id"}, []string{"number", "title", "body", "state", "locked", "author_id", "milestone", "comments", "created_at", "updated_at", "closed_at"}); err != nil {
		return errs.Wrapf(err, "upsert issue #%d", row.Number)
	}

	users := append([]*github.User{issue.User}, issue.Assignees...)
	if err := s.UpsertUsers(ctx, users...); err != nil {
		return err
	}
	if err := s.UpsertLabels(ctx, issue.Labels...); err != nil {
		return err
	}
	return s.UpsertMilestone(ctx, issue.Milestone)
}

func (s *Store) UpsertPullRequest(ctx context.Context, pr *github.PullRequest) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if pr == nil || pr.GetID() == 0 {
		return errors.New("pull request id is required")
	}

	row := model.PullRequest{
		ID:             pr.GetID(),
		RepoID:         s.RepoID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		State:          pr.GetState(),
		Draft:          pr.GetDraft(),
		Merged:         pr.GetMerged() || pr.MergedAt != nil,
		AuthorID:       userIDOf(pr.User),
		HeadRef:        pr.GetHead().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseRef:        pr.GetBase().GetRef(),
		BaseSHA:        pr.GetBase().GetSHA(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		CreatedAt:      timestamp(pr.CreatedAt),
		UpdatedAt:      timestamp(pr.UpdatedAt),
		ClosedAt:       timestampPtr(pr.ClosedAt),
		MergedAt:       timestampPtr(pr.MergedAt),
	}
	if err := upsert(db, &row, []string{"id"}, []string{
		"number", "title", "body", "state", "draft", "merged", "author_id",
		"head_ref", "head_sha", "base_ref", "base_sha", "merge_commit_sha",
		"created_at", "updated_at", "closed_at", "merged_at",
	}); err != nil {
		return errs.Wrapf(err, "upsert pull request #%d", row.Number)
	}

	users := append([]*github.User{pr.User}, pr.Assignees...)
	users = append(users, pr.RequestedReviewers...)
	if err := s.UpsertUsers(ctx, users...); err != nil {
		return err
	}
	if err := s.UpsertTeams(ctx, pr.RequestedTeams...); err != nil {
		return err
	}
	return s.UpsertLabels(ctx, pr.Labels...)
}

func (s *Store) UpsertPullRequestFiles(ctx context.Context, prID int64, headSHA string, files []*github.CommitFile) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f == nil || f.GetFilename() == "" {
			continue
		}
		row := model.PullRequestFile{
			RepoID:           s.RepoID(),
			PullRequestID:    prID,
			HeadSHA:          headSHA,
			Path:             f.GetFilename(),
			Status:           f.GetStatus(),
			Additions:        f.GetAdditions(),
			Deletions:        f.GetDeletions(),
			Changes:          f.GetChanges(),
			PreviousFilename: f.GetPreviousFilename(),
			BlobSHA:          f.GetSHA(),
		}
		if err := upsert(db, &row, []string{"repo_id", "pull_request_id", "head_sha", "path"}, []string{"status", "additions", "deletions", "changes", "previous_filename", "blob_sha"}); err != nil {
			return errs.Wrapf(err, "upsert pull request file %q", row.Path)
		}
	}
	return nil
}

func (s *Store) UpsertReview(ctx context.Context, prID int64, review *github.PullRequestReview) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if review == nil || review.GetID() == 0 {
		return nil
	}
	row := model.Review{
		ID:            review.GetID(),
		RepoID:        s.RepoID(),
		PullRequestID: prID,
		UserID:        userIDOf(review.User),
		State:         strings.ToUpper(review.GetState()),
		Body:          review.GetBody(),
		CommitID:      review.GetCommitID(),
		SubmittedAt:   timestampPtr(review.SubmittedAt),
	}
	if err := upsert(db, &row, []string{"id"}, []string{"pull_request_id", "user_id", "state", "body", "commit_id", "submitted_at"}); err != nil {
		return errs.Wrapf(err, "upsert review %d", row.ID)
	}
	return s.UpsertUsers(ctx, review.User)
}

func (s *Store) UpsertIssueComment(ctx context.Context, parentType string, parentNumber int, c *github.IssueComment) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if c == nil || c.GetID() == 0 {
		return nil
	}
	row := model.Comment{
		ID:           c.GetID(),
		RepoID:       s.RepoID(),
		Kind:         activity.SubjectComment,
		ParentType:   parentType,
		ParentNumber: parentNumber,
		UserID:       userIDOf(c.User),
		Body:         c.GetBody(),
		CreatedAt:    timestamp(c.CreatedAt),
		UpdatedAt:    timestamp(c.UpdatedAt),
	}
	if err := upsertComment(db, &row); err != nil {
		return err
	}
	return s.UpsertUsers(ctx, c.User)
}

func (s *Store) UpsertReviewComment(ctx context.Context, parentNumber int, c *github.PullRequestComment) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if c == nil || c.GetID() == 0 {
		return nil
	}
	row := model.Comment{
		ID:           c.GetID(),
		RepoID:       s.RepoID(),
		Kind:         activity.SubjectReviewComment,
		ParentType:   activity.SubjectPullRequest,
		ParentNumber: parentNumber,
		UserID:       userIDOf(c.User),
		Body:         c.GetBody(),
		Path:         c.GetPath(),
		CommitID:     c.GetCommitID(),
		ReviewID:     nonZero(c.GetPullRequestReviewID()),
		InReplyTo:    nonZero(c.GetInReplyTo()),
		CreatedAt:    timestamp(c.CreatedAt),
		UpdatedAt:    timestamp(c.UpdatedAt),
	}
	if err := upsertComment(db, &row); err != nil {
		return err
	}
	return s.UpsertUsers(ctx, c.User)
}

func upsertComment(db *gorm.DB, row *model.Comment) error {
	if err := upsert(db, row, []string{"id"}, []string{"kind", "parent_type", "parent_number", "user_id", "body", "path", "commit_id", "review_id", "in_reply_to", "created_at", "updated_at"}); err != nil {
		return errs.Wrapf(err, "upsert comment %d", row.ID)
	}
	return nil
}

func (s *Store) UpsertCommit(ctx context.Context, c *github.RepositoryCommit) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if c == nil || c.GetSHA() == "" {
		return nil
	}
	parents := make([]string, 0, len(c.Parents))
	for _, p := range c.Parents {
		parents = append(parents, p.GetSHA())
	}
	row := model.Commit{
		SHA:         c.GetSHA(),
		RepoID:      s.RepoID(),
		AuthorID:    userIDOf(c.Author),
		CommitterID: userIDOf(c.Committer),
		AuthorName:  c.GetCommit().GetAuthor().GetName(),
		AuthorEmail: c.GetCommit().GetAuthor().GetEmail(),
		Message:     c.GetCommit().GetMessage(),
		Parents:     strings.Join(parents, ","),
		AuthoredAt:  commitDate(c.GetCommit().GetAuthor()),
		CommittedAt: commitDate(c.GetCommit().GetCommitter()),
	}
	if err := upsert(db, &row, []string{"sha"}, []string{"author_id", "committer_id", "author_name", "author_email", "message", "parents", "authored_at", "committed_at"}); err != nil {
		return errs.Wrapf(err, "upsert commit %s", row.SHA)
	}
	return s.UpsertUsers(ctx, c.Author, c.Committer)
}

func (s *Store) UpsertRef(ctx context.Context, kind, name, sha string, protected bool) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	row := model.Ref{RepoID: s.RepoID(), Kind: kind, Name: name, SHA: sha, Protected: protected}
	if err := upsert(db, &row, []string{"repo_id", "kind", "name"}, []string{"sha", "protected"}); err != nil {
		return errs.Wrapf(err, "upsert %s %q", kind, name)
	}
	return nil
}

func (s *Store) UpsertRelease(ctx context.Context, r *github.RepositoryRelease) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if r == nil || r.GetID() == 0 {
		return nil
	}
	row := model.Release{
		ID:              r.GetID(),
		RepoID:          s.RepoID(),
		TagName:         r.GetTagName(),
		Name:            r.GetName(),
		Draft:           r.GetDraft(),
		Prerelease:      r.GetPrerelease(),
		TargetCommitish: r.GetTargetCommitish(),
		AuthorID:        userIDOf(r.Author),
		CreatedAt:       timestampPtr(r.CreatedAt),
		PublishedAt:     timestampPtr(r.PublishedAt),
	}
	if err := upsert(db, &row, []string{"id"}, []string{"tag_name", "name", "draft", "prerelease", "target_commitish", "author_id", "created_at", "published_at"}); err != nil {
		return errs.Wrapf(err, "upsert release %d", row.ID)
	}
	return s.UpsertUsers(ctx, r.Author)
}

func (s *Store) ListSubjectRefs(ctx context.Context, subjectType string) ([]ports.SubjectRef, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	type refRow struct {
		ID        int64
		Number    int
		UpdatedAt string
	}
	var rows []refRow
	var table any
	switch subjectType {
	case activity.SubjectIssue:
		table = &model.Issue{}
	case activity.SubjectPullRequest:
		table = &model.PullRequest{}
	default:
		return nil, errs.Wrapf(ports.ErrNotFound, "subject type %q has no snapshot table", subjectType)
	}
	if err := db.Model(table).Select("id", "number", "updated_at").Order("number asc").Scan(&rows).Error; err != nil {
		return nil, errs.Wrapf(err, "query %s refs", subjectType)
	}

	out := make([]ports.SubjectRef, 0, len(rows))
	for _, row := range rows {
		updated, _ := model.ParseTime(row.UpdatedAt)
		out = append(out, ports.SubjectRef{
			Subject:   activity.Subject{Type: subjectType, ID: row.ID},
			Number:    row.Number,
			UpdatedAt: updated,
		})
	}
	return out, nil
}

// FindSubjectByNumber resolves an issue or pull request number; pull
// requests win because GitHub numbers them in the same sequence.
func (s *Store) FindSubjectByNumber(ctx context.Context, number int) (activity.Subject, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return activity.Subject{}, err
	}

	var pr model.PullRequest
	if err := db.Where("number = ?", number).Limit(1).Find(&pr).Error; err != nil {
		return activity.Subject{}, errs.Wrap(err, "query pull request by number")
	}
	if pr.ID != 0 {
		return activity.Subject{Type: activity.SubjectPullRequest, ID: pr.ID}, nil
	}
	var issue model.Issue
	if err := db.Where("number = ?", number).Limit(1).Find(&issue).Error; err != nil {
		return activity.Subject{}, errs.Wrap(err, "query issue by number")
	}
	if issue.ID != 0 {
		return activity.Subject{Type: activity.SubjectIssue, ID: issue.ID}, nil
	}
	return activity.Subject{}, errs.Wrapf(ports.ErrNotFound, "#%d", number)
}

func (s *Store) ListChildSubjects(ctx context.Context, parentType string, parentNumber int) ([]activity.Subject, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var comments []model.Comment
	if err := db.Select("id", "kind").Where("parent_type = ? AND parent_number = ?", parentType, parentNumber).Order("id asc").Find(&comments).Error; err != nil {
		return nil, errs.Wrap(err, "query child comments")
	}
	out := make([]activity.Subject, 0, len(comments))
	for _, c := range comments {
		out = append(out, activity.Subject{Type: c.Kind, ID: c.ID})
	}

	if parentType == activity.SubjectPullRequest {
		var reviews []model.Review
		if err := db.Select("reviews.id").
			Joins("JOIN pull_requests ON pull_requests.id = reviews.pull_request_id").
			Where("pull_requests.number = ?", parentNumber).
			Order("reviews.id asc").
			Find(&reviews).Error; err != nil {
			return nil, errs.Wrap(err, "query child reviews")
		}
		for _, r := range reviews {
			out = append(out, activity.Subject{Type: activity.SubjectReview, ID: r.ID})
		}
	}
	return out, nil
}

func timestamp(ts *github.Timestamp) string {
	if ts == nil {
		return ""
	}
	return model.FormatTime(ts.Time)
}

func timestampPtr(ts *github.Timestamp) *string {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return model.FormatTimePtr(&t)
}

func commitDate(a *github.CommitAuthor) *string {
	if a == nil {
		return nil
	}
	return timestampPtr(a.Date)
}

func userIDOf(u *github.User) *int64 {
	if u == nil || u.GetID() == 0 {
		return nil
	}
	id := u.GetID()
	return &id
}

func nonZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
