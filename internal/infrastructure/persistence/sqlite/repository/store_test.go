package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	"ghchrono/internal/ports"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "repo.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	store := NewStore(db)
	if err := store.UpsertRepo(context.Background(), &github.Repository{
		ID:       github.Ptr(int64(1)),
		Name:     github.Ptr("hello"),
		FullName: github.Ptr("octo/hello"),
		Owner:    &github.User{ID: github.Ptr(int64(100)), Login: github.Ptr("octo")},
	}); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	return store
}

func record(subject activity.Subject, minutes int, eventType string, objectID string) activity.EventRecord {
	rec := activity.EventRecord{
		RepoID:      1,
		OccurredAt:  base.Add(time.Duration(minutes) * time.Minute),
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		EventType:   eventType,
	}
	if objectID != "" {
		rec.ObjectType = activity.ObjectLabel
		rec.ObjectID = objectID
	}
	return rec
}

func TestInsertEventsIsIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}

	records := []activity.EventRecord{
		record(issue, 0, "issue.opened", ""),
		record(issue, 1, "issue.label.add", "bug"),
	}
	records[0].Payload = map[string]any{"number": 1}

	inserted, err := store.InsertEvents(ctx, records)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	first, err := store.ListEvents(ctx, interval.All())
	require.NoError(t, err)

	inserted, err = store.InsertEvents(ctx, records)
	require.NoError(t, err)
	require.Zero(t, inserted)

	second, err := store.ListEvents(ctx, interval.All())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, second, 2)
	require.Equal(t, float64(1), second[0].Payload["number"])

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestListEventsHonorsScope(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := activity.Subject{Type: activity.SubjectIssue, ID: 1}
	b := activity.Subject{Type: activity.SubjectIssue, ID: 2}
	c := activity.Subject{Type: activity.SubjectComment, ID: 1}

	_, err := store.InsertEvents(ctx, []activity.EventRecord{
		record(a, 0, "issue.opened", ""),
		record(b, 0, "issue.opened", ""),
		record(c, 0, "comment.created", ""),
	})
	require.NoError(t, err)

	events, err := store.ListEvents(ctx, interval.ScopeOf(a, c))
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		require.NotEqual(t, b, ev.Subject())
	}

	none, err := store.ListEvents(ctx, interval.ScopeOf())
	require.NoError(t, err)
	require.Empty(t, none)

	observed, err := store.SubjectObservedBy(ctx, a, base.Add(-time.Second))
	require.NoError(t, err)
	require.False(t, observed)
	observed, err = store.SubjectObservedBy(ctx, a, base)
	require.NoError(t, err)
	require.True(t, observed)
}

func TestHasEventMatchesSubjectAndType(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := activity.Subject{Type: activity.SubjectIssue, ID: 1}
	c := activity.Subject{Type: activity.SubjectComment, ID: 1}

	_, err := store.InsertEvents(ctx, []activity.EventRecord{
		record(a, 0, "issue.opened", ""),
		record(c, 0, "comment.created", ""),
	})
	require.NoError(t, err)

	found, err := store.HasEvent(ctx, a, "issue.opened")
	require.NoError(t, err)
	require.True(t, found)
	found, err = store.HasEvent(ctx, a, "comment.created")
	require.NoError(t, err)
	require.False(t, found)
	found, err = store.HasEvent(ctx, activity.Subject{Type: activity.SubjectIssue, ID: 2}, "issue.opened")
	require.NoError(t, err)
	require.False(t, found)
}

func TestReplaceIntervalsRoundTripAndScope(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	a := activity.Subject{Type: activity.SubjectIssue, ID: 1}
	b := activity.Subject{Type: activity.SubjectIssue, ID: 2}

	_, err := store.InsertEvents(ctx, []activity.EventRecord{
		record(a, 0, "issue.opened", ""),
		record(a, 1, "issue.label.add", "bug"),
		record(b, 0, "issue.opened", ""),
		record(a, 5, "issue.closed", ""),
	})
	require.NoError(t, err)

	events, err := store.ListEvents(ctx, interval.All())
	require.NoError(t, err)
	result, err := interval.Replay(events)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceIntervals(ctx, interval.All(), result.Intervals))

	stored, err := store.ListAllIntervals(ctx)
	require.NoError(t, err)
	require.Equal(t, result.Intervals, stored)

	// rebuilding only a leaves b untouched
	scoped, err := store.ListEvents(ctx, interval.ScopeOf(a))
	require.NoError(t, err)
	scopedResult, err := interval.Replay(scoped)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceIntervals(ctx, interval.ScopeOf(a), scopedResult.Intervals))

	again, err := store.ListAllIntervals(ctx)
	require.NoError(t, err)
	require.Equal(t, stored, again)

	timed, err := store.ListIntervals(ctx, interval.IssueState, a)
	require.NoError(t, err)
	require.Len(t, timed, 2)
	require.Equal(t, base, timed[0].StartAt)
	require.Equal(t, base.Add(5*time.Minute), *timed[0].EndAt)
	require.Nil(t, timed[1].EndAt)

	err = store.ReplaceIntervals(ctx, interval.ScopeOf(a), []interval.Interval{{
		Family: interval.IssueState, SubjectType: b.Type, SubjectID: b.ID, StartEventID: 3,
	}})
	require.True(t, errs.IsInvariant(err))
}

func TestWatermarksAndGaps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, found, err := store.GetWatermark(ctx, "issues")
	require.NoError(t, err)
	require.False(t, found)

	t1 := base.Add(time.Hour)
	require.NoError(t, store.SaveWatermark(ctx, ports.Watermark{Resource: "issues", UpdatedAt: &base, ETag: `"a"`}))
	require.NoError(t, store.SaveWatermark(ctx, ports.Watermark{Resource: "issues", UpdatedAt: &t1, ETag: `"b"`}))
	require.NoError(t, store.SaveWatermark(ctx, ports.Watermark{Resource: "commits", UpdatedAt: &base}))

	wm, found, err := store.GetWatermark(ctx, "issues")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `"b"`, wm.ETag)
	require.Equal(t, t1, *wm.UpdatedAt)

	maxWM, err := store.MaxWatermarkUpdatedAt(ctx)
	require.NoError(t, err)
	require.Equal(t, t1, *maxWM)

	page := 3
	require.NoError(t, store.RecordGap(ctx, ports.Gap{RunID: "r1", Resource: "issues", Page: &page, Detail: "non-sequential page"}))
	require.NoError(t, store.RecordGap(ctx, ports.Gap{RunID: "r1", Resource: "issues", Detail: "empty page with next link"}))
	require.NoError(t, store.RecordGap(ctx, ports.Gap{RunID: "r0", Resource: "pulls", Detail: "empty page with next link"}))

	counts, err := store.CountGapsByResource(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"issues": 2}, counts)

	_, err = store.LatestQAReport(ctx)
	require.True(t, errors.Is(err, ports.ErrNotFound))

	report := ports.QAReport{RunID: "r1", Mode: "backfill", GapCounts: counts, TotalGaps: 2, CreatedAt: base}
	require.NoError(t, store.SaveQAReport(ctx, report))
	latest, err := store.LatestQAReport(ctx)
	require.NoError(t, err)
	require.Equal(t, report, latest)
}

func TestSnapshotUpsertsAndLookups(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	issue := &github.Issue{
		ID: github.Ptr(int64(500)), Number: github.Ptr(7), Title: github.Ptr("first"), State: github.Ptr("open"),
		User:      &github.User{ID: github.Ptr(int64(9)), Login: github.Ptr("alice")},
		Labels:    []*github.Label{{Name: github.Ptr("bug")}},
		CreatedAt: &github.Timestamp{Time: base}, UpdatedAt: &github.Timestamp{Time: base},
	}
	require.NoError(t, store.UpsertIssue(ctx, issue))
	issue.Title = github.Ptr("second")
	issue.UpdatedAt = &github.Timestamp{Time: base.Add(time.Hour)}
	require.NoError(t, store.UpsertIssue(ctx, issue))

	var row model.Issue
	require.NoError(t, store.DB().First(&row, 500).Error)
	require.Equal(t, "second", row.Title)
	require.Equal(t, int64(1), row.RepoID)

	pr := &github.PullRequest{
		ID: github.Ptr(int64(900)), Number: github.Ptr(8), State: github.Ptr("open"),
		CreatedAt: &github.Timestamp{Time: base}, UpdatedAt: &github.Timestamp{Time: base},
		Head: &github.PullRequestBranch{SHA: github.Ptr("abc")},
	}
	require.NoError(t, store.UpsertPullRequest(ctx, pr))
	require.NoError(t, store.UpsertPullRequestFiles(ctx, 900, "abc", []*github.CommitFile{{Filename: github.Ptr("a.go"), Additions: github.Ptr(3)}}))
	require.NoError(t, store.UpsertPullRequestFiles(ctx, 900, "def", []*github.CommitFile{{Filename: github.Ptr("a.go"), Additions: github.Ptr(5)}}))

	var files int64
	require.NoError(t, store.DB().Model(&model.PullRequestFile{}).Count(&files).Error)
	require.Equal(t, int64(2), files)

	subject, err := store.FindSubjectByNumber(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, activity.Subject{Type: activity.SubjectPullRequest, ID: 900}, subject)
	subject, err = store.FindSubjectByNumber(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, activity.SubjectIssue, subject.Type)
	_, err = store.FindSubjectByNumber(ctx, 99)
	require.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.UpsertReview(ctx, 900, &github.PullRequestReview{ID: github.Ptr(int64(41)), State: github.Ptr("approved")}))
	require.NoError(t, store.UpsertIssueComment(ctx, activity.SubjectPullRequest, 8, &github.IssueComment{
		ID: github.Ptr(int64(31)), Body: github.Ptr("hi"),
		CreatedAt: &github.Timestamp{Time: base}, UpdatedAt: &github.Timestamp{Time: base},
	}))
	children, err := store.ListChildSubjects(ctx, activity.SubjectPullRequest, 8)
	require.NoError(t, err)
	require.Equal(t, []activity.Subject{
		{Type: activity.SubjectComment, ID: 31},
		{Type: activity.SubjectReview, ID: 41},
	}, children)

	refs, err := store.ListSubjectRefs(ctx, activity.SubjectIssue)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, 7, refs[0].Number)
	require.Equal(t, base.Add(time.Hour), refs[0].UpdatedAt)
}

func TestInitLoadsRepoID(t *testing.T) {
	store := setupStore(t)
	reopened := NewStore(store.DB())
	require.Zero(t, reopened.RepoID())
	require.NoError(t, reopened.Init(context.Background()))
	require.Equal(t, int64(1), reopened.RepoID())
}
