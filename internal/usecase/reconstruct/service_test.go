package reconstruct

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "ghchrono/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "ghchrono/internal/infrastructure/persistence/sqlite/uow"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *sqliterepo.Store) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "repo.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	store := sqliterepo.NewStore(db)
	if err := store.UpsertRepo(context.Background(), &github.Repository{
		ID: github.Ptr(int64(7)), Name: github.Ptr("r"), FullName: github.Ptr("o/r"),
		Owner: &github.User{ID: github.Ptr(int64(1)), Login: github.Ptr("o")},
	}); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	return NewService(store, sqliteuow.NewUnitOfWork(db)), store
}

func rec(subject activity.Subject, minutes int, eventType, label string) activity.EventRecord {
	r := activity.EventRecord{
		RepoID:      7,
		OccurredAt:  t0.Add(time.Duration(minutes) * time.Minute),
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		EventType:   eventType,
	}
	if label != "" {
		r.ObjectType = activity.ObjectLabel
		r.ObjectID = label
	}
	return r
}

func TestRebuildIsDeterministic(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 1}

	_, err := store.InsertEvents(ctx, []activity.EventRecord{
		rec(issue, 0, "issue.opened", ""),
		rec(issue, 1, "issue.label.add", "bug"),
		rec(issue, 1, "issue.label.add", "p1"),
		rec(issue, 4, "issue.label.remove", "bug"),
		rec(issue, 9, "issue.closed", ""),
	})
	require.NoError(t, err)

	_, err = svc.Rebuild(ctx, interval.All())
	require.NoError(t, err)
	first, err := store.ListAllIntervals(ctx)
	require.NoError(t, err)

	_, err = svc.Rebuild(ctx, interval.All())
	require.NoError(t, err)
	second, err := store.ListAllIntervals(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)

	open := 0
	for _, iv := range second {
		if iv.Family == interval.IssueState && iv.Open() {
			open++
		}
	}
	require.Equal(t, 1, open)
}

func TestScopedRebuildLeavesOtherSubjectsUntouched(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	a := activity.Subject{Type: activity.SubjectIssue, ID: 1}
	b := activity.Subject{Type: activity.SubjectIssue, ID: 2}

	_, err := store.InsertEvents(ctx, []activity.EventRecord{
		rec(a, 0, "issue.opened", ""),
		rec(b, 0, "issue.opened", ""),
		rec(b, 2, "issue.label.add", "bug"),
	})
	require.NoError(t, err)
	_, err = svc.Rebuild(ctx, interval.All())
	require.NoError(t, err)

	before, err := store.ListIntervals(ctx, interval.IssueLabel, b)
	require.NoError(t, err)

	_, err = store.InsertEvents(ctx, []activity.EventRecord{rec(a, 5, "issue.label.add", "docs")})
	require.NoError(t, err)
	stats, err := svc.Rebuild(ctx, interval.ScopeOf(a))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Events)

	after, err := store.ListIntervals(ctx, interval.IssueLabel, b)
	require.NoError(t, err)
	require.Equal(t, before, after)

	labels, err := store.ListIntervals(ctx, interval.IssueLabel, a)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.Equal(t, "docs", labels[0].ValueKey)
}

func TestRebuildEmptyScopeIsNoop(t *testing.T) {
	svc, _ := setupService(t)
	stats, err := svc.Rebuild(context.Background(), interval.ScopeOf())
	require.NoError(t, err)
	require.Zero(t, stats.Events)
}
