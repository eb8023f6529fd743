package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
)

type memoryStore struct {
	repoID int64
	keys   map[string]struct{}
}

func (m *memoryStore) RepoID() int64 { return m.repoID }

func (m *memoryStore) InsertEvents(_ context.Context, records []activity.EventRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		key, err := rec.Key()
		if err != nil {
			return 0, err
		}
		if _, ok := m.keys[key]; ok {
			continue
		}
		m.keys[key] = struct{}{}
		inserted++
	}
	return inserted, nil
}

type directUnitOfWork struct{}

func (directUnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingRebuilder struct {
	scopes []interval.Scope
}

func (r *recordingRebuilder) Rebuild(_ context.Context, scope interval.Scope) (interval.Stats, error) {
	r.scopes = append(r.scopes, scope)
	return interval.Stats{Events: scope.Len()}, nil
}

const labeledIssue = `{
	"action": "labeled",
	"issue": {"id": 301, "number": 4, "updated_at": "2024-05-01T12:00:00Z"},
	"label": {"name": "bug"},
	"repository": {"id": 1, "full_name": "octo/hello"},
	"sender": {"id": 9}
}`

func TestApplyInsertsAndRebuildsTouchedSubjects(t *testing.T) {
	store := &memoryStore{repoID: 1, keys: map[string]struct{}{}}
	rebuilder := &recordingRebuilder{}
	svc := NewService(store, directUnitOfWork{}, rebuilder)

	delivery, err := activity.NormalizeWebhook("issues", []byte(labeledIssue), time.Now())
	require.NoError(t, err)

	outcome, err := svc.Apply(context.Background(), delivery)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Inserted)
	require.Len(t, rebuilder.scopes, 1)
	require.True(t, rebuilder.scopes[0].Contains(activity.Subject{Type: activity.SubjectIssue, ID: 301}))
	require.Equal(t, 1, rebuilder.scopes[0].Len())

	// redelivery is a no-op
	outcome, err = svc.Apply(context.Background(), delivery)
	require.NoError(t, err)
	require.Zero(t, outcome.Inserted)
	require.Len(t, rebuilder.scopes, 1)
}

func TestApplyRejectsOtherRepository(t *testing.T) {
	svc := NewService(&memoryStore{repoID: 2, keys: map[string]struct{}{}}, directUnitOfWork{}, &recordingRebuilder{})
	delivery, err := activity.NormalizeWebhook("issues", []byte(labeledIssue), time.Now())
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), delivery)
	require.True(t, errors.Is(err, ErrRepoMismatch))
}
