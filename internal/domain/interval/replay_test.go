package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ev(id int64, minutes int, subject activity.Subject, eventType string, mutate ...func(*activity.EventRecord)) Event {
	rec := activity.EventRecord{
		RepoID:      1,
		OccurredAt:  t0.Add(time.Duration(minutes) * time.Minute),
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		EventType:   eventType,
	}
	for _, fn := range mutate {
		fn(&rec)
	}
	return Event{ID: id, EventRecord: rec}
}

func object(objectType, objectID string) func(*activity.EventRecord) {
	return func(r *activity.EventRecord) {
		r.ObjectType = objectType
		r.ObjectID = objectID
	}
}

func payload(kv map[string]any) func(*activity.EventRecord) {
	return func(r *activity.EventRecord) { r.Payload = kv }
}

func byFamily(intervals []Interval, family Family) []Interval {
	var out []Interval
	for _, iv := range intervals {
		if iv.Family == family {
			out = append(out, iv)
		}
	}
	return out
}

func TestReplaySingleValuedClosesPrior(t *testing.T) {
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}
	result, err := Replay([]Event{
		ev(1, 0, issue, "issue.opened"),
		ev(2, 0, issue, "issue.content.set", payload(map[string]any{"title": "a", "body": "b"})),
		ev(3, 5, issue, "issue.content.set", payload(map[string]any{"title": "renamed"})),
		ev(4, 9, issue, "issue.closed"),
	})
	require.NoError(t, err)

	content := byFamily(result.Intervals, IssueContent)
	require.Len(t, content, 2)
	require.Equal(t, int64(3), *content[0].EndEventID)
	require.Equal(t, Value{Title: "renamed", Body: "b"}, content[1].Value)
	require.True(t, content[1].Open())

	state := byFamily(result.Intervals, IssueState)
	require.Len(t, state, 2)
	require.Equal(t, StateOpen, state[0].Value.State)
	require.Equal(t, StateClosed, state[1].Value.State)
}

func TestReplaySetValuedTracksEachValue(t *testing.T) {
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}
	result, err := Replay([]Event{
		ev(1, 1, issue, "issue.label.add", object(activity.ObjectLabel, "bug")),
		ev(2, 2, issue, "issue.label.add", object(activity.ObjectLabel, "ui")),
		ev(3, 3, issue, "issue.label.remove", object(activity.ObjectLabel, "bug")),
		ev(4, 4, issue, "issue.label.remove", object(activity.ObjectLabel, "never-added")),
	})
	require.NoError(t, err)

	labels := byFamily(result.Intervals, IssueLabel)
	require.Len(t, labels, 2)
	require.Equal(t, "bug", labels[0].ValueKey)
	require.Equal(t, int64(3), *labels[0].EndEventID)
	require.Equal(t, "ui", labels[1].ValueKey)
	require.True(t, labels[1].Open())
	require.Equal(t, 1, result.Stats.OrphanRemoves)
}

func TestReplayMilestoneIsSingleSlot(t *testing.T) {
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}
	result, err := Replay([]Event{
		ev(1, 1, issue, "issue.milestone.add", object(activity.ObjectMilestone, "v1")),
		ev(2, 2, issue, "issue.milestone.add", object(activity.ObjectMilestone, "v2")),
		ev(3, 3, issue, "issue.milestone.remove", object(activity.ObjectMilestone, "v1")),
	})
	require.NoError(t, err)

	slots := byFamily(result.Intervals, IssueMilestone)
	require.Len(t, slots, 2)
	require.Equal(t, int64(2), *slots[0].EndEventID)
	require.True(t, slots[1].Open())
	require.Equal(t, "v2", slots[1].ValueKey)
	require.Equal(t, 1, result.Stats.OrphanRemoves)
}

func TestReplayCloseAfterMergeKeepsMerged(t *testing.T) {
	pr := activity.Subject{Type: activity.SubjectPullRequest, ID: 20}
	result, err := Replay([]Event{
		ev(1, 0, pr, "pull_request.opened"),
		ev(2, 5, pr, "pull_request.merged"),
		ev(3, 5, pr, "pull_request.closed"),
	})
	require.NoError(t, err)

	state := byFamily(result.Intervals, IssueState)
	require.Len(t, state, 2)
	require.Equal(t, StateMerged, state[1].Value.State)
	require.True(t, state[1].Open())
}

func TestReplayCommentDeleteClosesWithoutReplacement(t *testing.T) {
	comment := activity.Subject{Type: activity.SubjectComment, ID: 30}
	result, err := Replay([]Event{
		ev(1, 0, comment, "comment.created", payload(map[string]any{"body": "hi"})),
		ev(2, 1, comment, "comment.edited", payload(map[string]any{"body": "hello"})),
		ev(3, 2, comment, "comment.deleted"),
	})
	require.NoError(t, err)

	content := byFamily(result.Intervals, CommentContent)
	require.Len(t, content, 2)
	for _, iv := range content {
		require.False(t, iv.Open())
	}
	require.Equal(t, "hello", content[1].Value.Body)
}

func TestReplayOrdersByTimeThenID(t *testing.T) {
	pr := activity.Subject{Type: activity.SubjectPullRequest, ID: 20}
	events := []Event{
		ev(5, 10, pr, "pull_request.draft.set", payload(map[string]any{"is_draft": false})),
		ev(2, 0, pr, "pull_request.draft.set", payload(map[string]any{"is_draft": true})),
	}
	result, err := Replay(events)
	require.NoError(t, err)

	drafts := byFamily(result.Intervals, PRDraft)
	require.Len(t, drafts, 2)
	require.True(t, drafts[0].Value.IsDraft)
	require.Equal(t, int64(5), *drafts[0].EndEventID)
	require.False(t, drafts[1].Value.IsDraft)
	// input left untouched
	require.Equal(t, int64(5), events[0].ID)
}

func TestReplayIsDeterministic(t *testing.T) {
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}
	pr := activity.Subject{Type: activity.SubjectPullRequest, ID: 20}
	events := []Event{
		ev(1, 0, pr, "pull_request.opened"),
		ev(2, 0, pr, "pull_request.review_request.add", object(activity.ObjectUser, "7")),
		ev(3, 0, issue, "issue.opened"),
		ev(4, 3, issue, "issue.assignee.add", object(activity.ObjectUser, "7")),
		ev(5, 3, pr, "pull_request.review_request.add", object(activity.ObjectTeam, "7")),
		ev(6, 8, pr, "pull_request.review_request.remove", object(activity.ObjectUser, "7")),
	}
	first, err := Replay(events)
	require.NoError(t, err)

	reversed := make([]Event, len(events))
	for i := range events {
		reversed[len(events)-1-i] = events[i]
	}
	second, err := Replay(reversed)
	require.NoError(t, err)
	require.Equal(t, first, second)

	requests := byFamily(first.Intervals, PRReviewRequest)
	require.Len(t, requests, 2)
	require.Equal(t, "team:7", requests[0].ValueKey)
	require.True(t, requests[0].Open())
	require.Equal(t, "user:7", requests[1].ValueKey)
	require.Equal(t, int64(6), *requests[1].EndEventID)
}

func TestReplayIgnoresUntrackedEvents(t *testing.T) {
	issue := activity.Subject{Type: activity.SubjectIssue, ID: 10}
	result, err := Replay([]Event{
		ev(1, 0, issue, "issue.event.sparkled"),
		ev(2, 0, issue, "issue.draft.set"),
		ev(3, 0, activity.Subject{Type: activity.SubjectRelease, ID: 1}, "release.published"),
	})
	require.NoError(t, err)
	require.Empty(t, result.Intervals)
	require.Equal(t, 3, result.Stats.Ignored)
}

func TestValidateRejectsTwoOpenIntervals(t *testing.T) {
	err := Validate([]Interval{
		{Family: PRDraft, SubjectType: activity.SubjectPullRequest, SubjectID: 1, StartEventID: 1},
		{Family: PRDraft, SubjectType: activity.SubjectPullRequest, SubjectID: 1, StartEventID: 2},
	})
	require.Error(t, err)
	require.True(t, errs.IsInvariant(err))

	require.NoError(t, Validate([]Interval{
		{Family: IssueLabel, SubjectType: activity.SubjectIssue, SubjectID: 1, ValueKey: "a", StartEventID: 1},
		{Family: IssueLabel, SubjectType: activity.SubjectIssue, SubjectID: 1, ValueKey: "b", StartEventID: 2},
	}))
}

func TestScope(t *testing.T) {
	s := ScopeOf(
		activity.Subject{Type: activity.SubjectIssue, ID: 3},
		activity.Subject{Type: activity.SubjectIssue, ID: 1},
		activity.Subject{Type: activity.SubjectReview, ID: 9},
	)
	require.False(t, s.IsAll())
	require.Equal(t, map[string][]int64{"issue": {1, 3}, "review": {9}}, s.IDsByType())
	require.True(t, s.Contains(activity.Subject{Type: activity.SubjectReview, ID: 9}))
	require.False(t, s.Contains(activity.Subject{Type: activity.SubjectReview, ID: 1}))

	s.Merge(All())
	require.True(t, s.IsAll())
	require.True(t, s.Contains(activity.Subject{Type: "anything", ID: 1}))
}
