package activity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"
)

func TestParseRepoRef(t *testing.T) {
	for _, in := range []string{"octo/hello", " https://github.com/octo/hello.git ", "github.com/octo/hello/"} {
		ref, err := ParseRepoRef(in)
		require.NoError(t, err, in)
		require.Equal(t, "octo/hello", ref.FullName())
	}

	_, err := ParseRepoRef("")
	require.ErrorIs(t, err, ErrRepoRefRequired)
	_, err = ParseRepoRef("octo")
	require.ErrorIs(t, err, ErrInvalidRepoRef)
	_, err = ParseRepoRef("octo/a/b")
	require.ErrorIs(t, err, ErrInvalidRepoRef)
}

func TestEventKeyIsDeterministicAndFieldSensitive(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	actor := int64(7)
	base := EventRecord{
		RepoID: 1, OccurredAt: at, ActorID: &actor,
		SubjectType: SubjectIssue, SubjectID: 42, EventType: "issue.content.set",
		Payload: map[string]any{"title": "a", "body": "b"},
	}

	k1, err := base.Key()
	require.NoError(t, err)
	require.Len(t, k1, 64)

	reordered := base
	reordered.Payload = map[string]any{"body": "b", "title": "a"}
	reordered.OccurredAt = at.In(time.FixedZone("CET", 3600))
	k2, err := reordered.Key()
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	changed := base
	changed.Payload = map[string]any{"title": "a", "body": "c"}
	k3, err := changed.Key()
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	noActor := base
	noActor.ActorID = nil
	k4, err := noActor.Key()
	require.NoError(t, err)
	require.NotEqual(t, k1, k4)
}

func TestParseTimelineEventVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"id":1,"event":"labeled","created_at":"2024-01-01T00:00:00Z","actor":{"id":9},"label":{"name":"bug"}}`, Labeled{}},
		{`{"id":2,"event":"review_requested","created_at":"2024-01-01T00:00:00Z","requested_team":{"id":5,"slug":"core"}}`, ReviewRequested{}},
		{`{"id":3,"event":"ready_for_review","created_at":"2024-01-01T00:00:00Z"}`, ReadyForReview{}},
		{`{"id":4,"event":"mentioned","created_at":"2024-01-01T00:00:00Z"}`, Marker{}},
		{`{"id":5,"event":"sparkled","created_at":"2024-01-01T00:00:00Z","glitter":true}`, UnknownTimelineEvent{}},
	}
	for _, tc := range cases {
		ev, err := ParseTimelineEvent(json.RawMessage(tc.raw))
		require.NoError(t, err, tc.raw)
		require.IsType(t, tc.want, ev, tc.raw)
	}

	ev, err := ParseTimelineEvent(json.RawMessage(cases[1].raw))
	require.NoError(t, err)
	rr := ev.(ReviewRequested)
	require.Equal(t, Reviewer{Type: ObjectTeam, ID: 5, Login: "core"}, rr.Reviewer)

	_, err = ParseTimelineEvent(json.RawMessage(`{"id":6,"created_at":"2024-01-01T00:00:00Z"}`))
	require.True(t, errors.Is(err, ErrInvalidTimeline))
}

func TestNormalizeTimelineKeepsUnknownEvents(t *testing.T) {
	raw := `{"id":5,"event":"sparkled","created_at":"2024-01-01T00:00:00Z","glitter":true}`
	ev, err := ParseTimelineEvent(json.RawMessage(raw))
	require.NoError(t, err)

	records := NormalizeTimeline(1, Subject{Type: SubjectPullRequest, ID: 77}, ev)
	require.Len(t, records, 1)
	require.Equal(t, "pull_request.event.sparkled", records[0].EventType)
	payload := records[0].Payload["raw"].(map[string]any)
	require.Equal(t, true, payload["glitter"])
}

func TestNormalizeTimelinePrefixesBySubject(t *testing.T) {
	meta := TimelineMeta{Name: "labeled", OccurredAt: time.Unix(100, 0)}
	issue := NormalizeTimeline(1, Subject{Type: SubjectIssue, ID: 1}, Labeled{TimelineMeta: meta, Label: "bug"})
	pr := NormalizeTimeline(1, Subject{Type: SubjectPullRequest, ID: 2}, Labeled{TimelineMeta: meta, Label: "bug"})
	require.Equal(t, "issue.label.add", issue[0].EventType)
	require.Equal(t, "pull_request.label.add", pr[0].EventType)
	require.Equal(t, ObjectLabel, pr[0].ObjectType)
	require.Equal(t, "bug", pr[0].ObjectID)

	removed := NormalizeTimeline(1, Subject{Type: SubjectPullRequest, ID: 2}, ReviewRequestRemoved{
		TimelineMeta: TimelineMeta{Name: "review_request_removed", OccurredAt: time.Unix(200, 0)},
		Reviewer:     Reviewer{Type: ObjectUser, ID: 11, Login: "bob"},
	})
	require.Equal(t, "pull_request.review_request.remove", removed[0].EventType)
	require.Equal(t, "11", removed[0].ObjectID)
}

func TestNormalizeIssueCommentEmitsEditOnlyWhenUpdated(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	unedited := &github.IssueComment{
		ID: github.Ptr(int64(3)), Body: github.Ptr("hi"),
		CreatedAt: &github.Timestamp{Time: created}, UpdatedAt: &github.Timestamp{Time: created},
	}
	records := NormalizeIssueComment(1, SubjectIssue, 4, unedited, Hints{})
	require.Len(t, records, 1)
	require.Equal(t, "comment.created", records[0].EventType)

	edited := *unedited
	edited.UpdatedAt = &github.Timestamp{Time: created.Add(time.Minute)}
	records = NormalizeIssueComment(1, SubjectIssue, 4, &edited, Hints{})
	require.Len(t, records, 2)
	require.Equal(t, "comment.edited", records[1].EventType)
	require.Equal(t, created.Add(time.Minute), records[1].OccurredAt)
}

func TestNormalizeRecordedCommentSkipsCreation(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &github.IssueComment{
		ID: github.Ptr(int64(3)), Body: github.Ptr("edited"),
		CreatedAt: &github.Timestamp{Time: created}, UpdatedAt: &github.Timestamp{Time: created.Add(time.Hour)},
	}
	records := NormalizeIssueComment(1, SubjectIssue, 4, c, Hints{Recorded: true})
	require.Len(t, records, 1)
	require.Equal(t, "comment.edited", records[0].EventType)
	require.Equal(t, created.Add(time.Hour), records[0].OccurredAt)

	rc := &github.PullRequestComment{
		ID: github.Ptr(int64(5)), Body: github.Ptr("nit"), CommitID: github.Ptr("abc"),
		CreatedAt: &github.Timestamp{Time: created}, UpdatedAt: &github.Timestamp{Time: created},
	}
	require.Empty(t, NormalizeReviewComment(1, 4, rc, Hints{Recorded: true}))
}

func TestNormalizeRecordedIssueMovesContentToUpdatedAt(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	issue := &github.Issue{
		ID: github.Ptr(int64(700)), Number: github.Ptr(1), Title: github.Ptr("Bug"), Body: github.Ptr("edited body"),
		CreatedAt: &github.Timestamp{Time: t0}, UpdatedAt: &github.Timestamp{Time: t0.Add(90 * time.Minute)},
	}
	fresh := NormalizeIssue(1, issue, Hints{})
	require.Len(t, fresh, 3)
	require.Equal(t, t0, fresh[1].OccurredAt)
	require.Equal(t, t0.Add(90*time.Minute), fresh[2].OccurredAt)

	records := NormalizeIssue(1, issue, Hints{Recorded: true})
	require.Len(t, records, 1)
	require.Equal(t, "issue.content.set", records[0].EventType)
	require.Equal(t, t0.Add(90*time.Minute), records[0].OccurredAt)
	require.Equal(t, "edited body", records[0].Payload["body"])

	untouched := *issue
	untouched.UpdatedAt = &github.Timestamp{Time: t0}
	require.Empty(t, NormalizeIssue(1, &untouched, Hints{Recorded: true}))
}

func TestNormalizeRecordedPullRequestSkipsCreation(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pr := &github.PullRequest{
		ID: github.Ptr(int64(900)), Number: github.Ptr(12), Title: github.Ptr("T"), Body: github.Ptr("B"),
		CreatedAt: &github.Timestamp{Time: t0}, UpdatedAt: &github.Timestamp{Time: t0.Add(time.Hour)},
		Head: &github.PullRequestBranch{SHA: github.Ptr("abc123"), Ref: github.Ptr("feature")},
	}
	records := NormalizePullRequest(1, pr, Hints{Recorded: true})
	require.Len(t, records, 2)
	require.Equal(t, "pull_request.content.set", records[0].EventType)
	require.Equal(t, t0.Add(time.Hour), records[0].OccurredAt)
	require.Equal(t, "pull_request.head.set", records[1].EventType)
}

func TestNormalizePullRequestUsesHints(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pr := &github.PullRequest{
		ID: github.Ptr(int64(900)), Number: github.Ptr(12), Title: github.Ptr("Final title"),
		Draft:     github.Ptr(false),
		CreatedAt: &github.Timestamp{Time: t0}, UpdatedAt: &github.Timestamp{Time: t0.Add(time.Hour)},
		Head: &github.PullRequestBranch{SHA: github.Ptr("abc123"), Ref: github.Ptr("feature")},
	}
	hints := InferHints([]TimelineEvent{
		Renamed{TimelineMeta: TimelineMeta{Name: "renamed"}, From: "WIP", To: "Final title"},
		ReadyForReview{TimelineMeta: TimelineMeta{Name: "ready_for_review"}},
		ConvertToDraft{TimelineMeta: TimelineMeta{Name: "convert_to_draft"}},
	})

	records := NormalizePullRequest(1, pr, hints)
	require.Len(t, records, 5)
	require.Equal(t, "pull_request.opened", records[0].EventType)
	require.Equal(t, "WIP", records[1].Payload["title"])
	require.Equal(t, true, records[2].Payload["is_draft"])
	require.Equal(t, "Final title", records[3].Payload["title"])
	require.Equal(t, t0.Add(time.Hour), records[3].OccurredAt)
	require.Equal(t, "pull_request.head.set", records[4].EventType)
	require.Equal(t, t0.Add(time.Hour), records[4].OccurredAt)
	require.Equal(t, "abc123", records[4].CommitSHA)
}

func TestNormalizeReviewSkipsPending(t *testing.T) {
	pending := &github.PullRequestReview{ID: github.Ptr(int64(1)), State: github.Ptr("PENDING")}
	require.Empty(t, NormalizeReview(1, 2, pending))

	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	submitted := &github.PullRequestReview{
		ID: github.Ptr(int64(1)), State: github.Ptr("approved"), CommitID: github.Ptr("def"),
		SubmittedAt: &github.Timestamp{Time: at},
	}
	records := NormalizeReview(1, 2, submitted)
	require.Len(t, records, 1)
	require.Equal(t, "review.submitted", records[0].EventType)
	require.Equal(t, "APPROVED", records[0].Payload["state"])
}

func TestNormalizeWebhookPullRequestReadyForReview(t *testing.T) {
	body := []byte(`{
		"action": "ready_for_review",
		"pull_request": {"id": 900, "number": 12, "updated_at": "2024-05-01T12:10:00Z"},
		"repository": {"id": 1, "full_name": "octo/hello"},
		"sender": {"id": 9}
	}`)
	result, err := NormalizeWebhook("pull_request", body, time.Now())
	require.NoError(t, err)
	require.Equal(t, "octo/hello", result.RepoFullName)
	require.Len(t, result.Records, 1)
	require.Equal(t, "pull_request.draft.set", result.Records[0].EventType)
	require.Equal(t, false, result.Records[0].Payload["is_draft"])
	require.Equal(t, []Subject{{Type: SubjectPullRequest, ID: 900}}, result.Subjects())

	_, err = NormalizeWebhook("star", []byte(`{"action":"created"}`), time.Now())
	require.ErrorIs(t, err, ErrUnsupportedWebhook)
}

func TestNormalizeWebhookRejectsMalformedMilestone(t *testing.T) {
	body := []byte(`{
		"action": "submitted",
		"milestone": "v1",
		"review": {"id": 5, "state": "approved", "submitted_at": "2024-05-01T12:10:00Z"},
		"pull_request": {"id": 900, "number": 12},
		"repository": {"id": 1, "full_name": "octo/hello"}
	}`)
	_, err := NormalizeWebhook("pull_request_review", body, time.Now())
	require.ErrorIs(t, err, ErrUnsupportedWebhook)
}

func TestNormalizeWebhookEditedCommentSkipsCreation(t *testing.T) {
	body := []byte(`{
		"action": "edited",
		"comment": {"id": 31, "body": "after", "created_at": "2024-05-01T12:00:00Z", "updated_at": "2024-05-01T13:00:00Z"},
		"issue": {"id": 700, "number": 1},
		"repository": {"id": 1, "full_name": "octo/hello"}
	}`)
	result, err := NormalizeWebhook("issue_comment", body, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, "comment.edited", result.Records[0].EventType)
	require.Equal(t, "after", result.Records[0].Payload["body"])
}
