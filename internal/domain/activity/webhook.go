package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-github/v68/github"
)

// WebhookResult is the normalized form of one webhook delivery.
type WebhookResult struct {
	RepoID       int64
	RepoFullName string
	Records      []EventRecord
}

// Subjects returns the distinct subjects touched by the delivery, in first-seen order.
func (r WebhookResult) Subjects() []Subject {
	seen := make(map[Subject]struct{}, len(r.Records))
	subjects := make([]Subject, 0, len(r.Records))
	for _, rec := range r.Records {
		s := rec.Subject()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		subjects = append(subjects, s)
	}
	return subjects
}

type webhookExtras struct {
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
}

// NormalizeWebhook maps a GitHub webhook delivery onto the same event
// vocabulary the REST ingestion produces. receivedAt stamps actions whose
// payload carries no occurrence time of its own, such as deletions.
func NormalizeWebhook(eventType string, body []byte, receivedAt time.Time) (WebhookResult, error) {
	parsed, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrUnsupportedWebhook, err)
	}
	var extras webhookExtras
	if err := json.Unmarshal(body, &extras); err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrUnsupportedWebhook, err)
	}
	milestone := ""
	if extras.Milestone != nil {
		milestone = extras.Milestone.Title
	}
	receivedAt = receivedAt.UTC()

	switch e := parsed.(type) {
	case *github.IssuesEvent:
		repo := e.GetRepo()
		issue := e.GetIssue()
		subject := Subject{Type: SubjectIssue, ID: issue.GetID()}
		meta := TimelineMeta{Name: e.GetAction(), ActorID: userID(e.Sender), OccurredAt: timestampOr(issue.UpdatedAt, receivedAt)}
		var records []EventRecord
		switch e.GetAction() {
		case "opened":
			records = NormalizeIssue(repo.GetID(), issue, Hints{})
		case "edited":
			records = []EventRecord{newRecord(repo.GetID(), subject, meta.OccurredAt, meta.ActorID, TypeName(subject.Type, "content", "set"), map[string]any{
				"title": issue.GetTitle(),
				"body":  issue.GetBody(),
			})}
		case "closed":
			meta.OccurredAt = timestampOr(issue.ClosedAt, meta.OccurredAt)
			records = NormalizeTimeline(repo.GetID(), subject, Closed{TimelineMeta: meta})
		default:
			records = NormalizeTimeline(repo.GetID(), subject, issueLikeAction(meta, e.GetLabel(), e.GetAssignee(), milestone, body))
		}
		return WebhookResult{RepoID: repo.GetID(), RepoFullName: repo.GetFullName(), Records: records}, nil

	case *github.PullRequestEvent:
		repo := e.GetRepo()
		pr := e.GetPullRequest()
		subject := Subject{Type: SubjectPullRequest, ID: pr.GetID()}
		meta := TimelineMeta{Name: e.GetAction(), ActorID: userID(e.Sender), OccurredAt: timestampOr(pr.UpdatedAt, receivedAt)}
		var records []EventRecord
		switch e.GetAction() {
		case "opened":
			records = NormalizePullRequest(repo.GetID(), pr, Hints{})
		case "edited":
			records = []EventRecord{newRecord(repo.GetID(), subject, meta.OccurredAt, meta.ActorID, TypeName(subject.Type, "content", "set"), map[string]any{
				"title": pr.GetTitle(),
				"body":  pr.GetBody(),
			})}
		case "closed":
			if pr.GetMerged() {
				merged := meta
				merged.OccurredAt = timestampOr(pr.MergedAt, meta.OccurredAt)
				records = append(records, NormalizeTimeline(repo.GetID(), subject, Merged{TimelineMeta: merged, CommitID: pr.GetMergeCommitSHA()})...)
			}
			meta.OccurredAt = timestampOr(pr.ClosedAt, meta.OccurredAt)
			records = append(records, NormalizeTimeline(repo.GetID(), subject, Closed{TimelineMeta: meta})...)
		case "ready_for_review":
			records = NormalizeTimeline(repo.GetID(), subject, ReadyForReview{TimelineMeta: meta})
		case "converted_to_draft":
			records = NormalizeTimeline(repo.GetID(), subject, ConvertToDraft{TimelineMeta: meta})
		case "review_requested", "review_request_removed":
			reviewer := Reviewer{Type: ObjectUser, ID: e.GetRequestedReviewer().GetID(), Login: e.GetRequestedReviewer().GetLogin()}
			if team := e.GetRequestedTeam(); team.GetID() != 0 {
				reviewer = Reviewer{Type: ObjectTeam, ID: team.GetID(), Login: team.GetSlug()}
			}
			if e.GetAction() == "review_requested" {
				records = NormalizeTimeline(repo.GetID(), subject, ReviewRequested{TimelineMeta: meta, Reviewer: reviewer})
			} else {
				records = NormalizeTimeline(repo.GetID(), subject, ReviewRequestRemoved{TimelineMeta: meta, Reviewer: reviewer})
			}
		case "synchronize":
			rec := newRecord(repo.GetID(), subject, meta.OccurredAt, meta.ActorID, TypeName(subject.Type, "head", "set"), map[string]any{
				"head_sha": e.GetAfter(),
				"head_ref": pr.GetHead().GetRef(),
			})
			rec.CommitSHA = e.GetAfter()
			records = []EventRecord{rec}
		default:
			records = NormalizeTimeline(repo.GetID(), subject, issueLikeAction(meta, e.GetLabel(), e.GetAssignee(), milestone, body))
		}
		return WebhookResult{RepoID: repo.GetID(), RepoFullName: repo.GetFullName(), Records: records}, nil

	case *github.IssueCommentEvent:
		repo := e.GetRepo()
		issue := e.GetIssue()
		parentType := SubjectIssue
		if issue.IsPullRequest() {
			parentType = SubjectPullRequest
		}
		comment := e.GetComment()
		var records []EventRecord
		if e.GetAction() == "deleted" {
			records = []EventRecord{newRecord(repo.GetID(), Subject{Type: SubjectComment, ID: comment.GetID()}, receivedAt, userID(e.Sender), "comment.deleted", nil)}
		} else {
			records = NormalizeIssueComment(repo.GetID(), parentType, issue.GetNumber(), comment, commentHints(e.GetAction()))
		}
		return WebhookResult{RepoID: repo.GetID(), RepoFullName: repo.GetFullName(), Records: records}, nil

	case *github.PullRequestReviewCommentEvent:
		repo := e.GetRepo()
		comment := e.GetComment()
		var records []EventRecord
		if e.GetAction() == "deleted" {
			records = []EventRecord{newRecord(repo.GetID(), Subject{Type: SubjectReviewComment, ID: comment.GetID()}, receivedAt, userID(e.Sender), "comment.deleted", nil)}
		} else {
			records = NormalizeReviewComment(repo.GetID(), e.GetPullRequest().GetNumber(), comment, commentHints(e.GetAction()))
		}
		return WebhookResult{RepoID: repo.GetID(), RepoFullName: repo.GetFullName(), Records: records}, nil

	case *github.PullRequestReviewEvent:
		repo := e.GetRepo()
		review := e.GetReview()
		subject := Subject{Type: SubjectReview, ID: review.GetID()}
		var records []EventRecord
		switch e.GetAction() {
		case "submitted":
			records = NormalizeReview(repo.GetID(), e.GetPullRequest().GetNumber(), review)
		case "edited":
			records = []EventRecord{newRecord(repo.GetID(), subject, receivedAt, userID(e.Sender), "review.edited", map[string]any{
				"body": review.GetBody(),
			})}
		case "dismissed":
			records = []EventRecord{newRecord(repo.GetID(), subject, receivedAt, userID(e.Sender), "review.dismissed", map[string]any{
				"state": "DISMISSED",
			})}
		}
		return WebhookResult{RepoID: repo.GetID(), RepoFullName: repo.GetFullName(), Records: records}, nil
	}

	return WebhookResult{}, fmt.Errorf("%w: %s", ErrUnsupportedWebhook, eventType)
}

func issueLikeAction(meta TimelineMeta, label *github.Label, assignee *github.User, milestone string, raw []byte) TimelineEvent {
	switch meta.Name {
	case "labeled":
		return Labeled{TimelineMeta: meta, Label: label.GetName()}
	case "unlabeled":
		return Unlabeled{TimelineMeta: meta, Label: label.GetName()}
	case "assigned":
		return Assigned{TimelineMeta: meta, AssigneeID: assignee.GetID(), Login: assignee.GetLogin()}
	case "unassigned":
		return Unassigned{TimelineMeta: meta, AssigneeID: assignee.GetID(), Login: assignee.GetLogin()}
	case "milestoned":
		return Milestoned{TimelineMeta: meta, Title: milestone}
	case "demilestoned":
		return Demilestoned{TimelineMeta: meta, Title: milestone}
	case "reopened":
		return Reopened{TimelineMeta: meta}
	case "locked":
		return Locked{TimelineMeta: meta}
	}
	return UnknownTimelineEvent{TimelineMeta: meta, Raw: append(json.RawMessage(nil), raw...)}
}

// commentHints treats every action but creation as arriving for a comment
// whose creation is already known.
func commentHints(action string) Hints {
	return Hints{Recorded: action != "created"}
}

func timestampOr(ts *github.Timestamp, fallback time.Time) time.Time {
	if ts == nil || ts.Time.IsZero() {
		return fallback
	}
	return ts.Time.UTC()
}
