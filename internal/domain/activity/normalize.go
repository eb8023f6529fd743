package activity

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// Hints carries facts about a subject's creation-time values that only its
// later timeline reveals.
type Hints struct {
	InitialTitle *string
	InitialDraft *bool
	// Recorded marks a subject whose creation records are already stored, so
	// only the records observed at the snapshot's updated_at are emitted.
	Recorded bool
}

// InferHints derives creation-time values from a subject's timeline: the first
// rename's "from" is the original title, and the first draft toggle reveals
// the draft flag the pull request was opened with.
func InferHints(events []TimelineEvent) Hints {
	var hints Hints
	for _, ev := range events {
		switch e := ev.(type) {
		case Renamed:
			if hints.InitialTitle == nil {
				from := e.From
				hints.InitialTitle = &from
			}
		case ReadyForReview:
			if hints.InitialDraft == nil {
				draft := true
				hints.InitialDraft = &draft
			}
		case ConvertToDraft:
			if hints.InitialDraft == nil {
				draft := false
				hints.InitialDraft = &draft
			}
		}
	}
	return hints
}

func NormalizeIssue(repoID int64, issue *github.Issue, hints Hints) []EventRecord {
	if issue == nil || issue.CreatedAt == nil {
		return nil
	}
	subject := Subject{Type: SubjectIssue, ID: issue.GetID()}
	at := issue.GetCreatedAt().Time.UTC()
	actor := userID(issue.User)

	title := issue.GetTitle()
	if hints.InitialTitle != nil {
		title = *hints.InitialTitle
	}

	var records []EventRecord
	if !hints.Recorded {
		records = []EventRecord{
			newRecord(repoID, subject, at, actor, TypeName(subject.Type, "opened"), map[string]any{
				"number": issue.GetNumber(),
			}),
			newRecord(repoID, subject, at, actor, TypeName(subject.Type, "content", "set"), map[string]any{
				"title": title,
				"body":  issue.GetBody(),
			}),
		}
	}
	return append(records, laterContent(repoID, subject, at, issue.UpdatedAt, issue.GetTitle(), issue.GetBody())...)
}

func NormalizePullRequest(repoID int64, pr *github.PullRequest, hints Hints) []EventRecord {
	if pr == nil || pr.CreatedAt == nil {
		return nil
	}
	subject := Subject{Type: SubjectPullRequest, ID: pr.GetID()}
	at := pr.GetCreatedAt().Time.UTC()
	actor := userID(pr.User)

	title := pr.GetTitle()
	if hints.InitialTitle != nil {
		title = *hints.InitialTitle
	}
	draft := pr.GetDraft()
	if hints.InitialDraft != nil {
		draft = *hints.InitialDraft
	}

	var records []EventRecord
	if !hints.Recorded {
		records = prCreation(repoID, subject, at, actor, pr, title, draft)
	}
	records = append(records, laterContent(repoID, subject, at, pr.UpdatedAt, pr.GetTitle(), pr.GetBody())...)

	// The head SHA is only observed as of the snapshot's updated_at.
	if sha := pr.GetHead().GetSHA(); sha != "" {
		observed := at
		if pr.UpdatedAt != nil {
			observed = pr.GetUpdatedAt().Time.UTC()
		}
		head := newRecord(repoID, subject, observed, nil, TypeName(subject.Type, "head", "set"), map[string]any{
			"head_sha": sha,
			"head_ref": pr.GetHead().GetRef(),
		})
		head.CommitSHA = sha
		records = append(records, head)
	}
	return records
}

func prCreation(repoID int64, subject Subject, at time.Time, actor *int64, pr *github.PullRequest, title string, draft bool) []EventRecord {
	return []EventRecord{
		newRecord(repoID, subject, at, actor, TypeName(subject.Type, "opened"), map[string]any{
			"number":   pr.GetNumber(),
			"base_ref": pr.GetBase().GetRef(),
			"base_sha": pr.GetBase().GetSHA(),
		}),
		newRecord(repoID, subject, at, actor, TypeName(subject.Type, "content", "set"), map[string]any{
			"title": title,
			"body":  pr.GetBody(),
		}),
		newRecord(repoID, subject, at, actor, TypeName(subject.Type, "draft", "set"), map[string]any{
			"is_draft": draft,
		}),
	}
}

// laterContent records the fetched title and body at the snapshot's
// updated_at; a snapshot never updated after creation yields nothing.
func laterContent(repoID int64, subject Subject, created time.Time, updated *github.Timestamp, title, body string) []EventRecord {
	if updated == nil || !updated.Time.After(created) {
		return nil
	}
	return []EventRecord{
		newRecord(repoID, subject, updated.Time.UTC(), nil, TypeName(subject.Type, "content", "set"), map[string]any{
			"title": title,
			"body":  body,
		}),
	}
}

// NormalizeTimeline maps one timeline event of an issue or pull request.
func NormalizeTimeline(repoID int64, subject Subject, ev TimelineEvent) []EventRecord {
	if ev == nil {
		return nil
	}
	meta := ev.Meta()
	at := meta.OccurredAt.UTC()
	p := subject.Type
	rec := func(eventType string, payload map[string]any) EventRecord {
		return newRecord(repoID, subject, at, meta.ActorID, eventType, payload)
	}
	withObject := func(r EventRecord, objectType, objectID string) EventRecord {
		r.ObjectType = objectType
		r.ObjectID = objectID
		return r
	}

	switch e := ev.(type) {
	case Labeled:
		return []EventRecord{withObject(rec(TypeName(p, "label", "add"), nil), ObjectLabel, e.Label)}
	case Unlabeled:
		return []EventRecord{withObject(rec(TypeName(p, "label", "remove"), nil), ObjectLabel, e.Label)}
	case Assigned:
		r := rec(TypeName(p, "assignee", "add"), map[string]any{"login": e.Login})
		return []EventRecord{withObject(r, ObjectUser, formatID(e.AssigneeID))}
	case Unassigned:
		r := rec(TypeName(p, "assignee", "remove"), map[string]any{"login": e.Login})
		return []EventRecord{withObject(r, ObjectUser, formatID(e.AssigneeID))}
	case Milestoned:
		return []EventRecord{withObject(rec(TypeName(p, "milestone", "add"), nil), ObjectMilestone, e.Title)}
	case Demilestoned:
		return []EventRecord{withObject(rec(TypeName(p, "milestone", "remove"), nil), ObjectMilestone, e.Title)}
	case Closed:
		r := rec(TypeName(p, "closed"), nil)
		r.CommitSHA = e.CommitID
		return []EventRecord{r}
	case Reopened:
		return []EventRecord{rec(TypeName(p, "reopened"), nil)}
	case Merged:
		r := rec(TypeName(p, "merged"), nil)
		r.CommitSHA = e.CommitID
		return []EventRecord{r}
	case Renamed:
		return []EventRecord{rec(TypeName(p, "content", "set"), map[string]any{"title": e.To, "from": e.From})}
	case ReviewRequested:
		r := rec(TypeName(p, "review_request", "add"), map[string]any{"login": e.Reviewer.Login})
		return []EventRecord{withObject(r, e.Reviewer.Type, formatID(e.Reviewer.ID))}
	case ReviewRequestRemoved:
		r := rec(TypeName(p, "review_request", "remove"), map[string]any{"login": e.Reviewer.Login})
		return []EventRecord{withObject(r, e.Reviewer.Type, formatID(e.Reviewer.ID))}
	case ReadyForReview:
		return []EventRecord{rec(TypeName(p, "draft", "set"), map[string]any{"is_draft": false})}
	case ConvertToDraft:
		return []EventRecord{rec(TypeName(p, "draft", "set"), map[string]any{"is_draft": true})}
	case HeadRefForcePushed:
		r := rec(TypeName(p, "head", "set"), map[string]any{"head_sha": e.CommitID, "force_pushed": true})
		r.CommitSHA = e.CommitID
		return []EventRecord{r}
	case ReviewDismissed:
		if e.ReviewID == 0 {
			return []EventRecord{rec(TypeName(p, meta.Name), map[string]any{"message": e.Message})}
		}
		review := Subject{Type: SubjectReview, ID: e.ReviewID}
		r := newRecord(repoID, review, at, meta.ActorID, TypeName(SubjectReview, "dismissed"), map[string]any{
			"state":       "DISMISSED",
			"message":     e.Message,
			"parent_type": subject.Type,
			"parent_id":   subject.ID,
		})
		return []EventRecord{r}
	case Locked:
		return []EventRecord{rec(TypeName(p, "locked"), map[string]any{"reason": e.Reason})}
	case Marker:
		r := rec(TypeName(p, meta.Name), nil)
		r.CommitSHA = e.CommitID
		return []EventRecord{r}
	case UnknownTimelineEvent:
		payload := map[string]any{}
		if len(e.Raw) > 0 {
			var raw any
			if err := json.Unmarshal(e.Raw, &raw); err == nil {
				payload["raw"] = raw
			} else {
				payload["raw"] = string(e.Raw)
			}
		}
		return []EventRecord{rec(TypeName(p, "event", meta.Name), payload)}
	}
	return nil
}

// NormalizeIssueComment emits comment.created, plus comment.edited when the
// comment was updated strictly after creation. A recorded comment only gets
// the edit.
func NormalizeIssueComment(repoID int64, parentType string, parentNumber int, c *github.IssueComment, hints Hints) []EventRecord {
	if c == nil || c.CreatedAt == nil {
		return nil
	}
	subject := Subject{Type: SubjectComment, ID: c.GetID()}
	payload := map[string]any{
		"body":          c.GetBody(),
		"parent_type":   parentType,
		"parent_number": parentNumber,
	}
	var updated *time.Time
	if c.UpdatedAt != nil {
		t := c.GetUpdatedAt().Time
		updated = &t
	}
	return commentRecords(repoID, subject, userID(c.User), c.GetCreatedAt().Time, updated, c.GetBody(), payload, hints.Recorded)
}

func NormalizeReviewComment(repoID int64, parentNumber int, c *github.PullRequestComment, hints Hints) []EventRecord {
	if c == nil || c.CreatedAt == nil {
		return nil
	}
	subject := Subject{Type: SubjectReviewComment, ID: c.GetID()}
	payload := map[string]any{
		"body":          c.GetBody(),
		"parent_type":   SubjectPullRequest,
		"parent_number": parentNumber,
		"path":          c.GetPath(),
		"review_id":     c.GetPullRequestReviewID(),
	}
	var updated *time.Time
	if c.UpdatedAt != nil {
		t := c.GetUpdatedAt().Time
		updated = &t
	}
	records := commentRecords(repoID, subject, userID(c.User), c.GetCreatedAt().Time, updated, c.GetBody(), payload, hints.Recorded)
	for i := range records {
		records[i].CommitSHA = c.GetCommitID()
	}
	return records
}

func commentRecords(repoID int64, subject Subject, actor *int64, created time.Time, updated *time.Time, body string, payload map[string]any, recorded bool) []EventRecord {
	var records []EventRecord
	if !recorded {
		records = append(records, newRecord(repoID, subject, created.UTC(), actor, "comment.created", payload))
	}
	if updated != nil && updated.After(created) {
		records = append(records, newRecord(repoID, subject, updated.UTC(), actor, "comment.edited", map[string]any{
			"body": body,
		}))
	}
	return records
}

// NormalizeReview emits review.submitted for a submitted review; pending
// reviews have not happened yet and produce nothing.
func NormalizeReview(repoID int64, parentNumber int, r *github.PullRequestReview) []EventRecord {
	if r == nil || r.SubmittedAt == nil || strings.EqualFold(r.GetState(), "PENDING") {
		return nil
	}
	subject := Subject{Type: SubjectReview, ID: r.GetID()}
	rec := newRecord(repoID, subject, r.GetSubmittedAt().Time.UTC(), userID(r.User), "review.submitted", map[string]any{
		"state":         strings.ToUpper(r.GetState()),
		"body":          r.GetBody(),
		"parent_type":   SubjectPullRequest,
		"parent_number": parentNumber,
	})
	rec.CommitSHA = r.GetCommitID()
	return []EventRecord{rec}
}

func NormalizeRelease(repoID int64, r *github.RepositoryRelease) []EventRecord {
	if r == nil || r.GetDraft() {
		return nil
	}
	at := r.GetPublishedAt().Time
	if r.PublishedAt == nil {
		if r.CreatedAt == nil {
			return nil
		}
		at = r.GetCreatedAt().Time
	}
	subject := Subject{Type: SubjectRelease, ID: r.GetID()}
	rec := newRecord(repoID, subject, at.UTC(), userID(r.Author), "release.published", map[string]any{
		"tag":        r.GetTagName(),
		"name":       r.GetName(),
		"prerelease": r.GetPrerelease(),
	})
	rec.ObjectType = ObjectCommit
	rec.ObjectID = r.GetTargetCommitish()
	return []EventRecord{rec}
}

func newRecord(repoID int64, subject Subject, at time.Time, actor *int64, eventType string, payload map[string]any) EventRecord {
	return EventRecord{
		RepoID:      repoID,
		OccurredAt:  at,
		ActorID:     actor,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		EventType:   eventType,
		Payload:     payload,
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
