package activity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// TimelineEvent is the closed set of issue timeline kinds the normalizer
// understands. Kinds it does not recognize parse to UnknownTimelineEvent.
type TimelineEvent interface {
	Meta() TimelineMeta
	timelineEvent()
}

type TimelineMeta struct {
	ID         int64
	Name       string
	ActorID    *int64
	OccurredAt time.Time
}

func (m TimelineMeta) Meta() TimelineMeta { return m }
func (TimelineMeta) timelineEvent()       {}

type Labeled struct {
	TimelineMeta
	Label string
}

type Unlabeled struct {
	TimelineMeta
	Label string
}

type Assigned struct {
	TimelineMeta
	AssigneeID int64
	Login      string
}

type Unassigned struct {
	TimelineMeta
	AssigneeID int64
	Login      string
}

type Milestoned struct {
	TimelineMeta
	Title string
}

type Demilestoned struct {
	TimelineMeta
	Title string
}

type Closed struct {
	TimelineMeta
	CommitID string
}

type Reopened struct {
	TimelineMeta
}

type Merged struct {
	TimelineMeta
	CommitID string
}

type Renamed struct {
	TimelineMeta
	From string
	To   string
}

// Reviewer is a requested reviewer; Type is ObjectUser or ObjectTeam.
type Reviewer struct {
	Type  string
	ID    int64
	Login string
}

type ReviewRequested struct {
	TimelineMeta
	Reviewer Reviewer
}

type ReviewRequestRemoved struct {
	TimelineMeta
	Reviewer Reviewer
}

type ReadyForReview struct {
	TimelineMeta
}

type ConvertToDraft struct {
	TimelineMeta
}

type HeadRefForcePushed struct {
	TimelineMeta
	CommitID string
}

type ReviewDismissed struct {
	TimelineMeta
	ReviewID int64
	State    string
	Message  string
}

type Locked struct {
	TimelineMeta
	Reason string
}

// Marker is a recognized kind that carries no tracked attribute
// (mentioned, subscribed, referenced, head_ref_deleted, ...).
type Marker struct {
	TimelineMeta
	CommitID string
}

type UnknownTimelineEvent struct {
	TimelineMeta
	Raw json.RawMessage
}

var markerKinds = map[string]struct{}{
	"unlocked":              {},
	"mentioned":             {},
	"subscribed":            {},
	"unsubscribed":          {},
	"referenced":            {},
	"pinned":                {},
	"unpinned":              {},
	"transferred":           {},
	"head_ref_deleted":      {},
	"head_ref_restored":     {},
	"base_ref_changed":      {},
	"base_ref_force_pushed": {},
	"comment_deleted":       {},
	"connected":             {},
	"disconnected":          {},
	"marked_as_duplicate":   {},
	"unmarked_as_duplicate": {},
	"auto_merge_enabled":    {},
	"auto_merge_disabled":   {},
	"deployed":              {},
}

// ParseTimelineEvent decodes one item of GET /repos/{o}/{r}/issues/{n}/events.
func ParseTimelineEvent(raw json.RawMessage) (TimelineEvent, error) {
	var ev github.IssueEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeline, err)
	}
	name := strings.TrimSpace(ev.GetEvent())
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrInvalidTimeline)
	}
	if ev.CreatedAt == nil {
		return nil, fmt.Errorf("%w: %s without created_at", ErrInvalidTimeline, name)
	}

	meta := TimelineMeta{
		ID:         ev.GetID(),
		Name:       name,
		ActorID:    userID(ev.Actor),
		OccurredAt: ev.GetCreatedAt().Time.UTC(),
	}

	switch name {
	case "labeled":
		return Labeled{TimelineMeta: meta, Label: ev.GetLabel().GetName()}, nil
	case "unlabeled":
		return Unlabeled{TimelineMeta: meta, Label: ev.GetLabel().GetName()}, nil
	case "assigned":
		return Assigned{TimelineMeta: meta, AssigneeID: ev.GetAssignee().GetID(), Login: ev.GetAssignee().GetLogin()}, nil
	case "unassigned":
		return Unassigned{TimelineMeta: meta, AssigneeID: ev.GetAssignee().GetID(), Login: ev.GetAssignee().GetLogin()}, nil
	case "milestoned":
		return Milestoned{TimelineMeta: meta, Title: ev.GetMilestone().GetTitle()}, nil
	case "demilestoned":
		return Demilestoned{TimelineMeta: meta, Title: ev.GetMilestone().GetTitle()}, nil
	case "closed":
		return Closed{TimelineMeta: meta, CommitID: ev.GetCommitID()}, nil
	case "reopened":
		return Reopened{TimelineMeta: meta}, nil
	case "merged":
		return Merged{TimelineMeta: meta, CommitID: ev.GetCommitID()}, nil
	case "renamed":
		return Renamed{TimelineMeta: meta, From: ev.GetRename().GetFrom(), To: ev.GetRename().GetTo()}, nil
	case "review_requested":
		return ReviewRequested{TimelineMeta: meta, Reviewer: reviewerOf(ev)}, nil
	case "review_request_removed":
		return ReviewRequestRemoved{TimelineMeta: meta, Reviewer: reviewerOf(ev)}, nil
	case "ready_for_review":
		return ReadyForReview{TimelineMeta: meta}, nil
	case "convert_to_draft", "converted_to_draft":
		return ConvertToDraft{TimelineMeta: meta}, nil
	case "head_ref_force_pushed":
		return HeadRefForcePushed{TimelineMeta: meta, CommitID: ev.GetCommitID()}, nil
	case "review_dismissed":
		dismissed := ev.GetDismissedReview()
		return ReviewDismissed{
			TimelineMeta: meta,
			ReviewID:     dismissed.GetReviewID(),
			State:        dismissed.GetState(),
			Message:      dismissed.GetDismissalMessage(),
		}, nil
	case "locked":
		return Locked{TimelineMeta: meta, Reason: ev.GetLockReason()}, nil
	}
	if _, ok := markerKinds[name]; ok {
		return Marker{TimelineMeta: meta, CommitID: ev.GetCommitID()}, nil
	}
	return UnknownTimelineEvent{TimelineMeta: meta, Raw: append(json.RawMessage(nil), raw...)}, nil
}

func reviewerOf(ev github.IssueEvent) Reviewer {
	if team := ev.GetRequestedTeam(); team.GetID() != 0 {
		return Reviewer{Type: ObjectTeam, ID: team.GetID(), Login: team.GetSlug()}
	}
	user := ev.GetRequestedReviewer()
	return Reviewer{Type: ObjectUser, ID: user.GetID(), Login: user.GetLogin()}
}

func userID(u *github.User) *int64 {
	if u == nil || u.GetID() == 0 {
		return nil
	}
	id := u.GetID()
	return &id
}
