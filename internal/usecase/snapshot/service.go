package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

var ErrUnknownAttribute = errors.New("unknown attribute")

// Attribute names an as-of readable property of a subject.
type Attribute string

const (
	AttrState          Attribute = "state"
	AttrContent        Attribute = "content"
	AttrLabels         Attribute = "labels"
	AttrAssignees      Attribute = "assignees"
	AttrMilestone      Attribute = "milestone"
	AttrDraft          Attribute = "draft"
	AttrHead           Attribute = "head"
	AttrReviewRequests Attribute = "review_requests"
)

func Attributes() []Attribute {
	return []Attribute{AttrState, AttrContent, AttrLabels, AttrAssignees, AttrMilestone, AttrDraft, AttrHead, AttrReviewRequests}
}

// FamilyFor resolves the interval family backing attr for a subject type.
func FamilyFor(subjectType string, attr Attribute) (interval.Family, error) {
	var family interval.Family
	switch attr {
	case AttrState:
		family = interval.IssueState
	case AttrContent:
		switch subjectType {
		case activity.SubjectComment, activity.SubjectReviewComment:
			family = interval.CommentContent
		case activity.SubjectReview:
			family = interval.ReviewContent
		default:
			family = interval.IssueContent
		}
	case AttrLabels:
		family = interval.IssueLabel
	case AttrAssignees:
		family = interval.IssueAssignee
	case AttrMilestone:
		family = interval.IssueMilestone
	case AttrDraft:
		family = interval.PRDraft
	case AttrHead:
		family = interval.PRHead
	case AttrReviewRequests:
		family = interval.PRReviewRequest
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	for _, t := range family.SubjectTypes() {
		if t == subjectType {
			return family, nil
		}
	}
	return "", fmt.Errorf("%w: %q does not apply to %s", ErrUnknownAttribute, attr, subjectType)
}

// Answer is the result of an as-of read. Known is false when no interval
// covers the instant, which is different from a known empty value.
type Answer struct {
	Subject   activity.Subject `json:"subject"`
	Attribute Attribute        `json:"attribute"`
	At        time.Time        `json:"at"`
	Known     bool             `json:"known"`
	Values    []interval.Value `json:"values"`
}

// Value returns the single value of a slot-like attribute.
func (a Answer) Value() (interval.Value, bool) {
	if !a.Known || len(a.Values) == 0 {
		return interval.Value{}, false
	}
	return a.Values[0], true
}

type Store interface {
	ports.EventStore
	ports.IntervalStore
	ports.WatermarkStore
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// AttributeAsOf returns the value of attr for subject at instant at. An
// interval covers at when its start event occurred at or before at and its end
// event, if any, occurred strictly after. Set-valued attributes and the
// milestone slot answer the empty set once the subject has been observed.
func (s *Service) AttributeAsOf(ctx context.Context, subject activity.Subject, attr Attribute, at time.Time) (Answer, error) {
	if ctx == nil {
		return Answer{}, errors.New("context is required")
	}
	family, err := FamilyFor(subject.Type, attr)
	if err != nil {
		return Answer{}, err
	}

	intervals, err := s.store.ListIntervals(ctx, family, subject)
	if err != nil {
		return Answer{}, errs.Wrapf(err, "list %s intervals", family)
	}

	answer := Answer{Subject: subject, Attribute: attr, At: at.UTC(), Values: []interval.Value{}}
	for _, iv := range Covering(intervals, at) {
		answer.Values = append(answer.Values, iv.Value)
	}
	if len(answer.Values) > 0 {
		answer.Known = true
		return answer, nil
	}

	if family.SetValued() || family == interval.IssueMilestone {
		observed, err := s.store.SubjectObservedBy(ctx, subject, at)
		if err != nil {
			return Answer{}, errs.Wrap(err, "check subject observed")
		}
		answer.Known = observed
	}
	return answer, nil
}

// Covering filters intervals valid at instant at, keeping their order.
func Covering(intervals []ports.TimedInterval, at time.Time) []ports.TimedInterval {
	var out []ports.TimedInterval
	for _, iv := range intervals {
		if iv.StartAt.After(at) {
			continue
		}
		if iv.EndAt != nil && !iv.EndAt.After(at) {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func (s *Service) ListIntervals(ctx context.Context, subject activity.Subject, attr Attribute) ([]ports.TimedInterval, error) {
	family, err := FamilyFor(subject.Type, attr)
	if err != nil {
		return nil, err
	}
	return s.store.ListIntervals(ctx, family, subject)
}

// Timeline returns the events of subject in replay order.
func (s *Service) Timeline(ctx context.Context, subject activity.Subject) ([]interval.Event, error) {
	events, err := s.store.ListEvents(ctx, interval.ScopeOf(subject))
	if err != nil {
		return nil, errs.Wrapf(err, "list events of %s %d", subject.Type, subject.ID)
	}
	interval.SortEvents(events)
	return events, nil
}

// Horizon is how far ingestion has reached for a repository.
type Horizon struct {
	MaxEventOccurredAt    *time.Time `json:"max_event_occurred_at"`
	MaxWatermarkUpdatedAt *time.Time `json:"max_watermark_updated_at"`
	Events                int64      `json:"events"`
}

func (s *Service) Horizon(ctx context.Context) (Horizon, error) {
	maxEvent, err := s.store.MaxEventOccurredAt(ctx)
	if err != nil {
		return Horizon{}, errs.Wrap(err, "max event occurred_at")
	}
	maxWatermark, err := s.store.MaxWatermarkUpdatedAt(ctx)
	if err != nil {
		return Horizon{}, errs.Wrap(err, "max watermark updated_at")
	}
	count, err := s.store.CountEvents(ctx)
	if err != nil {
		return Horizon{}, errs.Wrap(err, "count events")
	}
	return Horizon{MaxEventOccurredAt: maxEvent, MaxWatermarkUpdatedAt: maxWatermark, Events: count}, nil
}

// Stale reports whether cutoff lies past everything ingested so far.
func (h Horizon) Stale(cutoff time.Time) bool {
	if h.MaxEventOccurredAt == nil {
		return true
	}
	return cutoff.After(*h.MaxEventOccurredAt)
}
