package interval

import (
	"sort"
	"strings"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
)

const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateMerged = "merged"
)

// Value holds the attribute value an interval carries. Which fields are
// meaningful depends on the family.
type Value struct {
	State      string
	Title      string
	Body       string
	IsDraft    bool
	SHA        string
	ObjectType string
	ObjectID   string
}

// Interval is a validity record [StartEventID, EndEventID) for one attribute
// value of one subject. EndEventID is nil while the interval is open.
type Interval struct {
	Family       Family
	SubjectType  string
	SubjectID    int64
	ValueKey     string
	Value        Value
	StartEventID int64
	EndEventID   *int64
}

func (i Interval) Open() bool { return i.EndEventID == nil }

func (i Interval) Subject() activity.Subject {
	return activity.Subject{Type: i.SubjectType, ID: i.SubjectID}
}

// Event is a stored event: the log row id plus its record.
type Event struct {
	ID int64
	activity.EventRecord
}

type Stats struct {
	Events        int
	Applied       int
	Ignored       int
	OrphanRemoves int
	Opened        int
	Closed        int
}

type Result struct {
	Intervals []Interval
	Stats     Stats
}

type op int

const (
	opSet op = iota + 1
	opClose
	opAdd
	opRemove
	opSlotAdd
	opSlotRemove
)

type openKey struct {
	family      Family
	subjectType string
	subjectID   int64
	valueKey    string
}

type replayer struct {
	intervals []Interval
	open      map[openKey]int
	stats     Stats
}

// Replay rebuilds intervals from events. It is a pure function of the event
// set: events are ordered by (OccurredAt, ID) before replay, and the output is
// sorted by family, subject, value key and start event.
func Replay(events []Event) (Result, error) {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	r := &replayer{open: make(map[openKey]int)}
	for _, ev := range ordered {
		r.stats.Events++
		if err := r.apply(ev); err != nil {
			return Result{}, err
		}
	}

	SortIntervals(r.intervals)
	if err := Validate(r.intervals); err != nil {
		return Result{}, err
	}
	return Result{Intervals: r.intervals, Stats: r.stats}, nil
}

func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.ID < b.ID
	})
}

func SortIntervals(intervals []Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		a, b := intervals[i], intervals[j]
		if a.Family != b.Family {
			return order(a.Family) < order(b.Family)
		}
		if a.SubjectType != b.SubjectType {
			return a.SubjectType < b.SubjectType
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.ValueKey != b.ValueKey {
			return a.ValueKey < b.ValueKey
		}
		return a.StartEventID < b.StartEventID
	})
}

// Validate checks that at most one interval is open per key. Milestone is a
// single slot per subject regardless of value.
func Validate(intervals []Interval) error {
	seen := make(map[openKey]int64)
	for _, iv := range intervals {
		if !iv.Open() {
			if *iv.EndEventID == iv.StartEventID {
				return errs.Invariant("%s %s/%d closed by its own start event %d", iv.Family, iv.SubjectType, iv.SubjectID, iv.StartEventID)
			}
			continue
		}
		key := keyOf(iv)
		if prior, ok := seen[key]; ok {
			return errs.Invariant("%s %s/%d value %q has open intervals starting at %d and %d",
				iv.Family, iv.SubjectType, iv.SubjectID, iv.ValueKey, prior, iv.StartEventID)
		}
		seen[key] = iv.StartEventID
	}
	return nil
}

func keyOf(iv Interval) openKey {
	key := openKey{family: iv.Family, subjectType: iv.SubjectType, subjectID: iv.SubjectID}
	if iv.Family.SetValued() {
		key.valueKey = iv.ValueKey
	}
	return key
}

func (r *replayer) apply(ev Event) error {
	family, operation, ok := classify(ev.EventRecord)
	if !ok {
		r.stats.Ignored++
		return nil
	}
	r.stats.Applied++

	subjectKey := openKey{family: family, subjectType: ev.SubjectType, subjectID: ev.SubjectID}

	switch operation {
	case opSet:
		prior, hasPrior := r.current(subjectKey)
		value, skip := nextValue(family, ev.EventRecord, prior, hasPrior)
		if skip {
			r.stats.Ignored++
			return nil
		}
		if err := r.closeIfOpen(subjectKey, ev.ID); err != nil {
			return err
		}
		return r.openInterval(subjectKey, "", value, ev.ID)

	case opClose:
		return r.closeIfOpen(subjectKey, ev.ID)

	case opAdd:
		valueKey := setValueKey(family, ev.EventRecord)
		key := subjectKey
		key.valueKey = valueKey
		if err := r.closeIfOpen(key, ev.ID); err != nil {
			return err
		}
		return r.openInterval(key, valueKey, Value{ObjectType: ev.ObjectType, ObjectID: ev.ObjectID}, ev.ID)

	case opRemove:
		key := subjectKey
		key.valueKey = setValueKey(family, ev.EventRecord)
		if _, ok := r.open[key]; !ok {
			r.stats.OrphanRemoves++
			return nil
		}
		return r.closeIfOpen(key, ev.ID)

	case opSlotAdd:
		if err := r.closeIfOpen(subjectKey, ev.ID); err != nil {
			return err
		}
		return r.openInterval(subjectKey, ev.ObjectID, Value{ObjectType: ev.ObjectType, ObjectID: ev.ObjectID}, ev.ID)

	case opSlotRemove:
		idx, ok := r.open[subjectKey]
		if !ok || r.intervals[idx].ValueKey != ev.ObjectID {
			r.stats.OrphanRemoves++
			return nil
		}
		return r.closeIfOpen(subjectKey, ev.ID)
	}
	return nil
}

func (r *replayer) current(key openKey) (Value, bool) {
	idx, ok := r.open[key]
	if !ok {
		return Value{}, false
	}
	return r.intervals[idx].Value, true
}

func (r *replayer) closeIfOpen(key openKey, eventID int64) error {
	idx, ok := r.open[key]
	if !ok {
		return nil
	}
	iv := &r.intervals[idx]
	if iv.EndEventID != nil {
		return errs.Invariant("%s %s/%d: closing interval started at %d that is already closed by %d",
			key.family, key.subjectType, key.subjectID, iv.StartEventID, *iv.EndEventID)
	}
	end := eventID
	iv.EndEventID = &end
	delete(r.open, key)
	r.stats.Closed++
	return nil
}

func (r *replayer) openInterval(key openKey, valueKey string, value Value, eventID int64) error {
	if idx, ok := r.open[key]; ok {
		return errs.Invariant("%s %s/%d: opening at %d while interval started at %d is still open",
			key.family, key.subjectType, key.subjectID, eventID, r.intervals[idx].StartEventID)
	}
	r.intervals = append(r.intervals, Interval{
		Family:       key.family,
		SubjectType:  key.subjectType,
		SubjectID:    key.subjectID,
		ValueKey:     valueKey,
		Value:        value,
		StartEventID: eventID,
	})
	r.open[key] = len(r.intervals) - 1
	r.stats.Opened++
	return nil
}

// nextValue computes the value a single-valued family takes after ev. skip is
// true when the event leaves the attribute unchanged by rule, such as a close
// after a merge.
func nextValue(family Family, ev activity.EventRecord, prior Value, hasPrior bool) (Value, bool) {
	switch family {
	case IssueState:
		state := stateFor(ev)
		if state == StateClosed && hasPrior && prior.State == StateMerged {
			return Value{}, true
		}
		return Value{State: state}, false

	case IssueContent, CommentContent:
		value := prior
		if title, ok := ev.PayloadString("title"); ok && family == IssueContent {
			value.Title = title
		}
		if body, ok := ev.PayloadString("body"); ok {
			value.Body = body
		}
		return Value{Title: value.Title, Body: value.Body}, false

	case ReviewContent:
		value := Value{State: prior.State, Body: prior.Body, SHA: prior.SHA}
		if state, ok := ev.PayloadString("state"); ok {
			value.State = state
		}
		if body, ok := ev.PayloadString("body"); ok {
			value.Body = body
		}
		if ev.CommitSHA != "" {
			value.SHA = ev.CommitSHA
		}
		return value, false

	case PRDraft:
		draft, _ := ev.PayloadBool("is_draft")
		return Value{IsDraft: draft}, false

	case PRHead:
		sha := ev.CommitSHA
		if payloadSHA, ok := ev.PayloadString("head_sha"); ok && payloadSHA != "" {
			sha = payloadSHA
		}
		return Value{SHA: sha}, false
	}
	return Value{}, true
}

func stateFor(ev activity.EventRecord) string {
	switch strings.TrimPrefix(ev.EventType, ev.SubjectType+".") {
	case "closed":
		return StateClosed
	case "merged":
		return StateMerged
	default:
		return StateOpen
	}
}

func setValueKey(family Family, ev activity.EventRecord) string {
	if family == PRReviewRequest {
		return ev.ObjectType + ":" + ev.ObjectID
	}
	return ev.ObjectID
}

// classify maps an event onto the family it affects and how.
func classify(ev activity.EventRecord) (Family, op, bool) {
	switch ev.SubjectType {
	case activity.SubjectIssue, activity.SubjectPullRequest:
		suffix, ok := strings.CutPrefix(ev.EventType, ev.SubjectType+".")
		if !ok {
			return "", 0, false
		}
		switch suffix {
		case "opened", "reopened", "closed", "merged":
			if suffix == "merged" && ev.SubjectType != activity.SubjectPullRequest {
				return "", 0, false
			}
			return IssueState, opSet, true
		case "content.set":
			return IssueContent, opSet, true
		case "label.add":
			return IssueLabel, opAdd, true
		case "label.remove":
			return IssueLabel, opRemove, true
		case "assignee.add":
			return IssueAssignee, opAdd, true
		case "assignee.remove":
			return IssueAssignee, opRemove, true
		case "milestone.add":
			return IssueMilestone, opSlotAdd, true
		case "milestone.remove":
			return IssueMilestone, opSlotRemove, true
		}
		if ev.SubjectType != activity.SubjectPullRequest {
			return "", 0, false
		}
		switch suffix {
		case "draft.set":
			return PRDraft, opSet, true
		case "head.set":
			return PRHead, opSet, true
		case "review_request.add":
			return PRReviewRequest, opAdd, true
		case "review_request.remove":
			return PRReviewRequest, opRemove, true
		}
	case activity.SubjectComment, activity.SubjectReviewComment:
		switch ev.EventType {
		case "comment.created", "comment.edited":
			return CommentContent, opSet, true
		case "comment.deleted":
			return CommentContent, opClose, true
		}
	case activity.SubjectReview:
		switch ev.EventType {
		case "review.submitted", "review.edited", "review.dismissed":
			return ReviewContent, opSet, true
		}
	}
	return "", 0, false
}
