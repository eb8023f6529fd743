package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	"ghchrono/internal/errs"
)

const (
	SubjectIssue         = "issue"
	SubjectPullRequest   = "pull_request"
	SubjectComment       = "comment"
	SubjectReviewComment = "review_comment"
	SubjectReview        = "review"
	SubjectRelease       = "release"
)

const (
	ObjectLabel     = "label"
	ObjectUser      = "user"
	ObjectTeam      = "team"
	ObjectMilestone = "milestone"
	ObjectCommit    = "commit"
)

// Subject identifies the entity an event is about.
type Subject struct {
	Type string
	ID   int64
}

// EventRecord is one immutable occurrence in the append-only activity log.
type EventRecord struct {
	RepoID      int64
	OccurredAt  time.Time
	ActorID     *int64
	SubjectType string
	SubjectID   int64
	EventType   string
	ObjectType  string
	ObjectID    string
	CommitSHA   string
	Payload     map[string]any
}

func (e EventRecord) Subject() Subject {
	return Subject{Type: e.SubjectType, ID: e.SubjectID}
}

type keyFields struct {
	RepoID      int64          `json:"repo_id"`
	OccurredAt  string         `json:"occurred_at"`
	ActorID     *int64         `json:"actor_id"`
	SubjectType string         `json:"subject_type"`
	SubjectID   int64          `json:"subject_id"`
	EventType   string         `json:"event_type"`
	ObjectType  string         `json:"object_type"`
	ObjectID    string         `json:"object_id"`
	CommitSHA   string         `json:"commit_sha"`
	Payload     map[string]any `json:"payload"`
}

// Key returns the deduplication fingerprint: sha256 over the RFC 8785
// canonical JSON of every defining field.
func (e EventRecord) Key() (string, error) {
	raw, err := json.Marshal(keyFields{
		RepoID:      e.RepoID,
		OccurredAt:  e.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:     e.ActorID,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		EventType:   e.EventType,
		ObjectType:  e.ObjectType,
		ObjectID:    e.ObjectID,
		CommitSHA:   e.CommitSHA,
		Payload:     e.Payload,
	})
	if err != nil {
		return "", errs.Wrap(err, "marshal event key fields")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", errs.Wrap(err, "canonicalize event key fields")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// PayloadString returns payload[key] when it is a string.
func (e EventRecord) PayloadString(key string) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	v, ok := e.Payload[key].(string)
	return v, ok
}

// PayloadBool returns payload[key] when it is a bool.
func (e EventRecord) PayloadBool(key string) (bool, bool) {
	if e.Payload == nil {
		return false, false
	}
	v, ok := e.Payload[key].(bool)
	return v, ok
}

// TypeName builds a subject-prefixed event type such as "pull_request.label.add".
func TypeName(subjectType string, parts ...string) string {
	name := subjectType
	for _, part := range parts {
		name += "." + part
	}
	return name
}
