package model

import "gorm.io/datatypes"

// Event is one row of the append-only activity log. EventKey deduplicates
// re-ingested occurrences; ID breaks ties between same-time events.
type Event struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	EventKey    string         `gorm:"column:event_key;type:text;not null;uniqueIndex"`
	RepoID      int64          `gorm:"column:repo_id;not null"`
	OccurredAt  string         `gorm:"column:occurred_at;type:text;not null;index"`
	ActorID     *int64         `gorm:"column:actor_id"`
	SubjectType string         `gorm:"column:subject_type;type:text;not null;index:idx_events_subject,priority:1"`
	SubjectID   int64          `gorm:"column:subject_id;not null;index:idx_events_subject,priority:2"`
	EventType   string         `gorm:"column:event_type;type:text;not null"`
	ObjectType  string         `gorm:"column:object_type;type:text;not null;default:''"`
	ObjectID    string         `gorm:"column:object_id;type:text;not null;default:''"`
	CommitSHA   string         `gorm:"column:commit_sha;type:text;not null;default:''"`
	Payload     datatypes.JSON `gorm:"column:payload_json"`
	IngestedAt  string         `gorm:"column:ingested_at;type:text;not null"`
}

func (Event) TableName() string {
	return "events"
}
