package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/go-github/v68/github"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
)

var ErrNotFound = errors.New("not found")

type Watermark struct {
	Resource     string
	UpdatedAt    *time.Time
	ETag         string
	LastModified string
	Cursor       string
}

type Gap struct {
	RunID        string
	Resource     string
	URL          string
	Page         *int
	ExpectedPage *int
	Detail       string
	DetectedAt   time.Time
}

type QAReport struct {
	RunID     string         `json:"run_id"`
	Mode      string         `json:"mode"`
	Repo      string         `json:"repo"`
	GapCounts map[string]int `json:"gap_counts"`
	TotalGaps int            `json:"total_gaps"`
	CreatedAt time.Time      `json:"created_at"`
}

// TimedInterval is an interval with the occurrence times of its boundary events.
type TimedInterval struct {
	interval.Interval
	StartAt time.Time
	EndAt   *time.Time
}

// SubjectRef is the stored identity of an issue or pull request.
type SubjectRef struct {
	Subject   activity.Subject
	Number    int
	UpdatedAt time.Time
}

type EventStore interface {
	// InsertEvents appends records, skipping ones whose event key exists.
	InsertEvents(ctx context.Context, records []activity.EventRecord) (inserted int, err error)
	ListEvents(ctx context.Context, scope interval.Scope) ([]interval.Event, error)
	MaxEventOccurredAt(ctx context.Context) (*time.Time, error)
	CountEvents(ctx context.Context) (int64, error)
	// SubjectObservedBy reports whether any event of subject occurred at or before at.
	SubjectObservedBy(ctx context.Context, subject activity.Subject, at time.Time) (bool, error)
	HasEvent(ctx context.Context, subject activity.Subject, eventType string) (bool, error)
}

type IntervalStore interface {
	// ReplaceIntervals deletes every interval of the scoped subjects across all
	// families and inserts the given rows.
	ReplaceIntervals(ctx context.Context, scope interval.Scope, intervals []interval.Interval) error
	ListIntervals(ctx context.Context, family interval.Family, subject activity.Subject) ([]TimedInterval, error)
}

type WatermarkStore interface {
	GetWatermark(ctx context.Context, resource string) (Watermark, bool, error)
	SaveWatermark(ctx context.Context, wm Watermark) error
	MaxWatermarkUpdatedAt(ctx context.Context) (*time.Time, error)
}

type GapStore interface {
	RecordGap(ctx context.Context, gap Gap) error
	CountGapsByResource(ctx context.Context, runID string) (map[string]int, error)
	SaveQAReport(ctx context.Context, report QAReport) error
	LatestQAReport(ctx context.Context) (QAReport, error)
}

type SnapshotStore interface {
	RepoID() int64
	UpsertRepo(ctx context.Context, repo *github.Repository) error
	UpsertUsers(ctx context.Context, users ...*github.User) error
	UpsertTeams(ctx context.Context, teams ...*github.Team) error
	UpsertLabels(ctx context.Context, labels ...*github.Label) error
	UpsertMilestone(ctx context.Context, milestone *github.Milestone) error
	UpsertIssue(ctx context.Context, issue *github.Issue) error
	UpsertPullRequest(ctx context.Context, pr *github.PullRequest) error
	UpsertPullRequestFiles(ctx context.Context, prID int64, headSHA string, files []*github.CommitFile) error
	UpsertReview(ctx context.Context, prID int64, review *github.PullRequestReview) error
	UpsertIssueComment(ctx context.Context, parentType string, parentNumber int, comment *github.IssueComment) error
	UpsertReviewComment(ctx context.Context, parentNumber int, comment *github.PullRequestComment) error
	UpsertCommit(ctx context.Context, commit *github.RepositoryCommit) error
	UpsertRef(ctx context.Context, kind, name, sha string, protected bool) error
	UpsertRelease(ctx context.Context, release *github.RepositoryRelease) error
	ListSubjectRefs(ctx context.Context, subjectType string) ([]SubjectRef, error)
	FindSubjectByNumber(ctx context.Context, number int) (activity.Subject, error)
	ListChildSubjects(ctx context.Context, parentType string, parentNumber int) ([]activity.Subject, error)
}
