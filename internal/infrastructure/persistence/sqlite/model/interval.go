package model

// IntervalKey is shared by every interval table. The natural primary key
// makes a rebuild over the same events byte-identical.
type IntervalKey struct {
	SubjectType  string `gorm:"column:subject_type;type:text;primaryKey"`
	SubjectID    int64  `gorm:"column:subject_id;primaryKey;autoIncrement:false;index"`
	ValueKey     string `gorm:"column:value_key;type:text;primaryKey"`
	StartEventID int64  `gorm:"column:start_event_id;primaryKey;autoIncrement:false"`
	EndEventID   *int64 `gorm:"column:end_event_id;index:,where:end_event_id IS NULL"`
}

type IssueStateInterval struct {
	IntervalKey
	State string `gorm:"column:state;type:text;not null"`
}

func (IssueStateInterval) TableName() string { return "issue_state_intervals" }

type IssueContentInterval struct {
	IntervalKey
	Title string `gorm:"column:title;type:text;not null"`
	Body  string `gorm:"column:body;type:text;not null"`
}

func (IssueContentInterval) TableName() string { return "issue_content_intervals" }

type IssueLabelInterval struct {
	IntervalKey
	Label string `gorm:"column:label;type:text;not null"`
}

func (IssueLabelInterval) TableName() string { return "issue_label_intervals" }

type IssueAssigneeInterval struct {
	IntervalKey
	AssigneeID string `gorm:"column:assignee_id;type:text;not null"`
}

func (IssueAssigneeInterval) TableName() string { return "issue_assignee_intervals" }

type IssueMilestoneInterval struct {
	IntervalKey
	Milestone string `gorm:"column:milestone;type:text;not null"`
}

func (IssueMilestoneInterval) TableName() string { return "issue_milestone_intervals" }

type PRDraftInterval struct {
	IntervalKey
	IsDraft bool `gorm:"column:is_draft;not null"`
}

func (PRDraftInterval) TableName() string { return "pr_draft_intervals" }

type PRHeadInterval struct {
	IntervalKey
	HeadSHA string `gorm:"column:head_sha;type:text;not null"`
}

func (PRHeadInterval) TableName() string { return "pr_head_intervals" }

type PRReviewRequestInterval struct {
	IntervalKey
	ReviewerType string `gorm:"column:reviewer_type;type:text;not null"`
	ReviewerID   string `gorm:"column:reviewer_id;type:text;not null"`
}

func (PRReviewRequestInterval) TableName() string { return "pr_review_request_intervals" }

type CommentContentInterval struct {
	IntervalKey
	Body string `gorm:"column:body;type:text;not null"`
}

func (CommentContentInterval) TableName() string { return "comment_content_intervals" }

type ReviewContentInterval struct {
	IntervalKey
	State    string `gorm:"column:state;type:text;not null"`
	Body     string `gorm:"column:body;type:text;not null"`
	CommitID string `gorm:"column:commit_id;type:text;not null"`
}

func (ReviewContentInterval) TableName() string { return "review_content_intervals" }
