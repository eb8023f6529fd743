package model

// Snapshot rows hold the latest observed value only. Time-dependent questions
// go through the interval tables.

type Issue struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID    int64   `gorm:"column:repo_id;not null;uniqueIndex:idx_issues_repo_number,priority:1"`
	Number    int     `gorm:"column:number;not null;uniqueIndex:idx_issues_repo_number,priority:2"`
	Title     string  `gorm:"column:title;type:text;not null"`
	Body      string  `gorm:"column:body;type:text;not null"`
	State     string  `gorm:"column:state;type:text;not null"`
	Locked    bool    `gorm:"column:locked;not null;default:0"`
	AuthorID  *int64  `gorm:"column:author_id"`
	Milestone string  `gorm:"column:milestone;type:text;not null;default:''"`
	Comments  int     `gorm:"column:comments;not null;default:0"`
	CreatedAt string  `gorm:"column:created_at;type:text;not null;autoCreateTime:false"`
	UpdatedAt string  `gorm:"column:updated_at;type:text;not null;autoUpdateTime:false"`
	ClosedAt  *string `gorm:"column:closed_at;type:text"`
}

func (Issue) TableName() string {
	return "issues"
}

type PullRequest struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID         int64   `gorm:"column:repo_id;not null;uniqueIndex:idx_pull_requests_repo_number,priority:1"`
	Number         int     `gorm:"column:number;not null;uniqueIndex:idx_pull_requests_repo_number,priority:2"`
	Title          string  `gorm:"column:title;type:text;not null"`
	Body           string  `gorm:"column:body;type:text;not null"`
	State          string  `gorm:"column:state;type:text;not null"`
	Draft          bool    `gorm:"column:draft;not null;default:0"`
	Merged         bool    `gorm:"column:merged;not null;default:0"`
	AuthorID       *int64  `gorm:"column:author_id"`
	HeadRef        string  `gorm:"column:head_ref;type:text;not null;default:''"`
	HeadSHA        string  `gorm:"column:head_sha;type:text;not null;default:''"`
	BaseRef        string  `gorm:"column:base_ref;type:text;not null;default:''"`
	BaseSHA        string  `gorm:"column:base_sha;type:text;not null;default:''"`
	MergeCommitSHA string  `gorm:"column:merge_commit_sha;type:text;not null;default:''"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null;autoCreateTime:false"`
	UpdatedAt      string  `gorm:"column:updated_at;type:text;not null;autoUpdateTime:false"`
	ClosedAt       *string `gorm:"column:closed_at;type:text"`
	MergedAt       *string `gorm:"column:merged_at;type:text"`
}

func (PullRequest) TableName() string {
	return "pull_requests"
}

// PullRequestFile is versioned per head SHA rather than overwritten.
type PullRequestFile struct {
	RepoID           int64  `gorm:"column:repo_id;primaryKey;autoIncrement:false"`
	PullRequestID    int64  `gorm:"column:pull_request_id;primaryKey;autoIncrement:false"`
	HeadSHA          string `gorm:"column:head_sha;type:text;primaryKey"`
	Path             string `gorm:"column:path;type:text;primaryKey"`
	Status           string `gorm:"column:status;type:text;not null;default:''"`
	Additions        int    `gorm:"column:additions;not null;default:0"`
	Deletions        int    `gorm:"column:deletions;not null;default:0"`
	Changes          int    `gorm:"column:changes;not null;default:0"`
	PreviousFilename string `gorm:"column:previous_filename;type:text;not null;default:''"`
	BlobSHA          string `gorm:"column:blob_sha;type:text;not null;default:''"`
}

func (PullRequestFile) TableName() string {
	return "pull_request_files"
}

type Review struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID        int64   `gorm:"column:repo_id;not null"`
	PullRequestID int64   `gorm:"column:pull_request_id;not null;index"`
	UserID        *int64  `gorm:"column:user_id"`
	State         string  `gorm:"column:state;type:text;not null"`
	Body          string  `gorm:"column:body;type:text;not null"`
	CommitID      string  `gorm:"column:commit_id;type:text;not null;default:''"`
	SubmittedAt   *string `gorm:"column:submitted_at;type:text"`
}

func (Review) TableName() string {
	return "reviews"
}

type Comment struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID       int64  `gorm:"column:repo_id;not null"`
	Kind         string `gorm:"column:kind;type:text;not null"`
	ParentType   string `gorm:"column:parent_type;type:text;not null"`
	ParentNumber int    `gorm:"column:parent_number;not null;index"`
	UserID       *int64 `gorm:"column:user_id"`
	Body         string `gorm:"column:body;type:text;not null"`
	Path         string `gorm:"column:path;type:text;not null;default:''"`
	CommitID     string `gorm:"column:commit_id;type:text;not null;default:''"`
	ReviewID     *int64 `gorm:"column:review_id"`
	InReplyTo    *int64 `gorm:"column:in_reply_to"`
	CreatedAt    string `gorm:"column:created_at;type:text;not null;autoCreateTime:false"`
	UpdatedAt    string `gorm:"column:updated_at;type:text;not null;autoUpdateTime:false"`
}

func (Comment) TableName() string {
	return "comments"
}

type Commit struct {
	SHA         string  `gorm:"column:sha;type:text;primaryKey"`
	RepoID      int64   `gorm:"column:repo_id;not null;index"`
	AuthorID    *int64  `gorm:"column:author_id"`
	CommitterID *int64  `gorm:"column:committer_id"`
	AuthorName  string  `gorm:"column:author_name;type:text;not null;default:''"`
	AuthorEmail string  `gorm:"column:author_email;type:text;not null;default:''"`
	Message     string  `gorm:"column:message;type:text;not null"`
	Parents     string  `gorm:"column:parents;type:text;not null;default:''"`
	AuthoredAt  *string `gorm:"column:authored_at;type:text"`
	CommittedAt *string `gorm:"column:committed_at;type:text;index"`
}

func (Commit) TableName() string {
	return "commits"
}

type Ref struct {
	RepoID    int64  `gorm:"column:repo_id;primaryKey;autoIncrement:false"`
	Kind      string `gorm:"column:kind;type:text;primaryKey"`
	Name      string `gorm:"column:name;type:text;primaryKey"`
	SHA       string `gorm:"column:sha;type:text;not null"`
	Protected bool   `gorm:"column:protected;not null;default:0"`
}

func (Ref) TableName() string {
	return "refs"
}

type Release struct {
	ID              int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID          int64   `gorm:"column:repo_id;not null;index"`
	TagName         string  `gorm:"column:tag_name;type:text;not null"`
	Name            string  `gorm:"column:name;type:text;not null;default:''"`
	Draft           bool    `gorm:"column:draft;not null;default:0"`
	Prerelease      bool    `gorm:"column:prerelease;not null;default:0"`
	TargetCommitish string  `gorm:"column:target_commitish;type:text;not null;default:''"`
	AuthorID        *int64  `gorm:"column:author_id"`
	CreatedAt       *string `gorm:"column:created_at;type:text;autoCreateTime:false"`
	PublishedAt     *string `gorm:"column:published_at;type:text"`
}

func (Release) TableName() string {
	return "releases"
}
