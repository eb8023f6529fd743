package model

import "gorm.io/datatypes"

// Watermark is the per-resource incremental sync position.
type Watermark struct {
	RepoID       int64   `gorm:"column:repo_id;primaryKey;autoIncrement:false"`
	Resource     string  `gorm:"column:resource;type:text;primaryKey"`
	UpdatedAt    *string `gorm:"column:updated_at;type:text;autoUpdateTime:false"`
	ETag         string  `gorm:"column:etag;type:text;not null;default:''"`
	LastModified string  `gorm:"column:last_modified;type:text;not null;default:''"`
	Cursor       string  `gorm:"column:cursor;type:text;not null;default:''"`
	SavedAt      string  `gorm:"column:saved_at;type:text;not null"`
}

func (Watermark) TableName() string {
	return "watermarks"
}

type IngestionGap struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RepoID       int64  `gorm:"column:repo_id;not null"`
	RunID        string `gorm:"column:run_id;type:text;not null;index"`
	Resource     string `gorm:"column:resource;type:text;not null;index"`
	URL          string `gorm:"column:url;type:text;not null;default:''"`
	Page         *int   `gorm:"column:page"`
	ExpectedPage *int   `gorm:"column:expected_page"`
	Detail       string `gorm:"column:detail;type:text;not null"`
	DetectedAt   string `gorm:"column:detected_at;type:text;not null"`
}

func (IngestionGap) TableName() string {
	return "ingestion_gaps"
}

type QAReport struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RepoID    int64          `gorm:"column:repo_id;not null"`
	RunID     string         `gorm:"column:run_id;type:text;not null;uniqueIndex"`
	Mode      string         `gorm:"column:mode;type:text;not null"`
	Report    datatypes.JSON `gorm:"column:report_json;not null"`
	CreatedAt string         `gorm:"column:created_at;type:text;not null;autoCreateTime:false"`
}

func (QAReport) TableName() string {
	return "qa_reports"
}
