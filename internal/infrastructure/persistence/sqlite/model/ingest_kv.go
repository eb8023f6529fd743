package model

// IngestKV holds orchestrator bookkeeping such as stage checkpoints.
type IngestKV struct {
	Key       string  `gorm:"column:key;type:text;primaryKey"`
	Value     string  `gorm:"column:value;type:text;not null"`
	UpdatedAt string  `gorm:"column:updated_at;type:text;not null;autoUpdateTime:false"`
	ExpiresAt *string `gorm:"column:expires_at;type:text"`
}

func (IngestKV) TableName() string {
	return "ingest_kv"
}
