package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	"ghchrono/internal/ports"
)

func (s *Store) GetWatermark(ctx context.Context, resource string) (ports.Watermark, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return ports.Watermark{}, false, err
	}

	var rows []model.Watermark
	if err := db.Where("repo_id = ? AND resource = ?", s.RepoID(), resource).Limit(1).Find(&rows).Error; err != nil {
		return ports.Watermark{}, false, errs.Wrapf(err, "query watermark %s", resource)
	}
	if len(rows) == 0 {
		return ports.Watermark{Resource: resource}, false, nil
	}

	row := rows[0]
	wm := ports.Watermark{
		Resource:     row.Resource,
		ETag:         row.ETag,
		LastModified: row.LastModified,
		Cursor:       row.Cursor,
	}
	if row.UpdatedAt != nil {
		t, err := model.ParseTime(*row.UpdatedAt)
		if err != nil {
			return ports.Watermark{}, false, errs.Wrapf(err, "parse watermark %s", resource)
		}
		wm.UpdatedAt = &t
	}
	return wm, true, nil
}

func (s *Store) SaveWatermark(ctx context.Context, wm ports.Watermark) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.Watermark{
		RepoID:       s.RepoID(),
		Resource:     wm.Resource,
		UpdatedAt:    model.FormatTimePtr(wm.UpdatedAt),
		ETag:         wm.ETag,
		LastModified: wm.LastModified,
		Cursor:       wm.Cursor,
		SavedAt:      model.FormatTime(time.Now()),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_id"}, {Name: "resource"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "etag", "last_modified", "cursor", "saved_at"}),
	}).Create(&row).Error; err != nil {
		return errs.Wrapf(err, "upsert watermark %s", wm.Resource)
	}
	return nil
}

func (s *Store) MaxWatermarkUpdatedAt(ctx context.Context) (*time.Time, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var value sql.NullString
	if err := db.Model(&model.Watermark{}).Select("MAX(updated_at)").Scan(&value).Error; err != nil {
		return nil, errs.Wrap(err, "query max watermark updated_at")
	}
	return parseNullTime(value)
}

func (s *Store) RecordGap(ctx context.Context, gap ports.Gap) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	detected := gap.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	row := model.IngestionGap{
		RepoID:       s.RepoID(),
		RunID:        gap.RunID,
		Resource:     gap.Resource,
		URL:          gap.URL,
		Page:         gap.Page,
		ExpectedPage: gap.ExpectedPage,
		Detail:       gap.Detail,
		DetectedAt:   model.FormatTime(detected),
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrapf(err, "insert ingestion gap for %s", gap.Resource)
	}
	return nil
}

func (s *Store) CountGapsByResource(ctx context.Context, runID string) (map[string]int, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	type countRow struct {
		Resource string
		N        int
	}
	query := db.Model(&model.IngestionGap{}).Select("resource, COUNT(*) AS n").Group("resource")
	if runID != "" {
		query = query.Where("run_id = ?", runID)
	}
	var rows []countRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "count ingestion gaps")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Resource] = row.N
	}
	return counts, nil
}

func (s *Store) SaveQAReport(ctx context.Context, report ports.QAReport) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return errs.Wrap(err, "marshal qa report")
	}
	row := model.QAReport{
		RepoID:    s.RepoID(),
		RunID:     report.RunID,
		Mode:      report.Mode,
		Report:    datatypes.JSON(raw),
		CreatedAt: model.FormatTime(report.CreatedAt),
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrapf(err, "insert qa report %s", report.RunID)
	}
	return nil
}

func (s *Store) LatestQAReport(ctx context.Context) (ports.QAReport, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return ports.QAReport{}, err
	}
	var rows []model.QAReport
	if err := db.Order("id desc").Limit(1).Find(&rows).Error; err != nil {
		return ports.QAReport{}, errs.Wrap(err, "query latest qa report")
	}
	if len(rows) == 0 {
		return ports.QAReport{}, errs.Wrap(ports.ErrNotFound, "qa report")
	}
	var report ports.QAReport
	if err := json.Unmarshal(rows[0].Report, &report); err != nil {
		return ports.QAReport{}, errs.Wrap(err, "decode qa report")
	}
	return report, nil
}
