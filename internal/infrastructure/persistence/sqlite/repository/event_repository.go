package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
)

func (s *Store) InsertEvents(ctx context.Context, records []activity.EventRecord) (int, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ingestedAt := model.FormatTime(time.Now())
	inserted := 0
	for _, rec := range records {
		row, err := eventRow(rec, ingestedAt)
		if err != nil {
			return inserted, err
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_key"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return inserted, errs.Wrapf(result.Error, "insert event %s", rec.EventType)
		}
		inserted += int(result.RowsAffected)
	}
	return inserted, nil
}

func (s *Store) ListEvents(ctx context.Context, scope interval.Scope) ([]interval.Event, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return nil, nil
	}

	query := db.Model(&model.Event{})
	if !scope.IsAll() {
		query = query.Where(subjectCondition(db, scope))
	}

	var rows []model.Event
	if err := query.Order("occurred_at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events")
	}

	events := make([]interval.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := mapEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) MaxEventOccurredAt(ctx context.Context) (*time.Time, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var value sql.NullString
	if err := db.Model(&model.Event{}).Select("MAX(occurred_at)").Scan(&value).Error; err != nil {
		return nil, errs.Wrap(err, "query max event occurred_at")
	}
	return parseNullTime(value)
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Model(&model.Event{}).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count events")
	}
	return count, nil
}

func (s *Store) SubjectObservedBy(ctx context.Context, subject activity.Subject, at time.Time) (bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return false, err
	}
	var count int64
	if err := db.Model(&model.Event{}).
		Where("subject_type = ? AND subject_id = ? AND occurred_at <= ?", subject.Type, subject.ID, model.FormatTime(at)).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, errs.Wrap(err, "query subject events")
	}
	return count > 0, nil
}

func (s *Store) HasEvent(ctx context.Context, subject activity.Subject, eventType string) (bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return false, err
	}
	var count int64
	if err := db.Model(&model.Event{}).
		Where("subject_type = ? AND subject_id = ? AND event_type = ?", subject.Type, subject.ID, eventType).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, errs.Wrapf(err, "query %s events", eventType)
	}
	return count > 0, nil
}

func subjectCondition(db *gorm.DB, scope interval.Scope) *gorm.DB {
	cond := db.Session(&gorm.Session{NewDB: true}).Where("1 = 0")
	for subjectType, ids := range scope.IDsByType() {
		cond = cond.Or("subject_type = ? AND subject_id IN ?", subjectType, ids)
	}
	return cond
}

func eventRow(rec activity.EventRecord, ingestedAt string) (model.Event, error) {
	key, err := rec.Key()
	if err != nil {
		return model.Event{}, err
	}
	row := model.Event{
		EventKey:    key,
		RepoID:      rec.RepoID,
		OccurredAt:  model.FormatTime(rec.OccurredAt),
		ActorID:     rec.ActorID,
		SubjectType: rec.SubjectType,
		SubjectID:   rec.SubjectID,
		EventType:   rec.EventType,
		ObjectType:  rec.ObjectType,
		ObjectID:    rec.ObjectID,
		CommitSHA:   rec.CommitSHA,
		IngestedAt:  ingestedAt,
	}
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return model.Event{}, errs.Wrapf(err, "marshal payload of %s", rec.EventType)
		}
		row.Payload = datatypes.JSON(raw)
	}
	return row, nil
}

func mapEvent(row model.Event) (interval.Event, error) {
	occurredAt, err := model.ParseTime(row.OccurredAt)
	if err != nil {
		return interval.Event{}, errs.Wrapf(err, "parse occurred_at of event %d", row.ID)
	}
	rec := activity.EventRecord{
		RepoID:      row.RepoID,
		OccurredAt:  occurredAt,
		ActorID:     row.ActorID,
		SubjectType: row.SubjectType,
		SubjectID:   row.SubjectID,
		EventType:   row.EventType,
		ObjectType:  row.ObjectType,
		ObjectID:    row.ObjectID,
		CommitSHA:   row.CommitSHA,
	}
	if len(row.Payload) > 0 && string(row.Payload) != "null" {
		if err := json.Unmarshal(row.Payload, &rec.Payload); err != nil {
			return interval.Event{}, errs.Wrapf(err, "decode payload of event %d", row.ID)
		}
	}
	return interval.Event{ID: row.ID, EventRecord: rec}, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := model.ParseTime(value.String)
	if err != nil {
		return nil, errs.Wrapf(err, "parse time %q", value.String)
	}
	return &t, nil
}
