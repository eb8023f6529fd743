package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	"ghchrono/internal/ports"
)

const intervalBatchSize = 200

func intervalTable(family interval.Family) (any, error) {
	switch family {
	case interval.IssueState:
		return &model.IssueStateInterval{}, nil
	case interval.IssueContent:
		return &model.IssueContentInterval{}, nil
	case interval.IssueLabel:
		return &model.IssueLabelInterval{}, nil
	case interval.IssueAssignee:
		return &model.IssueAssigneeInterval{}, nil
	case interval.IssueMilestone:
		return &model.IssueMilestoneInterval{}, nil
	case interval.PRDraft:
		return &model.PRDraftInterval{}, nil
	case interval.PRHead:
		return &model.PRHeadInterval{}, nil
	case interval.PRReviewRequest:
		return &model.PRReviewRequestInterval{}, nil
	case interval.CommentContent:
		return &model.CommentContentInterval{}, nil
	case interval.ReviewContent:
		return &model.ReviewContentInterval{}, nil
	}
	return nil, fmt.Errorf("unknown interval family %q", family)
}

func (s *Store) ReplaceIntervals(ctx context.Context, scope interval.Scope, intervals []interval.Interval) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	for _, iv := range intervals {
		if !scope.Contains(iv.Subject()) {
			return errs.Invariant("%s interval for %s/%d outside rebuild scope", iv.Family, iv.SubjectType, iv.SubjectID)
		}
	}

	for _, family := range interval.Families() {
		table, err := intervalTable(family)
		if err != nil {
			return err
		}
		if err := deleteScoped(db, table, scope); err != nil {
			return errs.Wrapf(err, "delete %s intervals", family)
		}
	}

	grouped := make(map[interval.Family][]interval.Interval)
	for _, iv := range intervals {
		grouped[iv.Family] = append(grouped[iv.Family], iv)
	}
	for _, family := range interval.Families() {
		items := grouped[family]
		if len(items) == 0 {
			continue
		}
		if err := insertIntervals(db, family, items); err != nil {
			return errs.Wrapf(err, "insert %s intervals", family)
		}
	}
	return nil
}

func (s *Store) ListIntervals(ctx context.Context, family interval.Family, subject activity.Subject) ([]ports.TimedInterval, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	intervals, err := loadIntervals(db.Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).Order("start_event_id asc"), family)
	if err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(intervals)*2)
	for _, iv := range intervals {
		ids = append(ids, iv.StartEventID)
		if iv.EndEventID != nil {
			ids = append(ids, *iv.EndEventID)
		}
	}
	var rows []model.Event
	if err := db.Select("id", "occurred_at").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query interval boundary events")
	}
	times := make(map[int64]time.Time, len(rows))
	for _, row := range rows {
		t, err := model.ParseTime(row.OccurredAt)
		if err != nil {
			return nil, errs.Wrapf(err, "parse occurred_at of event %d", row.ID)
		}
		times[row.ID] = t
	}

	out := make([]ports.TimedInterval, 0, len(intervals))
	for _, iv := range intervals {
		start, ok := times[iv.StartEventID]
		if !ok {
			return nil, errs.Invariant("%s interval starts at missing event %d", family, iv.StartEventID)
		}
		timed := ports.TimedInterval{Interval: iv, StartAt: start}
		if iv.EndEventID != nil {
			end, ok := times[*iv.EndEventID]
			if !ok {
				return nil, errs.Invariant("%s interval ends at missing event %d", family, *iv.EndEventID)
			}
			timed.EndAt = &end
		}
		out = append(out, timed)
	}
	return out, nil
}

// ListAllIntervals returns every stored interval in canonical order.
func (s *Store) ListAllIntervals(ctx context.Context) ([]interval.Interval, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var all []interval.Interval
	for _, family := range interval.Families() {
		items, err := loadIntervals(db, family)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	interval.SortIntervals(all)
	return all, nil
}

func deleteScoped(db *gorm.DB, table any, scope interval.Scope) error {
	if scope.IsAll() {
		return db.Where("1 = 1").Delete(table).Error
	}
	for subjectType, ids := range scope.IDsByType() {
		if err := db.Where("subject_type = ? AND subject_id IN ?", subjectType, ids).Delete(table).Error; err != nil {
			return err
		}
	}
	return nil
}

func keyRow(iv interval.Interval) model.IntervalKey {
	return model.IntervalKey{
		SubjectType:  iv.SubjectType,
		SubjectID:    iv.SubjectID,
		ValueKey:     iv.ValueKey,
		StartEventID: iv.StartEventID,
		EndEventID:   iv.EndEventID,
	}
}

func insertIntervals(db *gorm.DB, family interval.Family, items []interval.Interval) error {
	switch family {
	case interval.IssueState:
		rows := make([]model.IssueStateInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.IssueStateInterval{IntervalKey: keyRow(iv), State: iv.Value.State})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.IssueContent:
		rows := make([]model.IssueContentInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.IssueContentInterval{IntervalKey: keyRow(iv), Title: iv.Value.Title, Body: iv.Value.Body})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.IssueLabel:
		rows := make([]model.IssueLabelInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.IssueLabelInterval{IntervalKey: keyRow(iv), Label: iv.Value.ObjectID})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.IssueAssignee:
		rows := make([]model.IssueAssigneeInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.IssueAssigneeInterval{IntervalKey: keyRow(iv), AssigneeID: iv.Value.ObjectID})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.IssueMilestone:
		rows := make([]model.IssueMilestoneInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.IssueMilestoneInterval{IntervalKey: keyRow(iv), Milestone: iv.Value.ObjectID})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.PRDraft:
		rows := make([]model.PRDraftInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.PRDraftInterval{IntervalKey: keyRow(iv), IsDraft: iv.Value.IsDraft})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.PRHead:
		rows := make([]model.PRHeadInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.PRHeadInterval{IntervalKey: keyRow(iv), HeadSHA: iv.Value.SHA})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.PRReviewRequest:
		rows := make([]model.PRReviewRequestInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.PRReviewRequestInterval{IntervalKey: keyRow(iv), ReviewerType: iv.Value.ObjectType, ReviewerID: iv.Value.ObjectID})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.CommentContent:
		rows := make([]model.CommentContentInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.CommentContentInterval{IntervalKey: keyRow(iv), Body: iv.Value.Body})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	case interval.ReviewContent:
		rows := make([]model.ReviewContentInterval, 0, len(items))
		for _, iv := range items {
			rows = append(rows, model.ReviewContentInterval{IntervalKey: keyRow(iv), State: iv.Value.State, Body: iv.Value.Body, CommitID: iv.Value.SHA})
		}
		return db.CreateInBatches(rows, intervalBatchSize).Error
	}
	return fmt.Errorf("unknown interval family %q", family)
}

func fromKey(family interval.Family, key model.IntervalKey, value interval.Value) interval.Interval {
	return interval.Interval{
		Family:       family,
		SubjectType:  key.SubjectType,
		SubjectID:    key.SubjectID,
		ValueKey:     key.ValueKey,
		Value:        value,
		StartEventID: key.StartEventID,
		EndEventID:   key.EndEventID,
	}
}

func loadIntervals(query *gorm.DB, family interval.Family) ([]interval.Interval, error) {
	var out []interval.Interval
	var err error
	switch family {
	case interval.IssueState:
		var rows []model.IssueStateInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{State: r.State}))
			}
		}
	case interval.IssueContent:
		var rows []model.IssueContentInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{Title: r.Title, Body: r.Body}))
			}
		}
	case interval.IssueLabel:
		var rows []model.IssueLabelInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{ObjectType: activity.ObjectLabel, ObjectID: r.Label}))
			}
		}
	case interval.IssueAssignee:
		var rows []model.IssueAssigneeInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{ObjectType: activity.ObjectUser, ObjectID: r.AssigneeID}))
			}
		}
	case interval.IssueMilestone:
		var rows []model.IssueMilestoneInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{ObjectType: activity.ObjectMilestone, ObjectID: r.Milestone}))
			}
		}
	case interval.PRDraft:
		var rows []model.PRDraftInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{IsDraft: r.IsDraft}))
			}
		}
	case interval.PRHead:
		var rows []model.PRHeadInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{SHA: r.HeadSHA}))
			}
		}
	case interval.PRReviewRequest:
		var rows []model.PRReviewRequestInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{ObjectType: r.ReviewerType, ObjectID: r.ReviewerID}))
			}
		}
	case interval.CommentContent:
		var rows []model.CommentContentInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{Body: r.Body}))
			}
		}
	case interval.ReviewContent:
		var rows []model.ReviewContentInterval
		if err = query.Find(&rows).Error; err == nil {
			for _, r := range rows {
				out = append(out, fromKey(family, r.IntervalKey, interval.Value{State: r.State, Body: r.Body, SHA: r.CommitID}))
			}
		}
	default:
		return nil, fmt.Errorf("unknown interval family %q", family)
	}
	if err != nil {
		return nil, errs.Wrapf(err, "query %s intervals", family)
	}
	return out, nil
}
