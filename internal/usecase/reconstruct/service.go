package reconstruct

import (
	"context"
	"errors"
	"log/slog"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

type Store interface {
	ports.EventStore
	ports.IntervalStore
}

// Service rebuilds derived interval tables from the event log.
type Service struct {
	store Store
	uow   ports.UnitOfWork
}

func NewService(store Store, uow ports.UnitOfWork) *Service {
	return &Service{store: store, uow: uow}
}

// Rebuild deletes every interval of the scoped subjects and replays their
// events inside one transaction. An empty scope is a no-op.
func (s *Service) Rebuild(ctx context.Context, scope interval.Scope) (interval.Stats, error) {
	if ctx == nil {
		return interval.Stats{}, errors.New("context is required")
	}
	if scope.Empty() {
		return interval.Stats{}, nil
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.reconstruct"))
	scopeAttr := slog.String("scope", "all")
	if !scope.IsAll() {
		scopeAttr = slog.Int("scope_subjects", scope.Len())
	}
	logging.Info(logCtx, "interval rebuild started", scopeAttr)

	var stats interval.Stats
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		events, err := s.store.ListEvents(txCtx, scope)
		if err != nil {
			return errs.Wrap(err, "list events")
		}
		result, err := interval.Replay(events)
		if err != nil {
			return err
		}
		if err := s.store.ReplaceIntervals(txCtx, scope, result.Intervals); err != nil {
			return errs.Wrap(err, "replace intervals")
		}
		stats = result.Stats
		return nil
	})
	if err != nil {
		logging.Error(logCtx, "interval rebuild failed", slog.Any("err", errs.Loggable(err)))
		return interval.Stats{}, errs.Wrap(err, "rebuild intervals")
	}

	logging.Info(logCtx, "interval rebuild finished",
		scopeAttr,
		slog.Int("events", stats.Events),
		slog.Int("opened", stats.Opened),
		slog.Int("closed", stats.Closed),
		slog.Int("ignored", stats.Ignored),
		slog.Int("orphan_removes", stats.OrphanRemoves),
	)
	if stats.OrphanRemoves > 0 {
		logging.Warn(logCtx, "remove events without a matching open interval", slog.Int("count", stats.OrphanRemoves))
	}
	return stats, nil
}
