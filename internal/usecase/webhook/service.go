package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
)

var ErrRepoMismatch = errors.New("webhook repository does not match store")

type Store interface {
	RepoID() int64
	InsertEvents(ctx context.Context, records []activity.EventRecord) (int, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, scope interval.Scope) (interval.Stats, error)
}

// Service applies normalized webhook deliveries to one repository store.
type Service struct {
	store   Store
	uow     ports.UnitOfWork
	rebuild Rebuilder
}

func NewService(store Store, uow ports.UnitOfWork, rebuild Rebuilder) *Service {
	return &Service{store: store, uow: uow, rebuild: rebuild}
}

type Outcome struct {
	Inserted int                `json:"inserted"`
	Subjects []activity.Subject `json:"subjects"`
	Rebuild  interval.Stats     `json:"rebuild"`
}

// Apply inserts the delivery's events and rebuilds the intervals of the
// subjects it touched.
func (s *Service) Apply(ctx context.Context, delivery activity.WebhookResult) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, errors.New("context is required")
	}
	if repoID := s.store.RepoID(); repoID != 0 && delivery.RepoID != 0 && repoID != delivery.RepoID {
		return Outcome{}, fmt.Errorf("%w: delivery repo %d, store repo %d", ErrRepoMismatch, delivery.RepoID, repoID)
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.webhook"), slog.String("repo", delivery.RepoFullName))

	outcome := Outcome{Subjects: delivery.Subjects()}
	if len(delivery.Records) == 0 {
		return outcome, nil
	}
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		inserted, err := s.store.InsertEvents(txCtx, delivery.Records)
		if err != nil {
			return errs.Wrap(err, "insert webhook events")
		}
		outcome.Inserted = inserted
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if outcome.Inserted == 0 {
		logging.Debug(logCtx, "webhook delivery already ingested")
		return outcome, nil
	}

	stats, err := s.rebuild.Rebuild(ctx, interval.ScopeOf(outcome.Subjects...))
	if err != nil {
		return Outcome{}, err
	}
	outcome.Rebuild = stats
	logging.Info(logCtx, "webhook delivery applied", slog.Int("inserted", outcome.Inserted), slog.Int("subjects", len(outcome.Subjects)))
	return outcome, nil
}
