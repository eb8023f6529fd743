package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"

	"ghchrono/internal/errs"
	"ghchrono/internal/infrastructure/persistence/sqlite/model"
	"ghchrono/internal/ports"
)

// Store is the SQLite implementation of every store port for one repository
// database.
type Store struct {
	db     *gorm.DB
	repoID atomic.Int64
}

var (
	_ ports.EventStore     = (*Store)(nil)
	_ ports.IntervalStore  = (*Store)(nil)
	_ ports.WatermarkStore = (*Store)(nil)
	_ ports.GapStore       = (*Store)(nil)
	_ ports.SnapshotStore  = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Init loads the repository id of an already seeded database.
func (s *Store) Init(ctx context.Context) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	var row model.Repo
	if err := db.Order("id asc").Limit(1).Find(&row).Error; err != nil {
		return errs.Wrap(err, "query seeded repo")
	}
	if row.ID != 0 {
		s.repoID.Store(row.ID)
	}
	return nil
}

// RepoID is zero until the repository row is seeded or loaded.
func (s *Store) RepoID() int64 {
	return s.repoID.Load()
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return s.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}
