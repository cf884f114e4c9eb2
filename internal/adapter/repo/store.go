package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"sweeplab/internal/domain"
)

// Store implements domain.Repository on top of a gorm handle. Inside
// Transaction the handle is the transaction, so every repository obtained
// from the callback's Repository shares it.
type Store struct {
	db *gorm.DB
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Runs() domain.RunRepository     { return &RunRepositoryGorm{db: s.db} }
func (s *Store) Jobs() domain.JobRepository     { return &JobRepositoryGorm{db: s.db} }
func (s *Store) Images() domain.ImageRepository { return &ImageRepositoryGorm{db: s.db} }
func (s *Store) Assets() domain.AssetRepository { return &AssetRepositoryGorm{db: s.db} }

// Transaction runs fn with a Repository bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx domain.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates the schema for every persisted entity.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&runRow{}, &assetRow{}, &jobRow{}, &imageRow{}, &configRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, domain.ErrConflict)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%s: referenced row missing: %w", what, domain.ErrValidation)
	}
	return err
}
