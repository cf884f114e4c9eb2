package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ProviderSinkIn = "sinkin"
)

type tokenRow struct {
	Provider   string         `gorm:"primaryKey;type:varchar(50)"`
	Token      string         `gorm:"type:text;not null"`
	Properties datatypes.JSON `gorm:"column:properties"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (tokenRow) TableName() string { return "integration_tokens" }

// Store keeps provider API keys in the database so binaries can run
// without the key in their environment.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the integration_tokens table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&tokenRow{})
}

func (s *Store) SinkInAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderSinkIn)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).Where("provider = ?", provider).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(row.Token), nil
}

func (s *Store) SetSinkInAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("sinkin api key is required")
	}
	return s.upsert(ctx, ProviderSinkIn, key, nil)
}

// ResolveAPIKey prefers the explicit value and falls back to the stored one.
func (s *Store) ResolveAPIKey(ctx context.Context, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	key, err := s.SinkInAPIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("load stored api key: %w", err)
	}
	return key, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	row := tokenRow{Provider: provider, Token: token, Properties: datatypes.JSON(raw), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "properties", "updated_at"}),
	}).Create(&row).Error
}
