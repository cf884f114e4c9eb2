package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sweeplab/internal/domain"
)

// AssetRepositoryGorm implements domain.AssetRepository.
type AssetRepositoryGorm struct {
	db *gorm.DB
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(db *gorm.DB) *AssetRepositoryGorm {
	return &AssetRepositoryGorm{db: db}
}

// Create records an uploaded seed image.
func (r *AssetRepositoryGorm) Create(ctx context.Context, asset *domain.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	row := assetRow{
		ID:               asset.ID,
		OriginalFilename: asset.OriginalFilename,
		MIMEType:         asset.MIMEType,
		FilePath:         asset.FilePath,
		CreatedAt:        asset.CreatedAt,
	}
	return translate(r.db.WithContext(ctx).Create(&row).Error, "create asset")
}

// Get fetches an asset by id.
func (r *AssetRepositoryGorm) Get(ctx context.Context, id string) (*domain.Asset, error) {
	var row assetRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, "asset "+id)
	}
	asset := row.toDomain()
	return &asset, nil
}
