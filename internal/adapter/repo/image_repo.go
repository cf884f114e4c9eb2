package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sweeplab/internal/domain"
)

// ImageRepositoryGorm implements domain.ImageRepository.
type ImageRepositoryGorm struct {
	db *gorm.DB
}

// NewImageRepository creates an image repository backed by gorm.
func NewImageRepository(db *gorm.DB) *ImageRepositoryGorm {
	return &ImageRepositoryGorm{db: db}
}

// Create inserts the image and, when present, its config.
func (r *ImageRepositoryGorm) Create(ctx context.Context, image *domain.Image) error {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}
	row, err := imageRowFromDomain(*image)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return translate(err, "create image")
		}
		if image.Config == nil {
			return nil
		}
		image.Config.ImageID = image.ID
		cfg := configRowFromDomain(*image.Config)
		if err := tx.Create(&cfg).Error; err != nil {
			return translate(err, "create config")
		}
		image.Config.ID = cfg.ID
		return nil
	})
}

// Get fetches an image with its config.
func (r *ImageRepositoryGorm) Get(ctx context.Context, id string) (*domain.Image, error) {
	var row imageRow
	if err := r.db.WithContext(ctx).Preload("Config").Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, "image "+id)
	}
	img := row.toDomain()
	return &img, nil
}

// List returns gallery images newest first. Images flagged as failed are
// never listed.
func (r *ImageRepositoryGorm) List(ctx context.Context, filter domain.ImageFilter) ([]domain.Image, int64, error) {
	q := r.db.WithContext(ctx).Model(&imageRow{}).Where("is_failed = ?", false)
	if filter.RunID != "" {
		q = q.Where("run_id = ?", filter.RunID)
	}
	if filter.UnratedOnly {
		q = q.Where("score_overall IS NULL")
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []imageRow
	q = q.Preload("Config").Order("created_at DESC").Order("id DESC").Offset(filter.Page.Offset)
	if filter.Page.Limit > 0 {
		q = q.Limit(filter.Page.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toImages(rows), total, nil
}

// ListIDs returns only the ids of a run's non-failed images, newest first.
func (r *ImageRepositoryGorm) ListIDs(ctx context.Context, runID string, page domain.Page) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&imageRow{}).
		Where("run_id = ? AND is_failed = ?", runID, false).
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.Offset)
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	ids := []string{}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListByRun returns every image of a run in generation order.
func (r *ImageRepositoryGorm) ListByRun(ctx context.Context, runID string) ([]domain.Image, error) {
	var rows []imageRow
	if err := r.db.WithContext(ctx).
		Preload("Config").
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Order("batch_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toImages(rows), nil
}

// ApplyScores updates only the fields present in update.
func (r *ImageRepositoryGorm) ApplyScores(ctx context.Context, id string, update domain.ScoreUpdate) (*domain.Image, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	fields := update.Scores.Columns()
	if update.UseAgain != nil {
		fields["use_again"] = string(*update.UseAgain)
	}
	if update.IsFailed != nil {
		fields["is_failed"] = *update.IsFailed
	}
	if update.FlawsSet {
		flaws, err := encodeFlaws(domain.NormalizeFlaws(update.Flaws))
		if err != nil {
			return nil, err
		}
		fields["flaws"] = flaws
	}
	if update.CurationStatus != nil {
		fields["curation_status"] = string(*update.CurationStatus)
	}

	var out *domain.Image
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").Where("id = ?", id).First(&imageRow{}).Error; err != nil {
			return translate(err, "image "+id)
		}
		if len(fields) > 0 {
			if err := tx.Model(&imageRow{}).Where("id = ?", id).Updates(fields).Error; err != nil {
				return err
			}
		}
		img, err := (&ImageRepositoryGorm{db: tx}).Get(ctx, id)
		out = img
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordUpscale stores the upscaled URL and adds creditCost to the config's
// running total with a single SQL expression.
func (r *ImageRepositoryGorm) RecordUpscale(ctx context.Context, id, upscaleURL string, creditCost float64) (*domain.Image, error) {
	var out *domain.Image
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&imageRow{}).Where("id = ?", id).Update("upscale_url", upscaleURL)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("image %s: %w", id, domain.ErrNotFound)
		}
		if err := tx.Model(&configRow{}).
			Where("image_id = ?", id).
			Update("credit_cost", gorm.Expr("credit_cost + ?", creditCost)).Error; err != nil {
			return err
		}
		img, err := (&ImageRepositoryGorm{db: tx}).Get(ctx, id)
		out = img
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export returns every image joined with its run and config, most recent
// batch first.
func (r *ImageRepositoryGorm) Export(ctx context.Context) ([]domain.ExportRow, error) {
	var rows []imageRow
	if err := r.db.WithContext(ctx).
		Preload("Config").
		Preload("Run").
		Joins("JOIN runs ON runs.id = images.run_id").
		Order("runs.batch_number DESC").
		Order("images.created_at DESC").
		Order("images.batch_index DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ExportRow, 0, len(rows))
	for _, row := range rows {
		er := domain.ExportRow{Image: row.toDomain()}
		if row.Run != nil {
			er.Run = row.Run.toDomain()
		}
		out = append(out, er)
	}
	return out, nil
}

func toImages(rows []imageRow) []domain.Image {
	out := make([]domain.Image, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}
