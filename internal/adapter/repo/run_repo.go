package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sweeplab/internal/domain"
)

// RunRepositoryGorm implements domain.RunRepository.
type RunRepositoryGorm struct {
	db *gorm.DB
}

// NewRunRepository creates a run repository backed by gorm.
func NewRunRepository(db *gorm.DB) *RunRepositoryGorm {
	return &RunRepositoryGorm{db: db}
}

// Create assigns the next batch number and inserts the run. The read of the
// current maximum and the insert share a transaction; a concurrent writer that
// wins the race makes the unique index fail and the call returns ErrConflict.
func (r *RunRepositoryGorm) Create(ctx context.Context, run *domain.Run) error {
	if strings.TrimSpace(run.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if strings.TrimSpace(run.ModelID) == "" {
		return fmt.Errorf("%w: model_id is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxBatch int
		if err := tx.Model(&runRow{}).Select("COALESCE(MAX(batch_number), 0)").Row().Scan(&maxBatch); err != nil {
			return err
		}
		run.BatchNumber = maxBatch + 1
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		if strings.TrimSpace(run.Name) == "" {
			run.Name = run.DefaultName()
		}
		if run.CreatedAt.IsZero() {
			run.CreatedAt = time.Now().UTC()
		}
		row := runRow{
			ID:             run.ID,
			BatchNumber:    run.BatchNumber,
			Name:           run.Name,
			CreatedAt:      run.CreatedAt,
			Prompt:         run.Prompt,
			NegativePrompt: run.NegativePrompt,
			ModelID:        run.ModelID,
			Version:        run.Version,
		}
		return translate(tx.Create(&row).Error, "create run")
	})
}

// Get fetches a run by id.
func (r *RunRepositoryGorm) Get(ctx context.Context, id string) (*domain.Run, error) {
	var row runRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, "run "+id)
	}
	run := row.toDomain()
	return &run, nil
}

// Summary returns the run with image counters, jobs by status and total cost.
func (r *RunRepositoryGorm) Summary(ctx context.Context, id string) (*domain.RunSummary, error) {
	run, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	summaries, err := r.summarize(ctx, []domain.Run{*run})
	if err != nil {
		return nil, err
	}
	return &summaries[0], nil
}

// List returns runs newest first with their summaries and the total count.
func (r *RunRepositoryGorm) List(ctx context.Context, page domain.Page) ([]domain.RunSummary, int64, error) {
	db := r.db.WithContext(ctx)
	var total int64
	if err := db.Model(&runRow{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []runRow
	q := db.Order("created_at DESC").Order("batch_number DESC").Offset(page.Offset)
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	runs := make([]domain.Run, len(rows))
	for i, row := range rows {
		runs[i] = row.toDomain()
	}
	summaries, err := r.summarize(ctx, runs)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

type imageCounters struct {
	RunID    string
	Total    int64
	Unrated  int64
	Upscaled int64
}

type jobCounter struct {
	RunID  string
	Status string
	Count  int64
}

type costTotal struct {
	RunID string
	Cost  float64
}

func (r *RunRepositoryGorm) summarize(ctx context.Context, runs []domain.Run) ([]domain.RunSummary, error) {
	out := make([]domain.RunSummary, len(runs))
	if len(runs) == 0 {
		return out, nil
	}
	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	db := r.db.WithContext(ctx)

	var images []imageCounters
	if err := db.Model(&imageRow{}).
		Select(`run_id,
			COUNT(*) AS total,
			SUM(CASE WHEN score_overall IS NULL THEN 1 ELSE 0 END) AS unrated,
			SUM(CASE WHEN upscale_url IS NOT NULL AND upscale_url <> '' THEN 1 ELSE 0 END) AS upscaled`).
		Where("run_id IN ?", ids).
		Group("run_id").
		Scan(&images).Error; err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}

	var jobs []jobCounter
	if err := db.Model(&jobRow{}).
		Select("run_id, status, COUNT(*) AS count").
		Where("run_id IN ?", ids).
		Group("run_id, status").
		Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	var costs []costTotal
	if err := db.Table("configs").
		Select("images.run_id AS run_id, COALESCE(SUM(configs.credit_cost), 0) AS cost").
		Joins("JOIN images ON images.id = configs.image_id").
		Where("images.run_id IN ?", ids).
		Group("images.run_id").
		Scan(&costs).Error; err != nil {
		return nil, fmt.Errorf("sum cost: %w", err)
	}

	byRun := make(map[string]*domain.RunSummary, len(runs))
	for i, run := range runs {
		out[i] = domain.RunSummary{Run: run, JobsByStatus: map[domain.JobStatus]int64{}}
		for _, status := range domain.JobStatuses {
			out[i].JobsByStatus[status] = 0
		}
		byRun[run.ID] = &out[i]
	}
	for _, c := range images {
		s := byRun[c.RunID]
		s.TotalImages, s.UnratedCount, s.UpscaledCount = c.Total, c.Unrated, c.Upscaled
	}
	for _, c := range jobs {
		byRun[c.RunID].JobsByStatus[domain.JobStatus(c.Status)] = c.Count
	}
	for _, c := range costs {
		byRun[c.RunID].TotalCost = c.Cost
	}
	return out, nil
}

// Delete removes the run with its configs, images and jobs in one
// transaction, children first. It reports the removed storage keys so the
// caller can clean up files after commit.
func (r *RunRepositoryGorm) Delete(ctx context.Context, id string) (*domain.RunDeletion, error) {
	result := &domain.RunDeletion{RunID: id}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row runRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return translate(err, "run "+id)
		}

		var images []imageRow
		if err := tx.Select("id", "file_path").Where("run_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		for _, img := range images {
			result.ImageIDs = append(result.ImageIDs, img.ID)
			if img.FilePath != "" {
				result.FileKeys = append(result.FileKeys, img.FilePath)
			}
		}

		configs := tx.Where("image_id IN (?)", tx.Model(&imageRow{}).Select("id").Where("run_id = ?", id)).Delete(&configRow{})
		if configs.Error != nil {
			return fmt.Errorf("delete configs: %w", configs.Error)
		}
		result.Configs = configs.RowsAffected

		imgs := tx.Where("run_id = ?", id).Delete(&imageRow{})
		if imgs.Error != nil {
			return fmt.Errorf("delete images: %w", imgs.Error)
		}
		result.Images = imgs.RowsAffected

		jobs := tx.Where("run_id = ?", id).Delete(&jobRow{})
		if jobs.Error != nil {
			return fmt.Errorf("delete jobs: %w", jobs.Error)
		}
		result.Jobs = jobs.RowsAffected

		return tx.Delete(&runRow{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
