package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sweeplab/internal/domain"
)

// JobRepositoryGorm implements domain.JobRepository.
type JobRepositoryGorm struct {
	db *gorm.DB
}

// NewJobRepository creates a job repository backed by gorm.
func NewJobRepository(db *gorm.DB) *JobRepositoryGorm {
	return &JobRepositoryGorm{db: db}
}

// Enqueue inserts one queued job per configuration in the given order.
func (r *JobRepositoryGorm) Enqueue(ctx context.Context, runID string, configs []json.RawMessage, initImageAssetID *string) ([]domain.Job, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("id = ?", runID).First(&runRow{}).Error; err != nil {
		return nil, translate(err, "run "+runID)
	}
	if initImageAssetID != nil {
		err := db.Where("id = ?", *initImageAssetID).First(&assetRow{}).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: init image asset not found", domain.ErrValidation)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(configs) == 0 {
		return []domain.Job{}, nil
	}

	now := time.Now().UTC()
	rows := make([]jobRow, len(configs))
	for i, cfg := range configs {
		rows[i] = jobRow{
			RunID:            runID,
			Status:           string(domain.JobStatusQueued),
			ConfigJSON:       datatypes.JSON(cfg),
			InitImageAssetID: initImageAssetID,
			CreatedAt:        now,
		}
	}
	if err := db.Create(&rows).Error; err != nil {
		return nil, translate(err, "enqueue jobs")
	}
	out := make([]domain.Job, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// Get fetches a job by id.
func (r *JobRepositoryGorm) Get(ctx context.Context, id int64) (*domain.Job, error) {
	var row jobRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("job %d", id))
	}
	job := row.toDomain()
	return &job, nil
}

// Next returns the oldest queued job across all runs, or nil when the queue
// is empty. Ties on creation time fall back to insertion order.
func (r *JobRepositoryGorm) Next(ctx context.Context) (*domain.JobView, error) {
	return r.NextExcept(ctx, nil)
}

// NextExcept is Next ignoring the given job ids.
func (r *JobRepositoryGorm) NextExcept(ctx context.Context, skip []int64) (*domain.JobView, error) {
	q := r.db.WithContext(ctx).
		Preload("Run").
		Where("status = ?", domain.JobStatusQueued)
	if len(skip) > 0 {
		q = q.Where("id NOT IN ?", skip)
	}
	var rows []jobRow
	err := q.Order("created_at ASC").
		Order("id ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	view := toJobView(rows[0])
	return &view, nil
}

// List returns jobs newest first, optionally filtered by status and run.
func (r *JobRepositoryGorm) List(ctx context.Context, filter domain.JobFilter) ([]domain.JobView, error) {
	q := r.db.WithContext(ctx).Preload("Run")
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: invalid status: %s", domain.ErrValidation, filter.Status)
		}
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RunID != "" {
		q = q.Where("run_id = ?", filter.RunID)
	}
	var rows []jobRow
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.JobView, len(rows))
	for i, row := range rows {
		out[i] = toJobView(row)
	}
	return out, nil
}

// MarkRunning moves a queued job to running.
func (r *JobRepositoryGorm) MarkRunning(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.JobStatusQueued, domain.JobStatusRunning, map[string]any{})
}

// Complete moves a running job to completed.
func (r *JobRepositoryGorm) Complete(ctx context.Context, id int64, at time.Time) error {
	return r.transition(ctx, id, domain.JobStatusRunning, domain.JobStatusCompleted, map[string]any{
		"completed_at": at.UTC(),
	})
}

// Fail moves a running job to failed and records the reason verbatim.
func (r *JobRepositoryGorm) Fail(ctx context.Context, id int64, message string, at time.Time) error {
	return r.transition(ctx, id, domain.JobStatusRunning, domain.JobStatusFailed, map[string]any{
		"completed_at":  at.UTC(),
		"error_message": message,
	})
}

// transition applies a conditional update guarded by the expected current
// status so that a concurrent or repeated call can never move a job backwards.
func (r *JobRepositoryGorm) transition(ctx context.Context, id int64, from, to domain.JobStatus, fields map[string]any) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	fields["status"] = string(to)
	db := r.db.WithContext(ctx)
	res := db.Model(&jobRow{}).Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s, expected %s", domain.ErrInvalidTransition, id, current.Status, from)
}

// Delete removes a job unless it is running.
func (r *JobRepositoryGorm) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return translate(err, fmt.Sprintf("job %d", id))
		}
		if row.Status == string(domain.JobStatusRunning) {
			return fmt.Errorf("%w: cannot delete a running job", domain.ErrConflict)
		}
		res := tx.Where("id = ? AND status <> ?", id, domain.JobStatusRunning).Delete(&jobRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot delete a running job", domain.ErrConflict)
		}
		return nil
	})
}

// CancelQueued deletes every queued job, optionally only for one run, and
// returns how many were removed.
func (r *JobRepositoryGorm) CancelQueued(ctx context.Context, runID string) (int64, error) {
	q := r.db.WithContext(ctx).Where("status = ?", domain.JobStatusQueued)
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	res := q.Delete(&jobRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func toJobView(row jobRow) domain.JobView {
	view := domain.JobView{Job: row.toDomain()}
	if row.Run != nil {
		view.RunName = row.Run.Name
		view.RunBatch = row.Run.BatchNumber
	}
	return view
}
