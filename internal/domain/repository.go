package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RunRepository persists runs and their aggregate views.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Summary(ctx context.Context, id string) (*RunSummary, error)
	List(ctx context.Context, page Page) ([]RunSummary, int64, error)
	Delete(ctx context.Context, id string) (*RunDeletion, error)
}

// JobRepository is the durable job queue and its state machine.
type JobRepository interface {
	Enqueue(ctx context.Context, runID string, configs []json.RawMessage, initImageAssetID *string) ([]Job, error)
	Get(ctx context.Context, id int64) (*Job, error)
	Next(ctx context.Context) (*JobView, error)
	NextExcept(ctx context.Context, skip []int64) (*JobView, error)
	List(ctx context.Context, filter JobFilter) ([]JobView, error)
	MarkRunning(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, at time.Time) error
	Fail(ctx context.Context, id int64, message string, at time.Time) error
	Delete(ctx context.Context, id int64) error
	CancelQueued(ctx context.Context, runID string) (int64, error)
}

// ImageRepository handles generated images, their configs and curation.
type ImageRepository interface {
	Create(ctx context.Context, image *Image) error
	Get(ctx context.Context, id string) (*Image, error)
	List(ctx context.Context, filter ImageFilter) ([]Image, int64, error)
	ListIDs(ctx context.Context, runID string, page Page) ([]string, error)
	ListByRun(ctx context.Context, runID string) ([]Image, error)
	ApplyScores(ctx context.Context, id string, update ScoreUpdate) (*Image, error)
	RecordUpscale(ctx context.Context, id, upscaleURL string, creditCost float64) (*Image, error)
	Export(ctx context.Context) ([]ExportRow, error)
}

// AssetRepository handles uploaded seed images.
type AssetRepository interface {
	Create(ctx context.Context, asset *Asset) error
	Get(ctx context.Context, id string) (*Asset, error)
}

// Repository groups the entity repositories under one transaction scope.
type Repository interface {
	Runs() RunRepository
	Jobs() JobRepository
	Images() ImageRepository
	Assets() AssetRepository
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}
