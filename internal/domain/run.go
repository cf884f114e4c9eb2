package domain

import (
	"fmt"
	"time"
)

// Run is a named batch of generation jobs sharing a prompt and model.
type Run struct {
	ID             string
	BatchNumber    int
	Name           string
	CreatedAt      time.Time
	Prompt         string
	NegativePrompt string
	ModelID        string
	Version        string
}

// DefaultName is used when a run is created without a display name.
func (r Run) DefaultName() string {
	return fmt.Sprintf("Batch %d", r.BatchNumber)
}

// RunSummary decorates a run with aggregate counters used by listings.
type RunSummary struct {
	Run
	TotalImages   int64
	UnratedCount  int64
	UpscaledCount int64
	JobsByStatus  map[JobStatus]int64
	TotalCost     float64
}

// QueuedJobs is a convenience accessor over JobsByStatus.
func (s RunSummary) QueuedJobs() int64 {
	return s.JobsByStatus[JobStatusQueued]
}

// RunDeletion reports what a cascading run delete removed.
type RunDeletion struct {
	RunID    string
	Jobs     int64
	Images   int64
	Configs  int64
	FileKeys []string
	ImageIDs []string
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}
