package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed}

// ParseJobStatus rejects anything outside the closed status set.
func ParseJobStatus(raw string) (JobStatus, error) {
	status := JobStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", fmt.Errorf("%w: invalid status: %s", ErrValidation, raw)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo encodes queued -> running -> {completed|failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// Job is one queued unit of work for a single resolved parameter combination.
type Job struct {
	ID               int64
	RunID            string
	Status           JobStatus
	ConfigJSON       json.RawMessage
	InitImageAssetID *string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
}

// JobView is a job joined with the identifying fields of its run.
type JobView struct {
	Job
	RunName  string
	RunBatch int
}

// JobFilter narrows job listings. Zero values mean "any".
type JobFilter struct {
	Status JobStatus
	RunID  string
}
