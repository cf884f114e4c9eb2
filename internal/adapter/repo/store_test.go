package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sweeplab/internal/domain"
	"sweeplab/internal/infra"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := infra.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db)
}

func seedRun(t *testing.T, s *Store) *domain.Run {
	t.Helper()
	run := &domain.Run{Prompt: "a lighthouse at dusk", ModelID: "4zdwGOB"}
	require.NoError(t, s.Runs().Create(context.Background(), run))
	return run
}

func seedJobs(t *testing.T, s *Store, runID string, n int) []domain.Job {
	t.Helper()
	configs := make([]json.RawMessage, n)
	for i := range configs {
		configs[i] = json.RawMessage(fmt.Sprintf(`{"steps": %d}`, 20+i))
	}
	jobs, err := s.Jobs().Enqueue(context.Background(), runID, configs, nil)
	require.NoError(t, err)
	return jobs
}

func seedImage(t *testing.T, s *Store, runID string, index int, cost float64) *domain.Image {
	t.Helper()
	img := &domain.Image{
		RunID:      runID,
		FilePath:   fmt.Sprintf("images/%d.png", index),
		InfID:      "inf-1",
		BatchIndex: &index,
		Config: &domain.Config{
			Steps: 30, Scale: 7.5, Width: 512, Height: 768, Seed: 42, Scheduler: "DDIM",
			CreditCost:      cost,
			RawResponseJSON: []byte(`{"images":["https://cdn/a.png"]}`),
		},
	}
	require.NoError(t, s.Images().Create(context.Background(), img))
	return img
}

func intPtr(v int) *int { return &v }
