package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeplab/internal/domain"
)

func TestRunCreateAssignsSequentialBatchNumbers(t *testing.T) {
	s := newTestStore(t)
	first := seedRun(t, s)
	second := &domain.Run{Name: "portraits", Prompt: "p", ModelID: "m"}
	require.NoError(t, s.Runs().Create(context.Background(), second))

	assert.Equal(t, 1, first.BatchNumber)
	assert.Equal(t, "Batch 1", first.Name)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 2, second.BatchNumber)
	assert.Equal(t, "portraits", second.Name)
}

func TestRunCreateRejectsMissingPrompt(t *testing.T) {
	s := newTestStore(t)
	err := s.Runs().Create(context.Background(), &domain.Run{ModelID: "m"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRunGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Runs().Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunSummaryCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	jobs := seedJobs(t, s, run.ID, 3)
	require.NoError(t, s.Jobs().MarkRunning(ctx, jobs[0].ID))

	a := seedImage(t, s, run.ID, 0, 0.5)
	seedImage(t, s, run.ID, 1, 0.25)
	_, err := s.Images().ApplyScores(ctx, a.ID, domain.ScoreUpdate{Scores: domain.Scores{Overall: intPtr(4)}})
	require.NoError(t, err)
	_, err = s.Images().RecordUpscale(ctx, a.ID, "https://cdn/up.png", 0.25)
	require.NoError(t, err)

	summary, err := s.Runs().Summary(ctx, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.TotalImages)
	assert.EqualValues(t, 1, summary.UnratedCount)
	assert.EqualValues(t, 1, summary.UpscaledCount)
	assert.EqualValues(t, 2, summary.QueuedJobs())
	assert.EqualValues(t, 1, summary.JobsByStatus[domain.JobStatusRunning])
	assert.EqualValues(t, 0, summary.JobsByStatus[domain.JobStatusCompleted])
	assert.InDelta(t, 1.0, summary.TotalCost, 1e-9)
}

func TestRunListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s)
	seedRun(t, s)
	third := seedRun(t, s)

	runs, total, err := s.Runs().List(context.Background(), domain.Page{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, runs, 2)
	assert.Equal(t, third.ID, runs[0].ID)
}

func TestRunDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	other := seedRun(t, s)
	seedJobs(t, s, run.ID, 2)
	seedJobs(t, s, other.ID, 1)
	seedImage(t, s, run.ID, 0, 0.5)
	seedImage(t, s, run.ID, 1, 0.5)
	kept := seedImage(t, s, other.ID, 0, 0.5)

	deletion, err := s.Runs().Delete(ctx, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deletion.Jobs)
	assert.EqualValues(t, 2, deletion.Images)
	assert.EqualValues(t, 2, deletion.Configs)
	assert.ElementsMatch(t, []string{"images/0.png", "images/1.png"}, deletion.FileKeys)

	var orphans int64
	require.NoError(t, s.DB().Model(&jobRow{}).Where("run_id = ?", run.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
	require.NoError(t, s.DB().Model(&imageRow{}).Where("run_id = ?", run.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
	require.NoError(t, s.DB().Model(&configRow{}).
		Where("image_id NOT IN (?)", s.DB().Model(&imageRow{}).Select("id")).
		Count(&orphans).Error)
	assert.Zero(t, orphans)

	_, err = s.Runs().Get(ctx, run.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.Images().Get(ctx, kept.ID)
	assert.NoError(t, err)

	_, err = s.Runs().Delete(ctx, run.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx domain.Repository) error {
		run := &domain.Run{Prompt: "p", ModelID: "m"}
		if err := tx.Runs().Create(ctx, run); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := s.Runs().List(ctx, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
