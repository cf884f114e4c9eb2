package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeplab/internal/domain"
)

func TestApplyScoresIsPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	img := seedImage(t, s, run.ID, 0, 0.5)

	useAgain := domain.UseAgainYes
	_, err := s.Images().ApplyScores(ctx, img.ID, domain.ScoreUpdate{
		Scores:   domain.Scores{Overall: intPtr(4), LightingColor: intPtr(2)},
		UseAgain: &useAgain,
		Flaws:    []string{"Extra Fingers", "extra  fingers", " blurry "},
		FlawsSet: true,
	})
	require.NoError(t, err)

	got, err := s.Images().ApplyScores(ctx, img.ID, domain.ScoreUpdate{
		Scores: domain.Scores{Artifacts: intPtr(5)},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Scores.Overall)
	assert.Equal(t, 4, *got.Scores.Overall)
	require.NotNil(t, got.Scores.LightingColor)
	assert.Equal(t, 2, *got.Scores.LightingColor)
	require.NotNil(t, got.Scores.Artifacts)
	assert.Equal(t, 5, *got.Scores.Artifacts)
	assert.Nil(t, got.Scores.BodyProportions)
	assert.Equal(t, domain.UseAgainYes, got.UseAgain)
	assert.Equal(t, []string{"extra fingers", "blurry"}, got.Flaws)
}

func TestApplyScoresValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	img := seedImage(t, s, run.ID, 0, 0.5)

	_, err := s.Images().ApplyScores(ctx, img.ID, domain.ScoreUpdate{Scores: domain.Scores{Overall: intPtr(6)}})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	bad := domain.UseAgain("maybe")
	_, err = s.Images().ApplyScores(ctx, img.ID, domain.ScoreUpdate{UseAgain: &bad})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = s.Images().ApplyScores(ctx, "missing", domain.ScoreUpdate{Scores: domain.Scores{Overall: intPtr(3)}})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRecordUpscaleAccumulatesCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	img := seedImage(t, s, run.ID, 0, 0.5)

	_, err := s.Images().RecordUpscale(ctx, img.ID, "https://cdn/up1.png", 0.2)
	require.NoError(t, err)
	got, err := s.Images().RecordUpscale(ctx, img.ID, "https://cdn/up2.png", 0.3)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/up2.png", got.UpscaleURL)
	require.NotNil(t, got.Config)
	assert.InDelta(t, 1.0, got.Config.CreditCost, 1e-9)

	_, err = s.Images().RecordUpscale(ctx, "missing", "u", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListExcludesFailedImages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	a := seedImage(t, s, run.ID, 0, 0.5)
	b := seedImage(t, s, run.ID, 1, 0.5)
	failed := true
	_, err := s.Images().ApplyScores(ctx, b.ID, domain.ScoreUpdate{IsFailed: &failed})
	require.NoError(t, err)

	images, total, err := s.Images().List(ctx, domain.ImageFilter{RunID: run.ID, Page: domain.Page{Limit: 50}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, images, 1)
	assert.Equal(t, a.ID, images[0].ID)
	require.NotNil(t, images[0].Config)

	ids, err := s.Images().ListIDs(ctx, run.ID, domain.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}

func TestListUnratedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, s)
	a := seedImage(t, s, run.ID, 0, 0.5)
	b := seedImage(t, s, run.ID, 1, 0.5)
	_, err := s.Images().ApplyScores(ctx, a.ID, domain.ScoreUpdate{Scores: domain.Scores{Overall: intPtr(3)}})
	require.NoError(t, err)

	images, total, err := s.Images().List(ctx, domain.ImageFilter{UnratedOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, images, 1)
	assert.Equal(t, b.ID, images[0].ID)
}

func TestCreateImageRequiresRun(t *testing.T) {
	s := newTestStore(t)
	err := s.Images().Create(context.Background(), &domain.Image{RunID: "missing"})
	assert.Error(t, err)
}

func TestExportOrdersByBatchDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := seedRun(t, s)
	second := seedRun(t, s)
	seedImage(t, s, first.ID, 0, 0.5)
	seedImage(t, s, second.ID, 0, 0.5)

	rows, err := s.Images().Export(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.BatchNumber, rows[0].Run.BatchNumber)
	assert.Equal(t, first.BatchNumber, rows[1].Run.BatchNumber)
	require.NotNil(t, rows[0].Image.Config)
	assert.Equal(t, "DDIM", rows[0].Image.Config.Scheduler)
}
