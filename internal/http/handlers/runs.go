package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeplab/internal/domain"
	"sweeplab/internal/domain/jsoncfg"
	"sweeplab/internal/storage"
	"sweeplab/internal/sweep"
	"sweeplab/pkg/zip"
)

const (
	maxTotalJobs     = 100
	promptPreviewLen = 100
)

// sweepRequest is the multi-valued parameter set shared by run creation and
// follow-up enqueues.
type sweepRequest struct {
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	StepsList        []int     `json:"steps_list"`
	ScaleList        []float64 `json:"scale_list"`
	SchedulerList    []string  `json:"scheduler_list"`
	NumImages        int       `json:"num_images"`
	Seed             int64     `json:"seed"`
	InitImageAssetID *string   `json:"init_image_asset_id"`
	ImageStrength    float64   `json:"image_strength"`
	ControlNet       *string   `json:"controlnet"`
	LoRA             *string   `json:"lora"`
	LoRAScale        float64   `json:"lora_scale"`
	TotalJobs        int       `json:"total_jobs"`
	UseDefaultNeg    bool      `json:"use_default_neg"`
}

type runCreateRequest struct {
	Name           *string `json:"name"`
	Prompt         string  `json:"prompt"`
	NegativePrompt *string `json:"negative_prompt"`
	ModelID        string  `json:"model_id"`
	Version        *string `json:"version"`
	sweepRequest
}

func defaultSweep() sweepRequest {
	return sweepRequest{
		Width:         jsoncfg.DefaultWidth,
		Height:        jsoncfg.DefaultHeight,
		StepsList:     []int{jsoncfg.DefaultSteps},
		ScaleList:     []float64{jsoncfg.DefaultScale},
		SchedulerList: []string{jsoncfg.DefaultScheduler},
		NumImages:     jsoncfg.DefaultNumImages,
		Seed:          jsoncfg.RandomSeed,
		ImageStrength: jsoncfg.DefaultImageStrength,
		LoRAScale:     jsoncfg.DefaultLoRAScale,
		TotalJobs:     1,
		UseDefaultNeg: true,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// expand validates the sweep and returns the encoded job configurations.
func (s sweepRequest) expand() ([]json.RawMessage, []jsoncfg.JobConfig, error) {
	if s.TotalJobs < 1 || s.TotalJobs > maxTotalJobs {
		return nil, nil, fmt.Errorf("%w: total_jobs must be between 1 and %d", domain.ErrValidation, maxTotalJobs)
	}
	base := sweep.Base{
		Width:         s.Width,
		Height:        s.Height,
		NumImages:     s.NumImages,
		Seed:          s.Seed,
		ImageStrength: s.ImageStrength,
		UseDefaultNeg: s.UseDefaultNeg,
		ControlNet:    deref(s.ControlNet),
		LoRA:          deref(s.LoRA),
	}
	if base.LoRA != "" {
		scale := s.LoRAScale
		base.LoRAScale = &scale
	}
	configs, err := sweep.Expand(base, sweep.Axes{Steps: s.StepsList, Scales: s.ScaleList, Schedulers: s.SchedulerList}, s.TotalJobs)
	if err != nil {
		return nil, nil, err
	}
	raws := make([]json.RawMessage, len(configs))
	for i, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		raws[i] = jsoncfg.MustMarshal(cfg)
	}
	return raws, configs, nil
}

func (s sweepRequest) assetID() *string {
	if id := deref(s.InitImageAssetID); id != "" {
		return &id
	}
	return nil
}

func jobsCreated(jobs []domain.Job, configs []jsoncfg.JobConfig) []map[string]any {
	out := make([]map[string]any, len(jobs))
	for i, job := range jobs {
		out[i] = map[string]any{"id": job.ID, "config": configs[i]}
	}
	return out
}

func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	req := runCreateRequest{sweepRequest: defaultSweep()}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	if strings.TrimSpace(req.ModelID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model_id is required")
		return
	}
	raws, configs, err := req.expand()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	run := domain.Run{
		Name:           deref(req.Name),
		Prompt:         req.Prompt,
		NegativePrompt: deref(req.NegativePrompt),
		ModelID:        strings.TrimSpace(req.ModelID),
		Version:        deref(req.Version),
	}
	var jobs []domain.Job
	err = a.Repo.Transaction(r.Context(), func(tx domain.Repository) error {
		if err := tx.Runs().Create(r.Context(), &run); err != nil {
			return err
		}
		var err error
		jobs, err = tx.Jobs().Enqueue(r.Context(), run.ID, raws, req.assetID())
		return err
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("run_id", run.ID).Int("batch", run.BatchNumber).Int("jobs", len(jobs)).Msg("run created")
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"run": map[string]any{
			"id":           run.ID,
			"batch_number": run.BatchNumber,
			"name":         run.Name,
			"prompt":       run.Prompt,
			"model_id":     run.ModelID,
		},
		"jobs_created": len(jobs),
		"jobs":         jobsCreated(jobs, configs),
	})
}

// EnqueueRunJobs adds another sweep to an existing run.
func (a *App) EnqueueRunJobs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	req := defaultSweep()
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	raws, configs, err := req.expand()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs, err := a.Repo.Jobs().Enqueue(r.Context(), runID, raws, req.assetID())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":      true,
		"run_id":       runID,
		"jobs_created": len(jobs),
		"jobs":         jobsCreated(jobs, configs),
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func preview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > promptPreviewLen {
		return string(runes[:promptPreviewLen]) + "..."
	}
	return prompt
}

func (a *App) ListRuns(w http.ResponseWriter, r *http.Request) {
	p, err := page(r, 50, 200)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	summaries, total, err := a.Repo.Runs().List(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, map[string]any{
			"id":             s.ID,
			"batch_number":   s.BatchNumber,
			"name":           s.Name,
			"created_at":     s.CreatedAt.UTC().Format(time.RFC3339Nano),
			"prompt":         preview(s.Prompt),
			"model_id":       s.ModelID,
			"total_images":   s.TotalImages,
			"unrated_count":  s.UnratedCount,
			"upscaled_count": s.UpscaledCount,
			"queued_jobs":    s.QueuedJobs(),
			"total_cost":     round2(s.TotalCost),
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
		"runs":   items,
	})
}

func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	s, err := a.Repo.Runs().Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs := make(map[string]int64, len(domain.JobStatuses))
	for _, status := range domain.JobStatuses {
		jobs[string(status)] = s.JobsByStatus[status]
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":              s.ID,
		"batch_number":    s.BatchNumber,
		"name":            s.Name,
		"created_at":      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"prompt":          s.Prompt,
		"negative_prompt": s.NegativePrompt,
		"model_id":        s.ModelID,
		"version":         s.Version,
		"counts": map[string]int64{
			"total_images": s.TotalImages,
			"unrated":      s.UnratedCount,
			"upscaled":     s.UpscaledCount,
		},
		"jobs":       jobs,
		"total_cost": round2(s.TotalCost),
	})
}

// DeleteRun cascades through the repository, then removes stored files.
func (a *App) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	deleted, err := a.Repo.Runs().Delete(r.Context(), runID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if a.Files != nil {
		keys := append([]string{}, deleted.FileKeys...)
		for _, id := range deleted.ImageIDs {
			keys = append(keys, storage.ThumbnailKey(id))
		}
		for _, key := range keys {
			if err := a.Files.Remove(r.Context(), key); err != nil {
				a.Logger.Warn().Err(err).Str("key", key).Msg("remove stored file")
			}
		}
	}
	a.Logger.Info().Str("run_id", runID).Int64("images", deleted.Images).Int64("jobs", deleted.Jobs).Msg("run deleted")
	a.json(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("Run %s deleted", runID)})
}

// RunArchive streams a zip of every stored image of the run.
func (a *App) RunArchive(w http.ResponseWriter, r *http.Request) {
	run, err := a.Repo.Runs().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	images, err := a.Repo.Images().ListByRun(r.Context(), run.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var entries []zip.Entry
	for _, img := range images {
		if img.FilePath == "" || a.Files == nil {
			continue
		}
		data, err := a.Files.Read(r.Context(), img.FilePath)
		if err != nil {
			a.Logger.Warn().Err(err).Str("image_id", img.ID).Msg("archive: skip unreadable image")
			continue
		}
		index := 0
		if img.BatchIndex != nil {
			index = *img.BatchIndex
		}
		entries = append(entries, zip.Entry{
			Name:     fmt.Sprintf("batch-%d/%s-%d.png", run.BatchNumber, img.ID, index),
			Data:     data,
			Modified: img.CreatedAt,
		})
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%d.zip", run.BatchNumber))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
