package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeplab/internal/domain"
	"sweeplab/internal/pipeline"
)

type scoreRequest struct {
	ScoreOverall             *int            `json:"score_overall"`
	ScoreFacialDetailRealism *int            `json:"score_facial_detail_realism"`
	ScoreBodyProportions     *int            `json:"score_body_proportions"`
	ScoreComplexityArtistry  *int            `json:"score_complexity_artistry"`
	ScoreCompositionFraming  *int            `json:"score_composition_framing"`
	ScoreLightingColor       *int            `json:"score_lighting_color"`
	ScoreResolutionClarity   *int            `json:"score_resolution_clarity"`
	ScoreStyleConsistency    *int            `json:"score_style_consistency"`
	ScorePromptAdherence     *int            `json:"score_prompt_adherence"`
	ScoreArtifacts           *int            `json:"score_artifacts"`
	UseAgain                 *string         `json:"use_again"`
	IsFailed                 *bool           `json:"is_failed"`
	Flaws                    json.RawMessage `json:"flaws"`
	CurationStatus           *string         `json:"curation_status"`
}

// update converts the request into a partial update. Flaws may be sent as a
// list or as a comma separated string.
func (s scoreRequest) update() (domain.ScoreUpdate, error) {
	u := domain.ScoreUpdate{
		Scores: domain.Scores{
			Overall:             s.ScoreOverall,
			FacialDetailRealism: s.ScoreFacialDetailRealism,
			BodyProportions:     s.ScoreBodyProportions,
			ComplexityArtistry:  s.ScoreComplexityArtistry,
			CompositionFraming:  s.ScoreCompositionFraming,
			LightingColor:       s.ScoreLightingColor,
			ResolutionClarity:   s.ScoreResolutionClarity,
			StyleConsistency:    s.ScoreStyleConsistency,
			PromptAdherence:     s.ScorePromptAdherence,
			Artifacts:           s.ScoreArtifacts,
		},
		IsFailed: s.IsFailed,
	}
	if s.UseAgain != nil {
		v, err := domain.ParseUseAgain(*s.UseAgain)
		if err != nil {
			return u, err
		}
		u.UseAgain = &v
	}
	if s.CurationStatus != nil {
		v, err := domain.ParseCurationStatus(*s.CurationStatus)
		if err != nil {
			return u, err
		}
		u.CurationStatus = &v
	}
	if raw := strings.TrimSpace(string(s.Flaws)); raw != "" && raw != "null" {
		var list []string
		if err := json.Unmarshal(s.Flaws, &list); err != nil {
			var text string
			if err := json.Unmarshal(s.Flaws, &text); err != nil {
				return u, fmt.Errorf("%w: flaws must be a list of strings or a string", domain.ErrValidation)
			}
			list = strings.Split(text, ",")
		}
		u.Flaws, u.FlawsSet = list, true
	}
	return u, u.Validate()
}

func scoreMap(s domain.Scores) map[string]*int {
	return map[string]*int{
		"score_overall":         s.Overall,
		"facial_detail_realism": s.FacialDetailRealism,
		"body_proportions":      s.BodyProportions,
		"complexity_artistry":   s.ComplexityArtistry,
		"composition_framing":   s.CompositionFraming,
		"lighting_color":        s.LightingColor,
		"resolution_clarity":    s.ResolutionClarity,
		"style_consistency":     s.StyleConsistency,
		"prompt_adherence":      s.PromptAdherence,
		"artifacts":             s.Artifacts,
	}
}

// curationScores is the flat score block used by the score, detail and
// analysis responses.
func curationScores(img domain.Image, overallKey string) map[string]any {
	out := map[string]any{}
	for k, v := range scoreMap(img.Scores) {
		if k == "score_overall" {
			k = overallKey
		}
		out[k] = v
	}
	out["use_again"] = nullable(string(img.UseAgain))
	out["curation_status"] = nullable(string(img.CurationStatus))
	out["flaws"] = img.Flaws
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func configSummary(cfg *domain.Config, detailed bool) map[string]any {
	if cfg == nil {
		return nil
	}
	out := map[string]any{
		"steps":       cfg.Steps,
		"scale":       cfg.Scale,
		"width":       cfg.Width,
		"height":      cfg.Height,
		"seed":        cfg.Seed,
		"scheduler":   cfg.Scheduler,
		"credit_cost": cfg.CreditCost,
	}
	if detailed {
		out["image_strength"] = cfg.ImageStrength
		out["controlnet"] = nullable(cfg.ControlNet)
	}
	return out
}

func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	p, err := page(r, 50, 1000)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	unrated, err := queryBool(r, "unrated_only")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	filter := domain.ImageFilter{
		RunID:       strings.TrimSpace(r.URL.Query().Get("run_id")),
		UnratedOnly: unrated,
		Page:        p,
	}
	images, total, err := a.Repo.Images().List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(images))
	for _, img := range images {
		items = append(items, map[string]any{
			"id":              img.ID,
			"run_id":          img.RunID,
			"file_path":       nullable(img.FilePath),
			"upscale_url":     nullable(img.UpscaleURL),
			"inf_id":          nullable(img.InfID),
			"created_at":      img.CreatedAt.UTC().Format(time.RFC3339Nano),
			"score_overall":   img.Scores.Overall,
			"is_rated":        img.Rated(),
			"scores":          scoreMap(img.Scores),
			"curation_status": nullable(string(img.CurationStatus)),
			"use_again":       nullable(string(img.UseAgain)),
			"flaws":           img.Flaws,
			"config":          configSummary(img.Config, false),
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
		"images": items,
	})
}

func (a *App) ImageIDs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run_id is required")
		return
	}
	p, err := page(r, 1000, 5000)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ids, err := a.Repo.Images().ListIDs(r.Context(), runID, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"run_id":    runID,
		"limit":     p.Limit,
		"offset":    p.Offset,
		"image_ids": ids,
	})
}

func (a *App) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := a.Repo.Images().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var run any
	if rn, err := a.Repo.Runs().Get(r.Context(), img.RunID); err == nil {
		run = map[string]any{
			"prompt":          rn.Prompt,
			"negative_prompt": nullable(rn.NegativePrompt),
			"model_id":        rn.ModelID,
		}
	}
	var cfg any
	if c := configSummary(img.Config, true); c != nil {
		cfg = c
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":          img.ID,
		"run_id":      img.RunID,
		"file_path":   nullable(img.FilePath),
		"upscale_url": nullable(img.UpscaleURL),
		"inf_id":      nullable(img.InfID),
		"batch_index": img.BatchIndex,
		"is_failed":   img.IsFailed,
		"created_at":  img.CreatedAt.UTC().Format(time.RFC3339Nano),
		"scores":      curationScores(*img, "score_overall"),
		"config":      cfg,
		"run":         run,
	})
}

func (a *App) ScoreImage(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	update, err := req.update()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	img, err := a.Repo.Images().ApplyScores(r.Context(), imageID, update)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":   true,
		"image_id":  img.ID,
		"scores":    curationScores(*img, "overall"),
		"is_failed": img.IsFailed,
	})
}

type upscaleRequest struct {
	Type     string   `json:"type"`
	Scale    *float64 `json:"scale"`
	Strength *float64 `json:"strength"`
}

func (a *App) UpscaleImage(w http.ResponseWriter, r *http.Request) {
	var req upscaleRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Upscaler.Upscale(r.Context(), chi.URLParam(r, "id"), pipeline.UpscaleParams{
		Type:     req.Type,
		Scale:    req.Scale,
		Strength: req.Strength,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":     true,
		"upscale_url": res.UpscaleURL,
		"credit_cost": res.CreditCost,
		"type":        res.Type,
	})
}
