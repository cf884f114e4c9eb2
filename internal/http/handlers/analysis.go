package handlers

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"sweeplab/internal/domain"
)

var csvColumns = []string{
	"run_id", "batch", "run_name", "created_at", "model_id",
	"prompt", "negative_prompt", "steps", "scale", "width",
	"height", "seed", "scheduler",
	"score_overall",
	"score_facial_detail_realism",
	"score_body_proportions",
	"score_complexity_artistry",
	"score_composition_framing",
	"score_lighting_color",
	"score_resolution_clarity",
	"score_style_consistency",
	"score_prompt_adherence",
	"score_artifacts",
	"use_again",
	"curation_status",
	"image_id", "file_path", "upscale_url", "credit_cost",
	"flaws",
}

// AnalysisTable returns one flat row per image, newest batch first.
func (a *App) AnalysisTable(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Repo.Images().Export(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		img, run := row.Image, row.Run
		cfg := map[string]any{
			"steps": nil, "scale": nil, "width": nil, "height": nil,
			"scheduler": nil, "seed": nil, "credit_cost": 0.0,
		}
		if c := img.Config; c != nil {
			cfg = map[string]any{
				"steps":       c.Steps,
				"scale":       c.Scale,
				"width":       c.Width,
				"height":      c.Height,
				"scheduler":   c.Scheduler,
				"seed":        c.Seed,
				"credit_cost": c.CreditCost,
			}
		}
		out = append(out, map[string]any{
			"id":         img.ID,
			"run_id":     run.ID,
			"batch":      run.BatchNumber,
			"run_name":   run.Name,
			"created_at": img.CreatedAt.UTC().Format(time.RFC3339Nano),
			"prompt":     run.Prompt,
			"model_id":   run.ModelID,
			"config":     cfg,
			"scores":     curationScores(img, "overall"),
			"image": map[string]any{
				"file_path":   nullable(img.FilePath),
				"upscale_url": nullable(img.UpscaleURL),
				"is_rated":    img.Rated(),
				"is_failed":   img.IsFailed,
			},
		})
	}
	a.json(w, http.StatusOK, out)
}

// AnalysisCSV streams the same rows as a CSV download.
func (a *App) AnalysisCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Repo.Images().Export(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=experiments_export.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(csvColumns)
	for _, row := range rows {
		if err := cw.Write(csvRecord(row)); err != nil {
			a.Logger.Error().Err(err).Msg("write csv row")
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		a.Logger.Error().Err(err).Msg("flush csv")
	}
}

func csvRecord(row domain.ExportRow) []string {
	img, run := row.Image, row.Run
	record := []string{
		run.ID,
		strconv.Itoa(run.BatchNumber),
		run.Name,
		img.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.ModelID,
		run.Prompt,
		run.NegativePrompt,
	}
	if c := img.Config; c != nil {
		record = append(record,
			strconv.Itoa(c.Steps),
			formatFloat(c.Scale),
			strconv.Itoa(c.Width),
			strconv.Itoa(c.Height),
			strconv.FormatInt(c.Seed, 10),
			c.Scheduler,
		)
	} else {
		record = append(record, "", "", "", "", "", "")
	}
	s := img.Scores
	for _, v := range []*int{
		s.Overall, s.FacialDetailRealism, s.BodyProportions, s.ComplexityArtistry, s.CompositionFraming,
		s.LightingColor, s.ResolutionClarity, s.StyleConsistency, s.PromptAdherence, s.Artifacts,
	} {
		record = append(record, optionalInt(v))
	}
	cost := 0.0
	if img.Config != nil {
		cost = img.Config.CreditCost
	}
	flaws := ""
	if len(img.Flaws) > 0 {
		b, _ := json.Marshal(img.Flaws)
		flaws = string(b)
	}
	return append(record,
		string(img.UseAgain),
		string(img.CurationStatus),
		img.ID,
		img.FilePath,
		img.UpscaleURL,
		formatFloat(cost),
		flaws,
	)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
