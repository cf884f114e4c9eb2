package domain

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

const (
	MinSubScore = 1
	MaxSubScore = 5
)

// UseAgain is the categorical "would use again" label.
type UseAgain string

const (
	UseAgainYes      UseAgain = "yes"
	UseAgainNo       UseAgain = "no"
	UseAgainTestMore UseAgain = "test_more"
	UseAgainTop1Pct  UseAgain = "top_1pct"
)

// ParseUseAgain rejects unknown labels instead of coercing them.
func ParseUseAgain(raw string) (UseAgain, error) {
	switch v := UseAgain(strings.TrimSpace(raw)); v {
	case UseAgainYes, UseAgainNo, UseAgainTestMore, UseAgainTop1Pct:
		return v, nil
	}
	return "", fmt.Errorf("%w: invalid use_again: %s", ErrValidation, raw)
}

// CurationStatus is the gallery curation bucket of an image.
type CurationStatus string

const (
	CurationTrash    CurationStatus = "trash"
	CurationUseAgain CurationStatus = "use_again"
	CurationTop1Pct  CurationStatus = "top_1pct"
)

// ParseCurationStatus rejects unknown labels instead of coercing them.
func ParseCurationStatus(raw string) (CurationStatus, error) {
	switch v := CurationStatus(strings.TrimSpace(raw)); v {
	case CurationTrash, CurationUseAgain, CurationTop1Pct:
		return v, nil
	}
	return "", fmt.Errorf("%w: invalid curation_status: %s", ErrValidation, raw)
}

// Scores holds the independent quality sub-scores. Nil means unrated.
type Scores struct {
	Overall             *int `json:"score_overall"`
	FacialDetailRealism *int `json:"facial_detail_realism"`
	BodyProportions     *int `json:"body_proportions"`
	ComplexityArtistry  *int `json:"complexity_artistry"`
	CompositionFraming  *int `json:"composition_framing"`
	LightingColor       *int `json:"lighting_color"`
	ResolutionClarity   *int `json:"resolution_clarity"`
	StyleConsistency    *int `json:"style_consistency"`
	PromptAdherence     *int `json:"prompt_adherence"`
	Artifacts           *int `json:"artifacts"`
}

func (s *Scores) fields() []struct {
	name string
	ptr  **int
} {
	return []struct {
		name string
		ptr  **int
	}{
		{"score_overall", &s.Overall},
		{"score_facial_detail_realism", &s.FacialDetailRealism},
		{"score_body_proportions", &s.BodyProportions},
		{"score_complexity_artistry", &s.ComplexityArtistry},
		{"score_composition_framing", &s.CompositionFraming},
		{"score_lighting_color", &s.LightingColor},
		{"score_resolution_clarity", &s.ResolutionClarity},
		{"score_style_consistency", &s.StyleConsistency},
		{"score_prompt_adherence", &s.PromptAdherence},
		{"score_artifacts", &s.Artifacts},
	}
}

// Validate checks every provided sub-score against the fixed scale.
func (s Scores) Validate() error {
	for _, f := range s.fields() {
		if v := *f.ptr; v != nil && (*v < MinSubScore || *v > MaxSubScore) {
			return fmt.Errorf("%w: %s must be between %d and %d", ErrValidation, f.name, MinSubScore, MaxSubScore)
		}
	}
	return nil
}

// Columns returns the column -> value map of the sub-scores that are set.
func (s Scores) Columns() map[string]any {
	out := map[string]any{}
	for _, f := range s.fields() {
		if v := *f.ptr; v != nil {
			out[f.name] = *v
		}
	}
	return out
}

// Image is a generated artifact with its own scores and optional upscale.
type Image struct {
	ID             string
	RunID          string
	FilePath       string
	UpscaleURL     string
	InfID          string
	BatchIndex     *int
	IsFailed       bool
	CreatedAt      time.Time
	Scores         Scores
	UseAgain       UseAgain
	Flaws          []string
	CurationStatus CurationStatus
	Config         *Config
}

// Rated reports whether the overall score has been set.
func (i Image) Rated() bool {
	return i.Scores.Overall != nil
}

// Config captures the exact generation parameters and provider payloads of one image.
type Config struct {
	ID              int64
	ImageID         string
	Steps           int
	Scale           float64
	Width           int
	Height          int
	Seed            int64
	Scheduler       string
	ImageStrength   *float64
	ControlNet      string
	CreditCost      float64
	RawPayloadJSON  []byte
	RawResponseJSON []byte
}

// ScoreUpdate is a partial update; nil fields are left untouched.
type ScoreUpdate struct {
	Scores         Scores
	UseAgain       *UseAgain
	IsFailed       *bool
	Flaws          []string
	FlawsSet       bool
	CurationStatus *CurationStatus
}

// Validate checks the enum and range constraints of the update.
func (u ScoreUpdate) Validate() error {
	if err := u.Scores.Validate(); err != nil {
		return err
	}
	if u.UseAgain != nil {
		if _, err := ParseUseAgain(string(*u.UseAgain)); err != nil {
			return err
		}
	}
	if u.CurationStatus != nil {
		if _, err := ParseCurationStatus(string(*u.CurationStatus)); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the update would change nothing.
func (u ScoreUpdate) Empty() bool {
	return len(u.Scores.Columns()) == 0 && u.UseAgain == nil && u.IsFailed == nil && !u.FlawsSet && u.CurationStatus == nil
}

// ImageFilter narrows image listings.
type ImageFilter struct {
	RunID       string
	UnratedOnly bool
	Page        Page
}

// ExportRow is one image joined with its run and optional config.
type ExportRow struct {
	Image Image
	Run   Run
}

// NormalizeFlaws trims, case-folds and de-duplicates flaw tags preserving order.
func NormalizeFlaws(tags []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(fold.String(tag)), " ")
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
