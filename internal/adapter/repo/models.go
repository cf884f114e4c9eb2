package repo

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"sweeplab/internal/domain"
)

type runRow struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	BatchNumber    int       `gorm:"uniqueIndex;not null"`
	Name           string    `gorm:"type:varchar(255)"`
	CreatedAt      time.Time `gorm:"not null;index"`
	Prompt         string    `gorm:"type:text;not null"`
	NegativePrompt string    `gorm:"type:text"`
	ModelID        string    `gorm:"column:model_id;type:varchar(50);not null"`
	Version        string    `gorm:"type:varchar(50)"`
}

func (runRow) TableName() string { return "runs" }

type assetRow struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)"`
	OriginalFilename string    `gorm:"type:varchar(255);not null"`
	MIMEType         string    `gorm:"column:mime_type;type:varchar(100)"`
	FilePath         string    `gorm:"type:varchar(500);not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (assetRow) TableName() string { return "assets" }

type jobRow struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	RunID            string         `gorm:"column:run_id;type:varchar(36);not null;index"`
	Run              *runRow        `gorm:"foreignKey:RunID;references:ID;constraint:OnDelete:RESTRICT"`
	Status           string         `gorm:"type:varchar(16);not null;index"`
	ConfigJSON       datatypes.JSON `gorm:"column:config_json;not null"`
	InitImageAssetID *string        `gorm:"column:init_image_asset_id;type:varchar(36)"`
	InitImageAsset   *assetRow      `gorm:"foreignKey:InitImageAssetID;references:ID;constraint:OnDelete:SET NULL"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	CompletedAt      *time.Time
	ErrorMessage     string `gorm:"type:text"`
}

func (jobRow) TableName() string { return "jobs" }

type imageRow struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)"`
	RunID      string     `gorm:"column:run_id;type:varchar(36);not null;index"`
	Run        *runRow    `gorm:"foreignKey:RunID;references:ID;constraint:OnDelete:RESTRICT"`
	FilePath   string     `gorm:"type:varchar(500)"`
	UpscaleURL string     `gorm:"column:upscale_url;type:varchar(500)"`
	InfID      string     `gorm:"column:inf_id;type:varchar(100)"`
	BatchIndex *int       `gorm:"column:batch_index"`
	IsFailed   bool       `gorm:"not null;default:false"`
	CreatedAt  time.Time  `gorm:"not null;index"`
	Config     *configRow `gorm:"foreignKey:ImageID;references:ID"`

	ScoreOverall             *int `gorm:"column:score_overall"`
	ScoreFacialDetailRealism *int `gorm:"column:score_facial_detail_realism"`
	ScoreBodyProportions     *int `gorm:"column:score_body_proportions"`
	ScoreComplexityArtistry  *int `gorm:"column:score_complexity_artistry"`
	ScoreCompositionFraming  *int `gorm:"column:score_composition_framing"`
	ScoreLightingColor       *int `gorm:"column:score_lighting_color"`
	ScoreResolutionClarity   *int `gorm:"column:score_resolution_clarity"`
	ScoreStyleConsistency    *int `gorm:"column:score_style_consistency"`
	ScorePromptAdherence     *int `gorm:"column:score_prompt_adherence"`
	ScoreArtifacts           *int `gorm:"column:score_artifacts"`

	UseAgain       string         `gorm:"type:varchar(16)"`
	Flaws          datatypes.JSON `gorm:"column:flaws"`
	CurationStatus string         `gorm:"type:varchar(20)"`
}

func (imageRow) TableName() string { return "images" }

type configRow struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	ImageID         string         `gorm:"column:image_id;type:varchar(36);uniqueIndex;not null"`
	Image           *imageRow      `gorm:"foreignKey:ImageID;references:ID;constraint:OnDelete:RESTRICT"`
	Steps           int            `gorm:"not null"`
	Scale           float64        `gorm:"not null"`
	Width           int            `gorm:"not null"`
	Height          int            `gorm:"not null"`
	Seed            int64          `gorm:"not null"`
	Scheduler       string         `gorm:"type:varchar(50)"`
	ImageStrength   *float64       `gorm:"column:image_strength"`
	ControlNet      string         `gorm:"column:controlnet;type:varchar(50)"`
	CreditCost      float64        `gorm:"not null;default:0"`
	RawPayloadJSON  datatypes.JSON `gorm:"column:raw_payload_json"`
	RawResponseJSON datatypes.JSON `gorm:"column:raw_response_json"`
}

func (configRow) TableName() string { return "configs" }

func (r runRow) toDomain() domain.Run {
	return domain.Run{
		ID:             r.ID,
		BatchNumber:    r.BatchNumber,
		Name:           r.Name,
		CreatedAt:      r.CreatedAt,
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		ModelID:        r.ModelID,
		Version:        r.Version,
	}
}

func (r assetRow) toDomain() domain.Asset {
	return domain.Asset{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		MIMEType:         r.MIMEType,
		FilePath:         r.FilePath,
		CreatedAt:        r.CreatedAt,
	}
}

func (r jobRow) toDomain() domain.Job {
	return domain.Job{
		ID:               r.ID,
		RunID:            r.RunID,
		Status:           domain.JobStatus(r.Status),
		ConfigJSON:       json.RawMessage(r.ConfigJSON),
		InitImageAssetID: r.InitImageAssetID,
		CreatedAt:        r.CreatedAt,
		CompletedAt:      r.CompletedAt,
		ErrorMessage:     r.ErrorMessage,
	}
}

func imageRowFromDomain(img domain.Image) (imageRow, error) {
	flaws, err := encodeFlaws(img.Flaws)
	if err != nil {
		return imageRow{}, err
	}
	s := img.Scores
	return imageRow{
		ID:                       img.ID,
		RunID:                    img.RunID,
		FilePath:                 img.FilePath,
		UpscaleURL:               img.UpscaleURL,
		InfID:                    img.InfID,
		BatchIndex:               img.BatchIndex,
		IsFailed:                 img.IsFailed,
		CreatedAt:                img.CreatedAt,
		ScoreOverall:             s.Overall,
		ScoreFacialDetailRealism: s.FacialDetailRealism,
		ScoreBodyProportions:     s.BodyProportions,
		ScoreComplexityArtistry:  s.ComplexityArtistry,
		ScoreCompositionFraming:  s.CompositionFraming,
		ScoreLightingColor:       s.LightingColor,
		ScoreResolutionClarity:   s.ResolutionClarity,
		ScoreStyleConsistency:    s.StyleConsistency,
		ScorePromptAdherence:     s.PromptAdherence,
		ScoreArtifacts:           s.Artifacts,
		UseAgain:                 string(img.UseAgain),
		Flaws:                    flaws,
		CurationStatus:           string(img.CurationStatus),
	}, nil
}

func (r imageRow) toDomain() domain.Image {
	img := domain.Image{
		ID:         r.ID,
		RunID:      r.RunID,
		FilePath:   r.FilePath,
		UpscaleURL: r.UpscaleURL,
		InfID:      r.InfID,
		BatchIndex: r.BatchIndex,
		IsFailed:   r.IsFailed,
		CreatedAt:  r.CreatedAt,
		Scores: domain.Scores{
			Overall:             r.ScoreOverall,
			FacialDetailRealism: r.ScoreFacialDetailRealism,
			BodyProportions:     r.ScoreBodyProportions,
			ComplexityArtistry:  r.ScoreComplexityArtistry,
			CompositionFraming:  r.ScoreCompositionFraming,
			LightingColor:       r.ScoreLightingColor,
			ResolutionClarity:   r.ScoreResolutionClarity,
			StyleConsistency:    r.ScoreStyleConsistency,
			PromptAdherence:     r.ScorePromptAdherence,
			Artifacts:           r.ScoreArtifacts,
		},
		UseAgain:       domain.UseAgain(r.UseAgain),
		Flaws:          decodeFlaws(r.Flaws),
		CurationStatus: domain.CurationStatus(r.CurationStatus),
	}
	if r.Config != nil {
		cfg := r.Config.toDomain()
		img.Config = &cfg
	}
	return img
}

func configRowFromDomain(cfg domain.Config) configRow {
	return configRow{
		ImageID:         cfg.ImageID,
		Steps:           cfg.Steps,
		Scale:           cfg.Scale,
		Width:           cfg.Width,
		Height:          cfg.Height,
		Seed:            cfg.Seed,
		Scheduler:       cfg.Scheduler,
		ImageStrength:   cfg.ImageStrength,
		ControlNet:      cfg.ControlNet,
		CreditCost:      cfg.CreditCost,
		RawPayloadJSON:  nullableJSON(cfg.RawPayloadJSON),
		RawResponseJSON: nullableJSON(cfg.RawResponseJSON),
	}
}

func (r configRow) toDomain() domain.Config {
	return domain.Config{
		ID:              r.ID,
		ImageID:         r.ImageID,
		Steps:           r.Steps,
		Scale:           r.Scale,
		Width:           r.Width,
		Height:          r.Height,
		Seed:            r.Seed,
		Scheduler:       r.Scheduler,
		ImageStrength:   r.ImageStrength,
		ControlNet:      r.ControlNet,
		CreditCost:      r.CreditCost,
		RawPayloadJSON:  []byte(r.RawPayloadJSON),
		RawResponseJSON: []byte(r.RawResponseJSON),
	}
}

func encodeFlaws(flaws []string) (datatypes.JSON, error) {
	if flaws == nil {
		return nil, nil
	}
	b, err := json.Marshal(flaws)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeFlaws(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func nullableJSON(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	return datatypes.JSON(b)
}
