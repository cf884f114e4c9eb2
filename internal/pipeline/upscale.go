package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"sweeplab/internal/domain"
	"sweeplab/internal/infra"
	"sweeplab/internal/providers/sinkin"
)

const (
	DefaultUpscaleScale    = 2.0
	MinUpscaleScale        = 2.0
	MaxUpscaleScale        = 4.0
	DefaultUpscaleStrength = 0.6
)

// UpscaleParams are the caller-controlled upscale settings. Nil fields take
// the defaults for the chosen type.
type UpscaleParams struct {
	Type     string
	Scale    *float64
	Strength *float64
}

// UpscaleResult is returned after a successful upscale.
type UpscaleResult struct {
	UpscaleURL string             `json:"upscale_url"`
	CreditCost float64            `json:"credit_cost"`
	Type       sinkin.UpscaleType `json:"type"`
}

// Upscaler requests a provider-side upscale of a generated image.
type Upscaler struct {
	repo     domain.Repository
	provider Provider
	logger   zerolog.Logger
}

// NewUpscaler wires the upscaler.
func NewUpscaler(repo domain.Repository, provider Provider, logger *infra.Logger) *Upscaler {
	u := &Upscaler{repo: repo, provider: provider, logger: zerolog.New(io.Discard)}
	if logger != nil {
		u.logger = infra.Component(*logger, "upscaler")
	}
	return u
}

func (p UpscaleParams) resolve() (sinkin.UpscaleRequest, error) {
	raw := p.Type
	if raw == "" {
		raw = string(sinkin.UpscaleESRGAN)
	}
	kind, err := sinkin.ParseUpscaleType(raw)
	if err != nil {
		return sinkin.UpscaleRequest{}, err
	}
	req := sinkin.UpscaleRequest{Type: kind}
	switch kind {
	case sinkin.UpscaleESRGAN:
		req.Scale = DefaultUpscaleScale
		if p.Scale != nil {
			req.Scale = *p.Scale
		}
		if req.Scale < MinUpscaleScale || req.Scale > MaxUpscaleScale {
			return req, fmt.Errorf("%w: scale must be between 2 and 4", domain.ErrValidation)
		}
	case sinkin.UpscaleHiresFix:
		req.Strength = DefaultUpscaleStrength
		if p.Strength != nil {
			req.Strength = *p.Strength
		}
		if req.Strength < 0 || req.Strength > 1 {
			return req, fmt.Errorf("%w: strength must be between 0 and 1", domain.ErrValidation)
		}
	}
	return req, nil
}

// Upscale resolves the image's original provider URL from its stored response
// and records the upscaled URL and cost on success.
func (u *Upscaler) Upscale(ctx context.Context, imageID string, params UpscaleParams) (*UpscaleResult, error) {
	req, err := params.resolve()
	if err != nil {
		return nil, err
	}
	img, err := u.repo.Images().Get(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img.InfID == "" {
		return nil, fmt.Errorf("%w: image has no inference id", domain.ErrValidation)
	}
	src, err := sourceURL(img)
	if err != nil {
		return nil, err
	}
	req.InfID, req.URL = img.InfID, src

	log := u.logger.With().Str("image_id", imageID).Str("type", string(req.Type)).Logger()
	resp, err := u.provider.Upscale(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Failed() || resp.Output == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Unknown API error"
		}
		log.Warn().Str("message", msg).Msg("upscale failed")
		return nil, fmt.Errorf("%w: upscale failed: %s", domain.ErrProviderFailure, msg)
	}
	if _, err := u.repo.Images().RecordUpscale(ctx, imageID, resp.Output, resp.CreditCost); err != nil {
		return nil, err
	}
	log.Info().Float64("credit_cost", resp.CreditCost).Msg("image upscaled")
	return &UpscaleResult{UpscaleURL: resp.Output, CreditCost: resp.CreditCost, Type: req.Type}, nil
}

// sourceURL picks the provider URL at the image's batch index, falling back
// to the first one when the index is missing or out of range.
func sourceURL(img *domain.Image) (string, error) {
	if img.Config == nil || len(img.Config.RawResponseJSON) == 0 {
		return "", fmt.Errorf("%w: original image url not found", domain.ErrValidation)
	}
	var stored struct {
		Images []string `json:"images"`
	}
	if err := json.Unmarshal(img.Config.RawResponseJSON, &stored); err != nil || len(stored.Images) == 0 {
		return "", fmt.Errorf("%w: original image url not found", domain.ErrValidation)
	}
	idx := 0
	if img.BatchIndex != nil && *img.BatchIndex >= 0 && *img.BatchIndex < len(stored.Images) {
		idx = *img.BatchIndex
	}
	return stored.Images[idx], nil
}
