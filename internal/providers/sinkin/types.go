package sinkin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sweeplab/internal/domain"
)

// UpscaleType selects the provider's upscaling algorithm.
type UpscaleType string

const (
	UpscaleESRGAN   UpscaleType = "esrgan"
	UpscaleHiresFix UpscaleType = "hires_fix"
)

// ParseUpscaleType rejects unknown upscale modes.
func ParseUpscaleType(raw string) (UpscaleType, error) {
	switch v := UpscaleType(strings.TrimSpace(raw)); v {
	case UpscaleESRGAN, UpscaleHiresFix:
		return v, nil
	}
	return "", fmt.Errorf("%w: type must be esrgan or hires_fix", domain.ErrValidation)
}

// InferenceRequest is one generation call. InitImage switches the request to
// img2img; ImageStrength and ControlNet are only sent in that case.
type InferenceRequest struct {
	ModelID        string
	Prompt         string
	NegativePrompt string
	UseDefaultNeg  bool
	Width          int
	Height         int
	Steps          int
	Scale          float64
	NumImages      int
	Seed           int64
	Scheduler      string
	LoRA           string
	LoRAScale      float64
	InitImage      []byte
	InitImageName  string
	ImageStrength  float64
	ControlNet     string

	// Log context only; never sent.
	BatchNumber int
	JobID       int64
}

// Payload is the form sent to the provider, without the access token.
type Payload map[string]string

// InferenceResponse mirrors the provider's generate response. A nonzero
// ErrorCode means nothing else in the value can be trusted.
type InferenceResponse struct {
	ErrorCode  int         `json:"error_code"`
	Message    string      `json:"message,omitempty"`
	Images     []string    `json:"images,omitempty"`
	InfID      string      `json:"inf_id,omitempty"`
	CreditCost float64     `json:"credit_cost,omitempty"`
	Seed       json.Number `json:"seed,omitempty"`

	raw []byte
}

// Failed reports whether the provider or the transport reported an error.
func (r *InferenceResponse) Failed() bool { return r == nil || r.ErrorCode != 0 }

// ErrorMessage returns the provider message or a generic fallback.
func (r *InferenceResponse) ErrorMessage() string {
	if r == nil || strings.TrimSpace(r.Message) == "" {
		return "Unknown API error"
	}
	return r.Message
}

// ProviderSeed returns the seed chosen by the provider, if it reported one.
func (r *InferenceResponse) ProviderSeed() (int64, bool) {
	if r == nil || r.Seed == "" {
		return 0, false
	}
	if v, err := r.Seed.Int64(); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(string(r.Seed), 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// RawJSON returns the response body as received, or a synthesized body for
// normalized transport failures.
func (r *InferenceResponse) RawJSON() []byte {
	if r == nil {
		return nil
	}
	if len(r.raw) > 0 {
		return r.raw
	}
	b, _ := json.Marshal(r)
	return b
}

// UpscaleRequest asks the provider to upscale one generated image.
type UpscaleRequest struct {
	InfID    string
	URL      string
	Type     UpscaleType
	Scale    float64
	Strength float64
}

// UpscaleResponse mirrors the provider's upscale response.
type UpscaleResponse struct {
	ErrorCode  int     `json:"error_code"`
	Message    string  `json:"message,omitempty"`
	Output     string  `json:"output,omitempty"`
	CreditCost float64 `json:"credit_cost,omitempty"`
}

// Failed reports whether the provider or the transport reported an error.
func (r *UpscaleResponse) Failed() bool { return r == nil || r.ErrorCode != 0 }

// ModelsResponse carries the provider's model catalog verbatim.
type ModelsResponse struct {
	ErrorCode int
	Message   string
	Raw       json.RawMessage
}

// Failed reports whether the provider or the transport reported an error.
func (r *ModelsResponse) Failed() bool { return r == nil || r.ErrorCode != 0 }
