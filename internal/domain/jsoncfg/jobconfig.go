package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"sweeplab/internal/domain"
)

const (
	// DefaultWidth and DefaultHeight match the provider's portrait default.
	DefaultWidth  = 512
	DefaultHeight = 768
	// DefaultSteps is the inference step count used when a job omits it.
	DefaultSteps = 30
	// DefaultScale is the guidance scale used when a job omits it.
	DefaultScale = 7.5
	// DefaultNumImages is the number of artifacts requested per provider call.
	DefaultNumImages = 4
	// RandomSeed asks the provider to choose a seed.
	RandomSeed int64 = -1
	// DefaultScheduler is the provider's default sampler.
	DefaultScheduler = "DPMSolverMultistep"
	// DefaultImageStrength applies to img2img calls.
	DefaultImageStrength = 0.75
	// DefaultLoRAScale applies when a LoRA is configured without a strength.
	DefaultLoRAScale = 0.75

	MinDimension = 128
	MaxDimension = 896
	MinSteps     = 1
	MaxSteps     = 50
	MinScale     = 1.0
	MaxScale     = 20.0
	MinNumImages = 1
	MaxNumImages = 4
)

var schedulers = map[string]struct{}{
	"DPMSolverMultistep": {},
	"K_EULER_ANCESTRAL":  {},
	"DDIM":               {},
	"K_EULER":            {},
	"PNDM":               {},
	"KLMS":               {},
}

var controlNets = map[string]struct{}{
	"canny":    {},
	"depth":    {},
	"openpose": {},
}

// JobConfig is the resolved per-job generation parameter set stored on a job.
type JobConfig struct {
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Steps         int      `json:"steps"`
	Scale         float64  `json:"scale"`
	Scheduler     string   `json:"scheduler"`
	NumImages     int      `json:"num_images"`
	Seed          int64    `json:"seed"`
	ImageStrength float64  `json:"image_strength"`
	UseDefaultNeg bool     `json:"use_default_neg"`
	ControlNet    string   `json:"controlnet,omitempty"`
	LoRA          string   `json:"lora,omitempty"`
	LoRAScale     *float64 `json:"lora_scale,omitempty"`
}

// Default returns the configuration applied to any field a stored job omits.
func Default() JobConfig {
	return JobConfig{
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		Steps:         DefaultSteps,
		Scale:         DefaultScale,
		Scheduler:     DefaultScheduler,
		NumImages:     DefaultNumImages,
		Seed:          RandomSeed,
		ImageStrength: DefaultImageStrength,
		UseDefaultNeg: true,
	}
}

// Decode parses a stored job configuration on top of the defaults and validates it.
func Decode(raw []byte) (JobConfig, error) {
	cfg := Default()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, fmt.Errorf("%w: job config is empty", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: invalid job config JSON: %v", domain.ErrValidation, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoRAStrength returns the configured LoRA scale or its default.
func (c JobConfig) LoRAStrength() float64 {
	if c.LoRAScale == nil {
		return DefaultLoRAScale
	}
	return *c.LoRAScale
}

// Validate enforces the provider's documented parameter ranges.
func (c JobConfig) Validate() error {
	if c.Width < MinDimension || c.Width > MaxDimension {
		return fmt.Errorf("%w: width must be between %d and %d", domain.ErrValidation, MinDimension, MaxDimension)
	}
	if c.Height < MinDimension || c.Height > MaxDimension {
		return fmt.Errorf("%w: height must be between %d and %d", domain.ErrValidation, MinDimension, MaxDimension)
	}
	if err := ValidateSteps(c.Steps); err != nil {
		return err
	}
	if err := ValidateScale(c.Scale); err != nil {
		return err
	}
	if err := ValidateScheduler(c.Scheduler); err != nil {
		return err
	}
	if c.NumImages < MinNumImages || c.NumImages > MaxNumImages {
		return fmt.Errorf("%w: num_images must be between %d and %d", domain.ErrValidation, MinNumImages, MaxNumImages)
	}
	if c.ImageStrength < 0 || c.ImageStrength > 1 {
		return fmt.Errorf("%w: image_strength must be between 0 and 1", domain.ErrValidation)
	}
	if err := ValidateControlNet(c.ControlNet); err != nil {
		return err
	}
	if s := c.LoRAStrength(); s < 0 || s > 1 {
		return fmt.Errorf("%w: lora_scale must be between 0 and 1", domain.ErrValidation)
	}
	return nil
}

// ValidateSteps checks a single step count.
func ValidateSteps(steps int) error {
	if steps < MinSteps || steps > MaxSteps {
		return fmt.Errorf("%w: steps must be between %d and %d", domain.ErrValidation, MinSteps, MaxSteps)
	}
	return nil
}

// ValidateScale checks a single guidance scale.
func ValidateScale(scale float64) error {
	if scale < MinScale || scale > MaxScale {
		return fmt.Errorf("%w: scale must be between %g and %g", domain.ErrValidation, MinScale, MaxScale)
	}
	return nil
}

// ValidateScheduler rejects samplers the provider does not offer.
func ValidateScheduler(name string) error {
	if _, ok := schedulers[name]; !ok {
		return fmt.Errorf("%w: unknown scheduler %q", domain.ErrValidation, name)
	}
	return nil
}

// ValidateControlNet accepts the empty mode or one of the supported ones.
func ValidateControlNet(mode string) error {
	if mode == "" {
		return nil
	}
	if _, ok := controlNets[mode]; !ok {
		return fmt.Errorf("%w: controlnet must be one of canny, depth, openpose", domain.ErrValidation)
	}
	return nil
}

// MustMarshal encodes v or panics; used for values built from typed structs.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
