// Package sweep expands a run's multi-valued settings into discrete job configurations.
package sweep

import (
	"fmt"

	"sweeplab/internal/domain"
	"sweeplab/internal/domain/jsoncfg"
)

// Base holds the parameters shared by every job of a sweep.
type Base struct {
	Width         int
	Height        int
	NumImages     int
	Seed          int64
	ImageStrength float64
	UseDefaultNeg bool
	ControlNet    string
	LoRA          string
	LoRAScale     *float64
}

// Axes are the independent value lists whose product defines the sweep.
type Axes struct {
	Steps      []int
	Scales     []float64
	Schedulers []string
}

// Combinations returns the size of the Cartesian product.
func (a Axes) Combinations() int {
	return len(a.Steps) * len(a.Scales) * len(a.Schedulers)
}

// Expand produces at most total job configurations. Each product combination
// is replicated max(1, total/combinations) times in nested-loop order (steps
// slowest) and the sequence is cut at total. When integer division underfills
// total the result is shorter than requested.
func Expand(base Base, axes Axes, total int) ([]jsoncfg.JobConfig, error) {
	if total < 1 {
		return nil, fmt.Errorf("%w: total_jobs must be at least 1", domain.ErrValidation)
	}
	combos := axes.Combinations()
	if combos == 0 {
		return nil, fmt.Errorf("%w: steps, scales and schedulers must each have at least one value", domain.ErrValidation)
	}
	replicas := total / combos
	if replicas < 1 {
		replicas = 1
	}

	out := make([]jsoncfg.JobConfig, 0, min(total, combos*replicas))
	for _, steps := range axes.Steps {
		for _, scale := range axes.Scales {
			for _, scheduler := range axes.Schedulers {
				cfg := base.config(steps, scale, scheduler)
				for r := 0; r < replicas; r++ {
					if len(out) == total {
						return out, nil
					}
					out = append(out, cfg)
				}
			}
		}
	}
	return out, nil
}

func (b Base) config(steps int, scale float64, scheduler string) jsoncfg.JobConfig {
	cfg := jsoncfg.JobConfig{
		Width:         b.Width,
		Height:        b.Height,
		Steps:         steps,
		Scale:         scale,
		Scheduler:     scheduler,
		NumImages:     b.NumImages,
		Seed:          b.Seed,
		ImageStrength: b.ImageStrength,
		UseDefaultNeg: b.UseDefaultNeg,
	}
	if b.ControlNet != "" {
		cfg.ControlNet = b.ControlNet
	}
	if b.LoRA != "" {
		cfg.LoRA = b.LoRA
		strength := jsoncfg.DefaultLoRAScale
		if b.LoRAScale != nil {
			strength = *b.LoRAScale
		}
		cfg.LoRAScale = &strength
	}
	return cfg
}
