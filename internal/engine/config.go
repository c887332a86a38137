package engine

import (
	"errors"
	"fmt"
)

// Config holds the calibration constants of the update step. They are read
// once at construction.
type Config struct {
	// EmissionFloor is added to every emission probability so no single
	// observation can drive a state to exactly 0 or 1. Default: 0.05.
	EmissionFloor float64

	// LatentAlpha is the EWMA weight of a new latent point. Default: 0.3.
	LatentAlpha float64

	// DisplayAlpha is the hysteresis weight of a new posterior.
	// Default: 0.25.
	DisplayAlpha float64

	// PenaltyDisplayAlpha replaces DisplayAlpha on penalty updates.
	// Default: 0.5.
	PenaltyDisplayAlpha float64

	// PenaltyStreak is the number of consecutive deletions that forces the
	// penalty bin. Default: 5.
	PenaltyStreak uint32

	// OverrideConfidence is the probability ForceOverride puts on its
	// target. Default: 0.98.
	OverrideConfidence float64
}

// DefaultConfig returns the standard calibration.
func DefaultConfig() Config {
	return Config{
		EmissionFloor:       0.05,
		LatentAlpha:         0.3,
		DisplayAlpha:        0.25,
		PenaltyDisplayAlpha: 0.5,
		PenaltyStreak:       5,
		OverrideConfidence:  0.98,
	}
}

func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.EmissionFloor <= 0 {
		c.EmissionFloor = d.EmissionFloor
	}
	if c.LatentAlpha <= 0 {
		c.LatentAlpha = d.LatentAlpha
	}
	if c.DisplayAlpha <= 0 {
		c.DisplayAlpha = d.DisplayAlpha
	}
	if c.PenaltyDisplayAlpha <= 0 {
		c.PenaltyDisplayAlpha = d.PenaltyDisplayAlpha
	}
	if c.PenaltyStreak == 0 {
		c.PenaltyStreak = d.PenaltyStreak
	}
	if c.OverrideConfidence <= 0 {
		c.OverrideConfidence = d.OverrideConfidence
	}
	return c
}

// Validate rejects values outside their meaningful ranges. Zero values are
// accepted and mean "default".
func (c Config) Validate() error {
	var errs []error
	check := func(name string, v, lo, hi float64) {
		if v != 0 && (v <= lo || v > hi) {
			errs = append(errs, fmt.Errorf("%s must be in (%g, %g], got %g", name, lo, hi, v))
		}
	}
	check("emission_floor", c.EmissionFloor, 0, 1)
	check("latent_alpha", c.LatentAlpha, 0, 1)
	check("display_alpha", c.DisplayAlpha, 0, 1)
	check("penalty_display_alpha", c.PenaltyDisplayAlpha, 0, 1)
	check("override_confidence", c.OverrideConfidence, 1.0/NumStates, 1)
	return errors.Join(errs...)
}
