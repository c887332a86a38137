// Package projection normalises feature vectors against a contextual
// baseline and folds them into two latent axes, Friction and Engagement,
// then discretises the point onto the observation grid.
package projection

import (
	"fmt"
	"math"

	"cogstate/internal/features"
)

// Kappa scales the normalisation so that phi saturates at three times the
// baseline.
const Kappa = 2.0

// Grid geometry: GridSize×GridSize cells plus one penalty bin.
const (
	GridSize    = 5
	GridBins    = GridSize * GridSize
	PenaltyBin  = GridBins
	NumBins     = GridBins + 1
	maxGridCell = GridSize - 1
)

// Phi maps x onto [0,1] relative to baseline:
// clamp((x-baseline)/(Kappa*baseline), 0, 1). A non-positive baseline
// yields 0, as does a NaN input.
func Phi(x, baseline float64) float64 {
	if baseline <= 0 || math.IsNaN(baseline) {
		return 0
	}
	return clamp01((x - baseline) / (Kappa * baseline))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Baseline holds the "normal" value of each normalised feature for one
// input context. F2 has no baseline.
type Baseline struct {
	FlightMs       float64 `toml:"flight_ms" json:"flight_ms" yaml:"flight_ms"`
	CorrectionRate float64 `toml:"correction_rate" json:"correction_rate" yaml:"correction_rate"`
	BurstLength    float64 `toml:"burst_length" json:"burst_length" yaml:"burst_length"`
	PauseCount     float64 `toml:"pause_count" json:"pause_count" yaml:"pause_count"`
	PostDeleteRate float64 `toml:"post_delete_rate" json:"post_delete_rate" yaml:"post_delete_rate"`
}

// Validate checks every reference value is positive and finite.
func (b Baseline) Validate() error {
	for name, v := range map[string]float64{
		"flight_ms":        b.FlightMs,
		"correction_rate":  b.CorrectionRate,
		"burst_length":     b.BurstLength,
		"pause_count":      b.PauseCount,
		"post_delete_rate": b.PostDeleteRate,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	return nil
}

// CodingBaseline is the reference for direct (alphanumeric) entry: fast
// rhythm, long bursts.
func CodingBaseline() Baseline {
	return Baseline{
		FlightMs:       150,
		CorrectionRate: 0.06,
		BurstLength:    5,
		PauseCount:     2,
		PostDeleteRate: 0.08,
	}
}

// CompositionBaseline is the reference for native-script input method
// entry, where slower rhythm, short segments and more pauses are normal.
func CompositionBaseline() Baseline {
	return Baseline{
		FlightMs:       220,
		CorrectionRate: 0.08,
		BurstLength:    2,
		PauseCount:     4,
		PostDeleteRate: 0.12,
	}
}

// BaselineSet pairs the two context baselines.
type BaselineSet struct {
	Coding      Baseline `toml:"coding" json:"coding" yaml:"coding"`
	Composition Baseline `toml:"composition" json:"composition" yaml:"composition"`
}

// DefaultBaselines returns the population defaults.
func DefaultBaselines() BaselineSet {
	return BaselineSet{Coding: CodingBaseline(), Composition: CompositionBaseline()}
}

// Select returns the composition baseline when the input method is in
// native-script mode, the coding baseline otherwise.
func (s BaselineSet) Select(nativeScript bool) Baseline {
	if nativeScript {
		return s.Composition
	}
	return s.Coding
}

// Validate checks both baselines.
func (s BaselineSet) Validate() error {
	if err := s.Coding.Validate(); err != nil {
		return fmt.Errorf("coding: %w", err)
	}
	if err := s.Composition.Validate(); err != nil {
		return fmt.Errorf("composition: %w", err)
	}
	return nil
}

// LatentPoint is a position on the Friction (X) / Engagement (Y) plane.
type LatentPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clamp limits both axes to [0,1].
func (p LatentPoint) Clamp() LatentPoint {
	return LatentPoint{X: clamp01(p.X), Y: clamp01(p.Y)}
}

// Blend returns alpha*raw + (1-alpha)*p on each axis.
func (p LatentPoint) Blend(raw LatentPoint, alpha float64) LatentPoint {
	return LatentPoint{
		X: alpha*raw.X + (1-alpha)*p.X,
		Y: alpha*raw.Y + (1-alpha)*p.Y,
	}
}

// Project computes the raw latent point for v under baseline b.
//
//	x = 0.30·φ(F3) + 0.25·φ(F6) + 0.25·φ(F1) + 0.20·φ(F5)
//	y = 0.40·φ(F4) + 0.35·(1−φ(F1)) + 0.25·(1−φ(F5))
func Project(v features.Vector, b Baseline) LatentPoint {
	phi1 := Phi(v.F1, b.FlightMs)
	phi3 := Phi(v.F3, b.CorrectionRate)
	phi4 := Phi(v.F4, b.BurstLength)
	phi5 := Phi(v.F5, b.PauseCount)
	phi6 := Phi(v.F6, b.PostDeleteRate)

	return LatentPoint{
		X: 0.30*phi3 + 0.25*phi6 + 0.25*phi1 + 0.20*phi5,
		Y: 0.40*phi4 + 0.35*(1-phi1) + 0.25*(1-phi5),
	}.Clamp()
}

// Bin maps a point to its grid observation x_bin*GridSize + y_bin, each
// cell index clamped to [0, GridSize-1].
func Bin(p LatentPoint) int {
	return cell(p.X)*GridSize + cell(p.Y)
}

func cell(v float64) int {
	c := int(math.Floor(clamp01(v) * GridSize))
	if c > maxGridCell {
		return maxGridCell
	}
	return c
}

// Observation returns the penalty bin when penalty is set, Bin(p) otherwise.
func Observation(p LatentPoint, penalty bool) int {
	if penalty {
		return PenaltyBin
	}
	return Bin(p)
}
