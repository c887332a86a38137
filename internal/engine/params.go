package engine

import (
	"fmt"
	"math"

	"cogstate/internal/projection"
)

// Params are the fixed model tables. Transitions is row-major
// (from*NumStates + to); Emissions is state-major (state*NumBins + obs).
type Params struct {
	Transitions   [NumStates * NumStates]float64
	Emissions     [NumStates * projection.NumBins]float64
	Initial       Belief
	InitialLatent projection.LatentPoint
	// Anchors is where the latent EWMA is reset to when the belief is
	// forced onto a state.
	Anchors [NumStates]projection.LatentPoint
}

// DefaultParams returns the hand-tuned model.
//
// Observation grid, obs = x_bin*5 + y_bin, plus penalty bin 25:
//
//	       x→ 0(lo F)  1     2     3     4(hi F)
//	y 0(lo E)  [0]    [5]  [10]  [15]  [20]
//	  1        [1]    [6]  [11]  [16]  [21]
//	  2        [2]    [7]  [12]  [17]  [22]
//	  3        [3]    [8]  [13]  [18]  [23]
//	  4(hi E)  [4]    [9]  [14]  [19]  [24]
//
// Flow peaks at low friction and high engagement, Incubation at low
// friction and low engagement, Stuck at high friction and low engagement.
// The penalty bin is near-certain Stuck.
func DefaultParams() Params {
	return Params{
		Transitions: [9]float64{
			0.75, 0.17, 0.08,
			0.12, 0.80, 0.08,
			0.06, 0.18, 0.76,
		},
		Emissions: [78]float64{
			// Flow
			0.01, 0.02, 0.05, 0.12, 0.14,
			0.01, 0.02, 0.05, 0.12, 0.13,
			0.00, 0.01, 0.03, 0.06, 0.08,
			0.00, 0.00, 0.00, 0.00, 0.00,
			0.00, 0.00, 0.00, 0.00, 0.00,
			0.00,
			// Incubation
			0.15, 0.10, 0.04, 0.03, 0.02,
			0.14, 0.10, 0.04, 0.03, 0.02,
			0.10, 0.08, 0.03, 0.01, 0.00,
			0.05, 0.04, 0.01, 0.00, 0.00,
			0.04, 0.03, 0.01, 0.00, 0.00,
			0.01,
			// Stuck
			0.00, 0.00, 0.00, 0.00, 0.00,
			0.00, 0.00, 0.00, 0.00, 0.00,
			0.02, 0.04, 0.02, 0.00, 0.00,
			0.10, 0.16, 0.07, 0.02, 0.00,
			0.16, 0.22, 0.12, 0.05, 0.02,
			0.99,
		},
		Initial:       Belief{0.5, 0.3, 0.2},
		InitialLatent: projection.LatentPoint{X: 0.3, Y: 0.5},
		Anchors: [NumStates]projection.LatentPoint{
			Flow:       {X: 0, Y: 1},
			Incubation: {X: 0.1, Y: 0.1},
			Stuck:      {X: 0.9, Y: 0.3},
		},
	}
}

// Transition returns A[from][to].
func (p *Params) Transition(from, to State) float64 {
	return p.Transitions[int(from)*NumStates+int(to)]
}

// Emission returns B[state][obs].
func (p *Params) Emission(s State, obs int) float64 {
	return p.Emissions[int(s)*projection.NumBins+obs]
}

// Validate checks the tables are usable: transition rows sum to 1, no
// negative or non-finite entry, a normalised initial belief and anchors
// inside the unit square.
func (p *Params) Validate() error {
	for from := 0; from < NumStates; from++ {
		sum := 0.0
		for to := 0; to < NumStates; to++ {
			v := p.Transitions[from*NumStates+to]
			if !finiteNonNeg(v) {
				return fmt.Errorf("transition[%d][%d] = %v", from, to, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("transition row %d sums to %v", from, sum)
		}
	}
	for i, v := range p.Emissions {
		if !finiteNonNeg(v) {
			return fmt.Errorf("emission[%d][%d] = %v", i/projection.NumBins, i%projection.NumBins, v)
		}
	}
	if !p.Initial.Normalized(1e-9) {
		return fmt.Errorf("initial belief %v is not a distribution", p.Initial)
	}
	for s, a := range p.Anchors {
		if a.Clamp() != a {
			return fmt.Errorf("anchor for %s outside the unit square: %+v", State(s), a)
		}
	}
	return nil
}

func finiteNonNeg(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
