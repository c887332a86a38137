package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogstate/internal/features"
)

func TestPhiProperties(t *testing.T) {
	for _, b := range []float64{0.06, 2, 150, 220} {
		assert.Equal(t, 0.0, Phi(b, b), "phi(b,b)")
		assert.Equal(t, 1.0, Phi(3*b, b), "phi(3b,b)")
		assert.Equal(t, 1.0, Phi(10*b, b))
		assert.Equal(t, 0.0, Phi(0, b))
		assert.InDelta(t, 0.5, Phi(2*b, b), 1e-12)
	}
	assert.Equal(t, 0.0, Phi(100, 0))
	assert.Equal(t, 0.0, Phi(100, -5))
	assert.Equal(t, 0.0, Phi(math.NaN(), 150))
	assert.Equal(t, 1.0, Phi(math.Inf(1), 150))
}

func TestPhiMonotonic(t *testing.T) {
	prev := -1.0
	for x := -100.0; x < 1000; x += 7.5 {
		got := Phi(x, 150)
		require.GreaterOrEqual(t, got, prev)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestBaselineSelect(t *testing.T) {
	set := DefaultBaselines()
	assert.Equal(t, 150.0, set.Select(false).FlightMs)
	assert.Equal(t, 220.0, set.Select(true).FlightMs)
	require.NoError(t, set.Validate())

	set.Composition.BurstLength = 0
	assert.Error(t, set.Validate())
}

func TestProjectFluentCoding(t *testing.T) {
	v := features.Vector{F1: 100, F4: 20}
	p := Project(v, CodingBaseline())

	assert.Equal(t, 0.0, p.X)
	assert.InDelta(t, 1.0, p.Y, 1e-12)
	assert.Equal(t, 4, Bin(p))
}

func TestProjectSilenceLowersEngagement(t *testing.T) {
	b := CodingBaseline()
	prev := math.Inf(1)
	for s := 2.0; s <= 30; s += 1 {
		p := Project(features.Vector{F1: 2000, F5: s / 2}, b)
		assert.LessOrEqual(t, p.Y, prev)
		prev = p.Y
	}
	assert.Equal(t, 0.0, prev)
}

func TestProjectContextMatters(t *testing.T) {
	// Romaji-paced typing reads as friction against the coding baseline
	// but not against the composition one.
	v := features.Vector{F1: 330, F4: 2}
	coding := Project(v, CodingBaseline())
	composition := Project(v, CompositionBaseline())
	assert.Greater(t, coding.X, composition.X)
	assert.Less(t, coding.Y, composition.Y)
}

func TestProjectStaysInUnitSquare(t *testing.T) {
	extreme := features.Vector{F1: 1e9, F2: 1e9, F3: 1, F4: 1e9, F5: 1e9, F6: 1}
	for _, v := range []features.Vector{{}, extreme} {
		p := Project(v, CodingBaseline())
		assert.True(t, p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1, "%+v", p)
	}
}

func TestBinGrid(t *testing.T) {
	tests := []struct {
		p    LatentPoint
		want int
	}{
		{LatentPoint{0, 0}, 0},
		{LatentPoint{0, 1}, 4},
		{LatentPoint{1, 1}, 24},
		{LatentPoint{0.3, 0.5}, 7},
		{LatentPoint{0.99, 0.19}, 20},
		{LatentPoint{-1, 2}, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bin(tt.p), "%+v", tt.p)
	}
	assert.Equal(t, PenaltyBin, Observation(LatentPoint{0, 1}, true))
	assert.Equal(t, 25, PenaltyBin)
	assert.Equal(t, 26, NumBins)
}

func TestBlend(t *testing.T) {
	s := LatentPoint{0.3, 0.5}.Blend(LatentPoint{1, 0}, 0.3)
	assert.InDelta(t, 0.51, s.X, 1e-12)
	assert.InDelta(t, 0.35, s.Y, 1e-12)
}
