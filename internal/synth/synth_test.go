package synth

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesRegistered(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"flow", "incubation", "revision", "steady", "stuck"}, names)
	for _, name := range names {
		p, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Description)
	}
	_, ok := Lookup("ai-generated")
	assert.False(t, ok)
}

func TestGenerateIsDeterministic(t *testing.T) {
	p, _ := Lookup("steady")
	a := Generate(rand.New(rand.NewSource(7)), p, 200, 1000)
	b := Generate(rand.New(rand.NewSource(7)), p, 200, 1000)
	assert.Equal(t, a, b)

	c := Generate(rand.New(rand.NewSource(8)), p, 200, 1000)
	assert.NotEqual(t, a, c)
}

func TestGenerateShape(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := Lookup(name)
			events := Generate(rand.New(rand.NewSource(1)), p, 300, 5000)
			require.Len(t, events, 600)
			assert.Equal(t, uint64(5000), events[0].TimestampMs)

			for i := 0; i < len(events); i += 2 {
				press, release := events[i], events[i+1]
				assert.True(t, press.IsPress)
				assert.False(t, release.IsPress)
				assert.Equal(t, press.KeyCode, release.KeyCode)
				assert.Greater(t, release.TimestampMs, press.TimestampMs)
				if i > 0 {
					assert.Greater(t, press.TimestampMs, events[i-1].TimestampMs, "press %d before previous release", i/2)
				}
			}
		})
	}
}

func TestDeletionRatioFollowsProfile(t *testing.T) {
	flow, _ := Lookup("flow")
	stuck, _ := Lookup("stuck")

	fs := Summarize(Generate(rand.New(rand.NewSource(3)), flow, 2000, 0))
	ss := Summarize(Generate(rand.New(rand.NewSource(3)), stuck, 2000, 0))

	assert.Equal(t, 2000, fs.Presses)
	assert.Less(t, fs.DeletionRatio(), 0.1)
	assert.Greater(t, ss.DeletionRatio(), 0.3)
	assert.Less(t, fs.MeanFlightMs, ss.MeanFlightMs)
}

func TestSummarize(t *testing.T) {
	p, _ := Lookup("flow")
	events := Generate(rand.New(rand.NewSource(5)), p, 100, 0)
	s := Summarize(events)

	assert.Equal(t, 100, s.Presses)
	assert.LessOrEqual(t, s.MinFlightMs, s.MeanFlightMs)
	assert.GreaterOrEqual(t, s.MaxFlightMs, s.MeanFlightMs)
	assert.Positive(t, s.StdDevFlightMs)
	assert.Positive(t, s.Span)

	assert.Zero(t, Summarize(nil).DeletionRatio())
}
