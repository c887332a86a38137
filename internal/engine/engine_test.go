package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogstate/internal/features"
	"cogstate/internal/keystroke"
	"cogstate/internal/projection"
)

var fluent = features.Vector{F1: 100, F4: 20}

// =============================================================================
// Parameters
// =============================================================================

func TestDefaultParamsValid(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())

	for _, from := range States {
		sum := 0.0
		for _, to := range States {
			sum += p.Transition(from, to)
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %s", from)
	}
	assert.Equal(t, 0.99, p.Emission(Stuck, projection.PenaltyBin))
}

func TestParamsValidateRejectsBadRows(t *testing.T) {
	p := DefaultParams()
	p.Transitions[0] = 0.9
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.Emissions[3] = math.NaN()
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.Initial = Belief{1, 1, 0}
	assert.Error(t, p.Validate())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.Validate())

	assert.Error(t, Config{LatentAlpha: 1.5}.Validate())
	assert.Error(t, Config{OverrideConfidence: 0.2}.Validate())
}

// =============================================================================
// Update invariants
// =============================================================================

func TestUpdateKeepsDistribution(t *testing.T) {
	e := NewDefault()
	vectors := []features.Vector{
		fluent,
		{F1: 400, F3: 0.4, F5: 6, F6: 1},
		{F1: 2000, F5: 10},
		{F1: 1e12, F2: 1e12, F3: 1, F4: 1e12, F5: 1e12, F6: 1},
		{F1: 1e-9},
	}
	for i := 0; i < 50; i++ {
		res := e.Update(vectors[i%len(vectors)], i%3 == 0)
		require.True(t, res.Applied)
		assert.True(t, res.Raw.Normalized(1e-9), "raw %v", res.Raw)
		assert.True(t, res.Display.Normalized(1e-9), "display %v", res.Display)
		for _, p := range res.Raw {
			assert.True(t, p > 0 && p < 1, "raw component %v absorbed", p)
		}
	}
}

func TestUpdateWhilePausedIsNoop(t *testing.T) {
	e := NewDefault()
	e.Update(fluent, false)
	before, raw, latent := e.Belief(), e.RawBelief(), e.Latent()

	e.SetPaused(true)
	require.True(t, e.Paused())
	res := e.Update(features.Vector{F1: 900, F3: 1}, false)

	assert.False(t, res.Applied)
	assert.Equal(t, SkipPaused, res.Skip)
	assert.Equal(t, before, e.Belief())
	assert.Equal(t, raw, e.RawBelief())
	assert.Equal(t, latent, e.Latent())

	e.SetPaused(false)
	assert.True(t, e.Update(fluent, false).Applied)
}

func TestUpdateWithoutTimingIsSkipped(t *testing.T) {
	e := NewDefault()
	before := e.Belief()

	for _, v := range []features.Vector{{}, {F1: -1, F3: 1}, {F1: math.NaN()}} {
		res := e.Update(v, false)
		assert.Equal(t, SkipNoTiming, res.Skip)
		assert.Equal(t, "no_timing", res.Outcome())
	}
	assert.Equal(t, before, e.Belief())
}

func TestUpdateSkipDoesNotConsumeStreak(t *testing.T) {
	e := NewDefault()
	for i := 0; i < 5; i++ {
		e.RegisterKeystroke(keystroke.KeyBackspace)
	}
	e.Update(features.Vector{}, false)
	assert.Equal(t, uint32(5), e.Streak())
}

func TestDegenerateStepKeepsPreviousBelief(t *testing.T) {
	p := DefaultParams()
	p.Transitions = [9]float64{}
	e := New(p, DefaultConfig())
	before := e.RawBelief()

	res := e.Update(fluent, false)
	assert.True(t, res.Degenerate)
	assert.Equal(t, "degenerate", res.Outcome())
	assert.Equal(t, before, e.RawBelief())
	assert.True(t, e.Belief().Normalized(1e-9))
}

func TestBeliefQueriesAreIdempotent(t *testing.T) {
	e := NewDefault()
	e.Update(fluent, false)

	first := e.Snapshot()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Snapshot())
	}
	assert.Equal(t, e.Belief()[Flow], first[Flow])
}

// =============================================================================
// Overrides and penalties
// =============================================================================

func TestForceOverrideFlow(t *testing.T) {
	e := NewDefault()
	for i := 0; i < 10; i++ {
		e.Update(features.Vector{F1: 600, F3: 0.5, F6: 1, F5: 5}, false)
	}

	e.ForceOverride(Flow)

	for _, b := range []Belief{e.Belief(), e.RawBelief()} {
		assert.InDelta(t, 0.98, b[Flow], 0.01)
		assert.InDelta(t, 0.01, b[Incubation], 0.01)
		assert.InDelta(t, 0.01, b[Stuck], 0.01)
	}
	assert.Equal(t, projection.LatentPoint{X: 0, Y: 1}, e.Latent())
}

func TestForceOverrideOtherStatesAndInvalid(t *testing.T) {
	e := NewDefault()
	e.ForceOverride(Stuck)
	assert.Equal(t, Stuck, e.Belief().MostLikely())

	before := e.Belief()
	e.ForceOverride(State(7))
	assert.Equal(t, before, e.Belief())
}

func TestRegisterKeystrokeStreak(t *testing.T) {
	e := NewDefault()
	e.RegisterKeystroke(keystroke.KeyBackspace)
	e.RegisterKeystroke(keystroke.KeyDelete)
	assert.Equal(t, uint32(2), e.Streak())

	e.RegisterKeystroke(0x41)
	assert.Equal(t, uint32(0), e.Streak())
}

func TestBackspacePenalty(t *testing.T) {
	e := NewDefault()
	for i := 0; i < 5; i++ {
		e.RegisterKeystroke(keystroke.KeyBackspace)
	}
	stuckBefore := e.Belief()[Stuck]

	// The point itself sits in the lowest-friction cell.
	res := e.Update(fluent, false)
	require.True(t, res.Penalty)
	assert.Equal(t, projection.PenaltyBin, res.Observation)
	assert.Equal(t, "penalty", res.Outcome())
	assert.Greater(t, res.Display[Stuck], stuckBefore)
	assert.Equal(t, uint32(0), e.Streak(), "streak consumed")

	// Keep correcting: Stuck keeps rising.
	struggling := features.Vector{F1: 600, F3: 0.5, F5: 6, F6: 1}
	next := e.Update(struggling, false)
	assert.False(t, next.Penalty)
	assert.Greater(t, next.Display[Stuck], res.Display[Stuck])
}

func TestPenaltyUsesFasterHysteresis(t *testing.T) {
	slow := NewDefault()
	fast := NewDefault()
	for i := 0; i < 5; i++ {
		fast.RegisterKeystroke(keystroke.KeyBackspace)
	}
	base := slow.Belief()

	fastRes := fast.Update(fluent, false)
	// display = 0.5*raw + 0.5*previous on a penalty step
	for i := range base {
		assert.InDelta(t, 0.5*fastRes.Raw[i]+0.5*base[i], fastRes.Display[i], 1e-9)
	}

	slowRes := slow.Update(fluent, false)
	for i := range base {
		assert.InDelta(t, 0.25*slowRes.Raw[i]+0.75*base[i], slowRes.Display[i], 1e-9)
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestFluentTypingConvergesToFlow(t *testing.T) {
	e := NewDefault()
	ex := features.NewExtractor(features.Config{})

	now := uint64(10_000)
	for i := 0; i < 20; i++ {
		now += 100
		ex.ProcessEvent(keystroke.KeyEvent{KeyCode: 0x41, TimestampMs: now, IsPress: true})
		e.RegisterKeystroke(0x41)
		e.Update(ex.Features(), false)
		now += 50
		ex.ProcessEvent(keystroke.KeyEvent{KeyCode: 0x41, TimestampMs: now, IsPress: false})
	}

	b := e.Belief()
	assert.Equal(t, Flow, b.MostLikely(), "%v", b)
	assert.Greater(t, b[Flow], 0.5)
}

func TestSilenceDriftsTowardIncubation(t *testing.T) {
	e := NewDefault()
	ex := features.NewExtractor(features.Config{})
	for i := 0; i < 60; i++ {
		e.Update(fluent, false)
	}
	start := e.Belief()
	require.Equal(t, Flow, start.MostLikely())

	prev := start
	for s := 2; s <= 10; s++ {
		v, ok := ex.SilenceObservation(float64(s))
		require.True(t, ok)
		res := e.Update(v, false)
		require.True(t, res.Applied)

		b := res.Display
		assert.LessOrEqual(t, b[Flow], prev[Flow]+1e-9, "flow rose at %ds", s)
		for _, p := range b {
			assert.True(t, p > 0 && p < 1)
		}
		prev = b
	}
	assert.Less(t, prev[Flow], start[Flow])
	assert.Greater(t, prev[Incubation], start[Incubation])
}

// =============================================================================
// Concurrency and salvage
// =============================================================================

func TestConcurrentAccess(t *testing.T) {
	e := NewDefault()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				e.RegisterKeystroke(uint32(i % 9))
				e.Update(features.Vector{F1: float64(50 + i%400), F3: float64(i%5) / 10}, w%2 == 0)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.SetPaused(i%2 == 0)
			if i%10 == 0 {
				e.ForceOverride(Flow)
			}
		}
		e.SetPaused(false)
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			b := e.Belief()
			if !b.Normalized(1e-9) {
				t.Errorf("reader saw %v", b)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone
}

func TestPauseAndOverrideHoldAgainstInFlightUpdates(t *testing.T) {
	e := NewDefault()
	struggling := features.Vector{F1: 600, F3: 0.5, F5: 6, F6: 1}
	forced := Concentrated(Flow, e.Config().OverrideConfidence)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				e.Update(struggling, false)
			}
		}
	}()

	for run := 0; run < 500; run++ {
		e.SetPaused(false)
		time.Sleep(20 * time.Microsecond)
		e.SetPaused(true)
		e.ForceOverride(Flow)
		time.Sleep(50 * time.Microsecond)
		if b := e.Belief(); b != forced {
			t.Fatalf("run %d: paused belief moved to %v after override", run, b)
		}
	}
	close(stop)
	<-done
}

func TestPanicUnderWriteLockReleasesIt(t *testing.T) {
	e := NewDefault()
	func() {
		defer func() { recover() }()
		e.locked(func() { panic("observer failed") })
	}()

	done := make(chan struct{})
	go func() {
		e.ForceOverride(Stuck)
		e.Update(fluent, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write lock still held after panic")
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	updates   []Result
	overrides []State
	salvaged  []string
}

func (r *recordingObserver) UpdateObserved(res Result, _ time.Duration) {
	r.mu.Lock()
	r.updates = append(r.updates, res)
	r.mu.Unlock()
}

func (r *recordingObserver) OverrideApplied(s State) {
	r.mu.Lock()
	r.overrides = append(r.overrides, s)
	r.mu.Unlock()
}

func (r *recordingObserver) SectionSalvaged(section string) {
	r.mu.Lock()
	r.salvaged = append(r.salvaged, section)
	r.mu.Unlock()
}

func TestObserverReceivesEvents(t *testing.T) {
	obs := &recordingObserver{}
	e := NewDefault(WithObserver(obs))

	e.Update(fluent, false)
	e.Update(features.Vector{}, false)
	e.ForceOverride(Incubation)

	require.Len(t, obs.updates, 1, "skipped updates are not observed")
	assert.Equal(t, []State{Incubation}, obs.overrides)
}

func TestGuardedSalvagesAfterPanic(t *testing.T) {
	g := NewGuarded(Belief{0.5, 0.3, 0.2})
	var recovered any
	g.OnSalvage = func(r any) { recovered = r }

	v, ok := g.Update(func(b *Belief) {
		b[0] = 99
		panic("half-written")
	})
	assert.False(t, ok)
	assert.Equal(t, "half-written", recovered)
	assert.Equal(t, Belief{0.5, 0.3, 0.2}, v)
	assert.Equal(t, Belief{0.5, 0.3, 0.2}, g.Load())

	v, ok = g.Update(func(b *Belief) { b[0] = 0.6; b[2] = 0.1 })
	assert.True(t, ok)
	assert.Equal(t, Belief{0.6, 0.3, 0.1}, v)
}

func TestBaselineHotSwap(t *testing.T) {
	e := NewDefault()
	set := projection.DefaultBaselines()
	set.Coding.FlightMs = 90
	e.SetBaselines(set)
	assert.Equal(t, 90.0, e.Baselines().Coding.FlightMs)

	res := e.Update(features.Vector{F1: 180}, false)
	require.True(t, res.Applied)
	// phi(180, 90) = 0.5 -> raw x = 0.125, blended from 0.3
	assert.InDelta(t, 0.7*0.3+0.3*0.125, res.Latent.X, 1e-9)
}

func TestStateNames(t *testing.T) {
	for _, s := range States {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseState("bored")
	assert.Error(t, err)
}
