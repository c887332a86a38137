// Package engine holds the cognitive-state model: a three-state hidden
// Markov model over a 26-bin observation alphabet, filtered one step per
// feature vector.
//
// Each accepted update projects the features onto the Friction/Engagement
// plane, smooths that point with an EWMA, discretises it, runs one forward
// step with an emission floor, and blends the posterior into a slower
// display belief. Readers only ever see the display belief.
//
// The engine is safe for concurrent use. Updates and overrides are
// serialised; readers never block on an update in progress for longer than
// a copy of three floats.
package engine

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"cogstate/internal/features"
	"cogstate/internal/keystroke"
	"cogstate/internal/projection"
)

// SkipReason says why an update was not applied.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipPaused
	SkipNoTiming
)

func (r SkipReason) String() string {
	switch r {
	case SkipPaused:
		return "paused"
	case SkipNoTiming:
		return "no_timing"
	default:
		return "none"
	}
}

// Result describes one call to Update.
type Result struct {
	Applied bool
	Skip    SkipReason

	Observation int
	Penalty     bool
	// Degenerate is set when the forward step produced no probability mass
	// and the previous raw belief was kept.
	Degenerate bool
	// Salvaged is set when a critical section failed and its previous
	// value was kept.
	Salvaged bool

	Latent  projection.LatentPoint
	Raw     Belief
	Display Belief
}

// Outcome is a short label for metrics and logs.
func (r Result) Outcome() string {
	switch {
	case !r.Applied:
		return r.Skip.String()
	case r.Salvaged:
		return "salvaged"
	case r.Degenerate:
		return "degenerate"
	case r.Penalty:
		return "penalty"
	default:
		return "applied"
	}
}

// Observer receives engine events. Implementations must be cheap and must
// not call back into the engine.
type Observer interface {
	UpdateObserved(res Result, elapsed time.Duration)
	OverrideApplied(target State)
	SectionSalvaged(section string)
}

type nopObserver struct{}

func (nopObserver) UpdateObserved(Result, time.Duration) {}
func (nopObserver) OverrideApplied(State) {}
func (nopObserver) SectionSalvaged(string) {}

// Engine is the shared cognitive-state estimator.
type Engine struct {
	params Params
	cfg    Config
	obs    Observer

	baselines atomic.Pointer[projection.BaselineSet]

	// writeMu serialises Update and ForceOverride so the three guarded
	// fields move together.
	writeMu sync.Mutex
	raw     *Guarded[Belief]
	display *Guarded[Belief]
	latent  *Guarded[projection.LatentPoint]

	paused atomic.Bool
	streak atomic.Uint32
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver routes engine events to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithBaselines replaces the default baseline set.
func WithBaselines(set projection.BaselineSet) Option {
	return func(e *Engine) {
		e.baselines.Store(&set)
	}
}

// New builds an engine. Params are used as given; call Params.Validate
// first if they come from user input. Zero fields of cfg take defaults.
func New(params Params, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		params:  params,
		cfg:     cfg.applyDefaults(),
		obs:     nopObserver{},
		raw:     NewGuarded(params.Initial),
		display: NewGuarded(params.Initial),
		latent:  NewGuarded(params.InitialLatent),
	}
	defaults := projection.DefaultBaselines()
	e.baselines.Store(&defaults)

	for _, opt := range opts {
		opt(e)
	}

	e.raw.OnSalvage = func(any) { e.obs.SectionSalvaged("raw") }
	e.display.OnSalvage = func(any) { e.obs.SectionSalvaged("display") }
	e.latent.OnSalvage = func(any) { e.obs.SectionSalvaged("latent") }
	return e
}

// NewDefault builds an engine with the default model and calibration.
func NewDefault(opts ...Option) *Engine {
	return New(DefaultParams(), DefaultConfig(), opts...)
}

// Config returns the effective calibration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetBaselines swaps the baseline set used by subsequent updates.
func (e *Engine) SetBaselines(set projection.BaselineSet) {
	e.baselines.Store(&set)
}

// Baselines returns the baseline set in use.
func (e *Engine) Baselines() projection.BaselineSet {
	return *e.baselines.Load()
}

// SetPaused suspends or resumes updates. The belief is kept as is.
func (e *Engine) SetPaused(paused bool) {
	e.paused.Store(paused)
}

// Paused reports whether updates are suspended.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// RegisterKeystroke tracks consecutive deletions. It is called for every
// key press, independently of the update cadence.
func (e *Engine) RegisterKeystroke(code uint32) {
	if keystroke.IsDeletion(code) {
		e.streak.Add(1)
	} else {
		e.streak.Store(0)
	}
}

// Streak returns the current run of consecutive deletions.
func (e *Engine) Streak() uint32 {
	return e.streak.Load()
}

// takePenalty consumes the streak if it reached the threshold.
func (e *Engine) takePenalty() bool {
	for {
		s := e.streak.Load()
		if s < e.cfg.PenaltyStreak {
			return false
		}
		if e.streak.CompareAndSwap(s, 0) {
			return true
		}
	}
}

// Update feeds one feature vector. nativeScript selects the composition
// baseline. Updates are skipped while paused or when v has no flight-time
// data; the returned Result says what happened.
func (e *Engine) Update(v features.Vector, nativeScript bool) Result {
	if e.Paused() {
		return Result{Skip: SkipPaused, Display: e.display.Load()}
	}
	if !(v.F1 > 0) {
		return Result{Skip: SkipNoTiming, Display: e.display.Load()}
	}

	start := time.Now()
	raw := projection.Project(v, e.baselines.Load().Select(nativeScript))

	var (
		res    Result
		paused bool
	)
	e.locked(func() {
		// A pause and override may have landed since the check above.
		if paused = e.Paused(); paused {
			return
		}
		res = e.step(raw, e.takePenalty())
	})
	if paused {
		return Result{Skip: SkipPaused, Display: e.display.Load()}
	}

	e.obs.UpdateObserved(res, time.Since(start))
	return res
}

// locked runs fn with writeMu held, releasing it even if fn panics.
func (e *Engine) locked(fn func()) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	fn()
}

// step must be called with writeMu held.
func (e *Engine) step(raw projection.LatentPoint, penalty bool) Result {
	res := Result{Applied: true, Penalty: penalty}

	alpha := e.cfg.LatentAlpha
	latent, ok := e.latent.Update(func(p *projection.LatentPoint) {
		*p = p.Blend(raw, alpha)
	})
	res.Salvaged = !ok
	res.Latent = latent
	res.Observation = projection.Observation(latent, penalty)

	posterior, ok := e.raw.Update(func(b *Belief) {
		next, ok := e.forward(*b, res.Observation)
		if !ok {
			res.Degenerate = true
			return
		}
		*b = next
	})
	res.Salvaged = res.Salvaged || !ok
	res.Raw = posterior

	beta := e.cfg.DisplayAlpha
	if penalty {
		beta = e.cfg.PenaltyDisplayAlpha
	}
	display, ok := e.display.Update(func(d *Belief) {
		*d = blend(*d, posterior, beta)
	})
	res.Salvaged = res.Salvaged || !ok
	res.Display = display
	return res
}

// forward runs one HMM forward step for observation obs:
//
//	new[j] = (Σ_i old[i]·A[i][j]) · (B[j][obs] + floor)
//
// normalised. ok is false when the mass is not positive and finite.
func (e *Engine) forward(old Belief, obs int) (Belief, bool) {
	var next Belief
	sum := 0.0
	for j := 0; j < NumStates; j++ {
		prior := 0.0
		for i := 0; i < NumStates; i++ {
			prior += old[i] * e.params.Transitions[i*NumStates+j]
		}
		next[j] = prior * (e.params.Emissions[j*projection.NumBins+obs] + e.cfg.EmissionFloor)
		sum += next[j]
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return old, false
	}
	for j := range next {
		next[j] /= sum
	}
	return next, true
}

// blend returns beta*next + (1-beta)*prev, renormalised.
func blend(prev, next Belief, beta float64) Belief {
	var out Belief
	sum := 0.0
	for i := range out {
		out[i] = beta*next[i] + (1-beta)*prev[i]
		sum += out[i]
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return prev
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ForceOverride snaps both beliefs onto target with the configured
// confidence and resets the latent EWMA to the target's anchor.
func (e *Engine) ForceOverride(target State) {
	if !target.Valid() {
		return
	}
	b := Concentrated(target, e.cfg.OverrideConfidence)

	e.locked(func() {
		e.raw.Store(b)
		e.display.Store(b)
		e.latent.Store(e.params.Anchors[target])
	})

	e.obs.OverrideApplied(target)
}

// Belief returns the display belief.
func (e *Engine) Belief() Belief {
	return e.display.Load()
}

// RawBelief returns the latest one-step posterior.
func (e *Engine) RawBelief() Belief {
	return e.raw.Load()
}

// Latent returns the smoothed latent point.
func (e *Engine) Latent() projection.LatentPoint {
	return e.latent.Load()
}

// Snapshot returns the display belief keyed by state.
func (e *Engine) Snapshot() map[State]float64 {
	return e.Belief().Map()
}
