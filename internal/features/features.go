// Package features derives behavioural timing features from a stream of key
// events.
//
// An Extractor keeps a bounded history of events and computes six features
// over a trailing window:
//
//	F1  median flight time (ms)
//	F2  population variance of flight times
//	F3  correction rate: Backspace/Delete presses over all presses
//	F4  mean burst length, bursts split at flight times >= BurstGapMs
//	F5  number of press-to-press gaps >= PauseGapMs
//	F6  share of deletions followed by a gap >= PauseGapMs
//
// Flight time is the interval from releasing one key to pressing the next.
package features

import (
	"math"
	"slices"

	"cogstate/internal/keystroke"
)

// Vector holds one set of features. The zero value means "no data".
type Vector struct {
	F1 float64 `json:"f1"`
	F2 float64 `json:"f2"`
	F3 float64 `json:"f3"`
	F4 float64 `json:"f4"`
	F5 float64 `json:"f5"`
	F6 float64 `json:"f6"`
}

// IsZero reports whether v carries no data.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// Config holds the extractor thresholds.
type Config struct {
	// Capacity is the number of events kept. Default: 600.
	Capacity int

	// WindowMs is the trailing window, relative to the newest event.
	// Default: 30000.
	WindowMs uint64

	// MaxFlightMs discards flight times at or above it as pauses rather
	// than rhythm. Default: 2000.
	MaxFlightMs uint64

	// BurstGapMs ends a burst when a flight time reaches it. Default: 200.
	BurstGapMs uint64

	// PauseGapMs is the press-to-press gap counted as a pause. Default: 2000.
	PauseGapMs uint64

	// SilenceMinSeconds is the shortest idle period that yields a silence
	// observation. Default: 2.0.
	SilenceMinSeconds float64

	// SilenceFlightMs is the F1 reported during silence. It must exceed
	// three times every F1 baseline so that engagement saturates low.
	// Default: 2000.
	SilenceFlightMs float64

	// SilencePauseCap caps the synthetic F5 of a silence observation.
	// Default: 15.
	SilencePauseCap float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Capacity:          600,
		WindowMs:          30_000,
		MaxFlightMs:       2000,
		BurstGapMs:        200,
		PauseGapMs:        2000,
		SilenceMinSeconds: 2.0,
		SilenceFlightMs:   2000,
		SilencePauseCap:   15,
	}
}

// applyDefaults fills in zero-valued fields with defaults.
func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.WindowMs == 0 {
		c.WindowMs = d.WindowMs
	}
	if c.MaxFlightMs == 0 {
		c.MaxFlightMs = d.MaxFlightMs
	}
	if c.BurstGapMs == 0 {
		c.BurstGapMs = d.BurstGapMs
	}
	if c.PauseGapMs == 0 {
		c.PauseGapMs = d.PauseGapMs
	}
	if c.SilenceMinSeconds <= 0 {
		c.SilenceMinSeconds = d.SilenceMinSeconds
	}
	if c.SilenceFlightMs <= 0 {
		c.SilenceFlightMs = d.SilenceFlightMs
	}
	if c.SilencePauseCap <= 0 {
		c.SilencePauseCap = d.SilencePauseCap
	}
	return c
}

type flightSample struct {
	at uint64 // timestamp of the press that closed the flight
	ms uint64
}

// Extractor accumulates key events and computes feature vectors.
// It is owned by a single goroutine.
type Extractor struct {
	cfg         Config
	events      *ring[keystroke.KeyEvent]
	flights     *ring[flightSample]
	lastRelease uint64
	haveRelease bool
}

// NewExtractor creates an Extractor. Zero fields of cfg take defaults.
func NewExtractor(cfg Config) *Extractor {
	cfg = cfg.applyDefaults()
	return &Extractor{
		cfg:     cfg,
		events:  newRing[keystroke.KeyEvent](cfg.Capacity),
		flights: newRing[flightSample](cfg.Capacity),
	}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Len returns the number of buffered events.
func (e *Extractor) Len() int {
	return e.events.len()
}

// Reset discards all history.
func (e *Extractor) Reset() {
	e.events.reset()
	e.flights.reset()
	e.haveRelease = false
	e.lastRelease = 0
}

// ProcessEvent appends ev to the history. A press closes the flight opened
// by the previous release; flights that run backwards in time or reach
// MaxFlightMs are not recorded.
func (e *Extractor) ProcessEvent(ev keystroke.KeyEvent) {
	e.events.push(ev)

	if !ev.IsPress {
		e.lastRelease = ev.TimestampMs
		e.haveRelease = true
		return
	}
	if !e.haveRelease || ev.TimestampMs < e.lastRelease {
		return
	}
	if ft := ev.TimestampMs - e.lastRelease; ft < e.cfg.MaxFlightMs {
		e.flights.push(flightSample{at: ev.TimestampMs, ms: ft})
	}
}

// Features computes the vector over the trailing window. An empty history
// yields the zero Vector.
func (e *Extractor) Features() Vector {
	newest, ok := e.events.last()
	if !ok {
		return Vector{}
	}
	cutoff := uint64(0)
	if newest.TimestampMs > e.cfg.WindowMs {
		cutoff = newest.TimestampMs - e.cfg.WindowMs
	}

	var flights []float64
	for i := 0; i < e.flights.len(); i++ {
		if s := e.flights.at(i); s.at >= cutoff {
			flights = append(flights, float64(s.ms))
		}
	}

	var presses []keystroke.KeyEvent
	var bursts []int
	burst := 0
	var rel uint64
	haveRel := false
	for i := 0; i < e.events.len(); i++ {
		ev := e.events.at(i)
		if ev.TimestampMs < cutoff {
			continue
		}
		if !ev.IsPress {
			rel, haveRel = ev.TimestampMs, true
			continue
		}
		presses = append(presses, ev)
		if haveRel && gap(rel, ev.TimestampMs) < e.cfg.BurstGapMs && burst > 0 {
			burst++
			continue
		}
		if burst > 0 {
			bursts = append(bursts, burst)
		}
		burst = 1
	}
	if burst > 0 {
		bursts = append(bursts, burst)
	}

	if len(presses) == 0 && len(flights) == 0 {
		return Vector{}
	}

	v := Vector{
		F1: Median(flights),
		F2: Variance(flights),
		F4: mean(bursts),
	}

	deletions, deletionPauses := 0, 0
	for i, p := range presses {
		del := p.IsDeletion()
		if del {
			deletions++
		}
		if i+1 < len(presses) && gap(p.TimestampMs, presses[i+1].TimestampMs) >= e.cfg.PauseGapMs {
			v.F5++
			if del {
				deletionPauses++
			}
		}
	}
	if len(presses) > 0 {
		v.F3 = float64(deletions) / float64(len(presses))
	}
	if deletions > 0 {
		v.F6 = float64(deletionPauses) / float64(deletions)
	}
	return v
}

// SilenceObservation synthesises the vector fed to the engine after
// silenceSeconds without input. It returns false below SilenceMinSeconds.
//
// F1 is pinned to SilenceFlightMs so engagement from rhythm drops to zero;
// F5 grows with elapsed silence (capped) so engagement keeps falling the
// longer the pause lasts. F2, F3, F4 and F6 are zero.
func (e *Extractor) SilenceObservation(silenceSeconds float64) (Vector, bool) {
	if math.IsNaN(silenceSeconds) || silenceSeconds < e.cfg.SilenceMinSeconds {
		return Vector{}, false
	}
	return Vector{
		F1: e.cfg.SilenceFlightMs,
		F5: math.Min(silenceSeconds/2, e.cfg.SilencePauseCap),
	}, true
}

// gap is b-a, or 0 when b precedes a.
func gap(a, b uint64) uint64 {
	if b < a {
		return 0
	}
	return b - a
}

// Median returns the median of xs, averaging the middle pair for even
// lengths. Empty input yields 0.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Variance returns the population variance, or 0 for fewer than two values.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := 0.0
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(xs))
}

func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
