// Package synth generates synthetic, human-like keystroke streams for
// exercising the feature extractor and the belief engine without manual
// typing.
package synth

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"cogstate/internal/keystroke"
)

// Profile describes a typing behaviour.
type Profile struct {
	Name        string
	Description string

	MedianFlightMs float64 // Median press-to-press interval
	FlightStdDevMs float64
	DwellMs        float64 // Mean press-to-release time

	DeletionProbability float64 // Chance a press starts a deletion run
	DeletionRunMax      int     // Longest run of consecutive Backspaces
	DeletionFlightMs    float64 // Interval inside a deletion run

	BurstProbability float64 // Chance a press starts a fast burst
	BurstFlightMs    float64

	PauseProbability float64 // Chance of a thinking pause before a press
	PauseMaxMs       float64
}

var profiles = map[string]Profile{
	"flow": {
		Name:                "flow",
		Description:         "Fluent drafting: quick, even rhythm, few corrections",
		MedianFlightMs:      120,
		FlightStdDevMs:      40,
		DwellMs:             80,
		DeletionProbability: 0.02,
		DeletionRunMax:      2,
		DeletionFlightMs:    110,
		BurstProbability:    0.15,
		BurstFlightMs:       80,
		PauseProbability:    0.005,
		PauseMaxMs:          1500,
	},
	"steady": {
		Name:                "steady",
		Description:         "Ordinary prose at a moderate pace",
		MedianFlightMs:      200,
		FlightStdDevMs:      90,
		DwellMs:             95,
		DeletionProbability: 0.06,
		DeletionRunMax:      3,
		DeletionFlightMs:    130,
		BurstProbability:    0.08,
		BurstFlightMs:       110,
		PauseProbability:    0.02,
		PauseMaxMs:          4000,
	},
	"incubation": {
		Name:                "incubation",
		Description:         "Thinking between sentences: long pauses, slow restarts",
		MedianFlightMs:      280,
		FlightStdDevMs:      150,
		DwellMs:             110,
		DeletionProbability: 0.05,
		DeletionRunMax:      3,
		DeletionFlightMs:    150,
		BurstProbability:    0.03,
		BurstFlightMs:       150,
		PauseProbability:    0.12,
		PauseMaxMs:          20000,
	},
	"stuck": {
		Name:                "stuck",
		Description:         "Struggling: erratic rhythm and long runs of deletions",
		MedianFlightMs:      350,
		FlightStdDevMs:      250,
		DwellMs:             120,
		DeletionProbability: 0.35,
		DeletionRunMax:      8,
		DeletionFlightMs:    90,
		BurstProbability:    0.02,
		BurstFlightMs:       150,
		PauseProbability:    0.08,
		PauseMaxMs:          12000,
	},
	"revision": {
		Name:                "revision",
		Description:         "Editing a draft: steady pace with frequent short deletions",
		MedianFlightMs:      180,
		FlightStdDevMs:      100,
		DwellMs:             90,
		DeletionProbability: 0.3,
		DeletionRunMax:      4,
		DeletionFlightMs:    100,
		BurstProbability:    0.05,
		BurstFlightMs:       120,
		PauseProbability:    0.04,
		PauseMaxMs:          6000,
	},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Names lists the built-in profiles in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate returns presses key presses, each followed by its release,
// starting at startMs. The stream is ordered by timestamp and the same rng
// seed always yields the same stream.
func Generate(rng *rand.Rand, p Profile, presses int, startMs uint64) []keystroke.KeyEvent {
	times := make([]float64, 0, presses)
	codes := make([]uint32, 0, presses)

	t := float64(startMs)
	burstRemaining := 0
	deleteRemaining := 0
	for i := 0; i < presses; i++ {
		var flight float64
		code := uint32('A' + rng.Intn(26))

		switch {
		case deleteRemaining > 0:
			flight = p.DeletionFlightMs * (0.7 + 0.6*rng.Float64())
			code = keystroke.KeyBackspace
			deleteRemaining--
		case burstRemaining > 0:
			flight = p.BurstFlightMs * (0.5 + rng.Float64())
			burstRemaining--
		case rng.Float64() < p.PauseProbability:
			flight = p.MedianFlightMs + rng.Float64()*p.PauseMaxMs
		case rng.Float64() < p.DeletionProbability:
			flight = logNormalSample(rng, p.MedianFlightMs, p.FlightStdDevMs)
			code = keystroke.KeyBackspace
			if p.DeletionRunMax > 1 {
				deleteRemaining = rng.Intn(p.DeletionRunMax)
			}
		case rng.Float64() < p.BurstProbability:
			burstRemaining = 3 + rng.Intn(10)
			flight = p.BurstFlightMs * (0.5 + rng.Float64())
		default:
			flight = logNormalSample(rng, p.MedianFlightMs, p.FlightStdDevMs)
		}

		if i > 0 {
			t += math.Max(flight, 2)
		}
		times = append(times, math.Round(t))
		codes = append(codes, code)
	}

	events := make([]keystroke.KeyEvent, 0, 2*presses)
	for i, at := range times {
		dwell := math.Max(1, p.DwellMs*(0.6+0.8*rng.Float64()))
		if i+1 < len(times) {
			dwell = math.Min(dwell, times[i+1]-at-1)
		}
		press := uint64(at)
		events = append(events,
			keystroke.KeyEvent{KeyCode: codes[i], TimestampMs: press, IsPress: true},
			keystroke.KeyEvent{KeyCode: codes[i], TimestampMs: press + uint64(math.Max(dwell, 1)), IsPress: false},
		)
	}
	return events
}

// logNormalSample draws from a log-normal distribution with the given
// median and approximate standard deviation.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)
	if sigma < 0.1 {
		sigma = 0.1
	}
	return math.Exp(mu + sigma*rng.NormFloat64())
}

// Stats summarises a generated stream.
type Stats struct {
	Presses        int           `json:"presses"`
	Deletions      int           `json:"deletions"`
	Span           time.Duration `json:"span_ns"`
	MeanFlightMs   float64       `json:"mean_flight_ms"`
	StdDevFlightMs float64       `json:"stddev_flight_ms"`
	MinFlightMs    float64       `json:"min_flight_ms"`
	MaxFlightMs    float64       `json:"max_flight_ms"`
}

// DeletionRatio is the share of presses that were Backspace or Delete.
func (s Stats) DeletionRatio() float64 {
	if s.Presses == 0 {
		return 0
	}
	return float64(s.Deletions) / float64(s.Presses)
}

// Summarize computes Stats over the presses in events.
func Summarize(events []keystroke.KeyEvent) Stats {
	var (
		s       Stats
		flights []float64
		last    uint64
	)
	for _, ev := range events {
		if !ev.IsPress {
			continue
		}
		if s.Presses > 0 {
			flights = append(flights, float64(ev.TimestampMs-last))
		}
		last = ev.TimestampMs
		s.Presses++
		if ev.IsDeletion() {
			s.Deletions++
		}
	}
	if len(events) > 1 {
		s.Span = time.Duration(events[len(events)-1].TimestampMs-events[0].TimestampMs) * time.Millisecond
	}
	if len(flights) == 0 {
		return s
	}

	var sum, sumSq float64
	s.MinFlightMs, s.MaxFlightMs = flights[0], flights[0]
	for _, v := range flights {
		sum += v
		sumSq += v * v
		s.MinFlightMs = math.Min(s.MinFlightMs, v)
		s.MaxFlightMs = math.Max(s.MaxFlightMs, v)
	}
	n := float64(len(flights))
	s.MeanFlightMs = sum / n
	s.StdDevFlightMs = math.Sqrt(math.Max(0, sumSq/n-s.MeanFlightMs*s.MeanFlightMs))
	return s
}
