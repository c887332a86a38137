package engine

import (
	"fmt"
	"math"
	"strings"
)

// State is one of the three hidden cognitive states.
type State int

const (
	Flow State = iota
	Incubation
	Stuck
)

// NumStates is the size of the hidden state space.
const NumStates = 3

// States lists every state in index order.
var States = [NumStates]State{Flow, Incubation, Stuck}

func (s State) String() string {
	switch s {
	case Flow:
		return "flow"
	case Incubation:
		return "incubation"
	case Stuck:
		return "stuck"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState accepts the names produced by String, case-insensitively.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// Valid reports whether s is one of the three states.
func (s State) Valid() bool {
	return s >= Flow && s <= Stuck
}

// Belief is a probability distribution over [Flow, Incubation, Stuck].
type Belief [NumStates]float64

// Sum returns the total mass.
func (b Belief) Sum() float64 {
	return b[0] + b[1] + b[2]
}

// Normalized reports whether every component lies in [0,1] and the mass
// is 1 within tol.
func (b Belief) Normalized(tol float64) bool {
	for _, p := range b {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return false
		}
	}
	return math.Abs(b.Sum()-1) <= tol
}

// MostLikely returns the state with the largest probability.
func (b Belief) MostLikely() State {
	best := Flow
	for _, s := range States[1:] {
		if b[s] > b[best] {
			best = s
		}
	}
	return best
}

// Map returns the belief keyed by state.
func (b Belief) Map() map[State]float64 {
	return map[State]float64{
		Flow:       b[Flow],
		Incubation: b[Incubation],
		Stuck:      b[Stuck],
	}
}

// Concentrated returns a belief with confidence on target and the rest
// split evenly.
func Concentrated(target State, confidence float64) Belief {
	rest := (1 - confidence) / 2
	b := Belief{rest, rest, rest}
	b[target] = confidence
	return b
}
