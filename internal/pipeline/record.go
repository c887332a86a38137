package pipeline

import (
	"cogstate/internal/engine"
	"cogstate/internal/features"
)

// RecordKind tags a Record.
type RecordKind string

const (
	// KindKey is a raw key transition. Only produced when key recording is
	// enabled.
	KindKey RecordKind = "key"
	// KindFeat is one engine update: features in, belief out.
	KindFeat RecordKind = "feat"
	// KindContext marks a change of input-method mode.
	KindContext RecordKind = "context"
)

// Record is the flat tuple handed to an external logger after each step.
type Record struct {
	Kind        RecordKind
	TimestampMs uint64

	// KindKey
	KeyCode uint32
	IsPress bool

	// KindFeat
	Features    features.Vector
	Belief      engine.Belief
	Observation int
	Penalty     bool
	Silence     bool
	Outcome     string

	// KindFeat and KindContext
	NativeScript bool
}

// RecordSink consumes records. Emit must not block.
type RecordSink interface {
	Emit(Record)
}

// SinkFunc adapts a function to RecordSink.
type SinkFunc func(Record)

// Emit implements RecordSink.
func (f SinkFunc) Emit(r Record) { f(r) }

type discard struct{}

func (discard) Emit(Record) {}

// Discard drops every record.
var Discard RecordSink = discard{}
