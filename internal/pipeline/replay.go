package pipeline

import (
	"time"

	"cogstate/internal/engine"
	"cogstate/internal/keystroke"
	"cogstate/internal/logging"
)

// ReplaySummary counts what a replay produced.
type ReplaySummary struct {
	Events    int           `json:"events"`
	Updates   int           `json:"updates"`
	Penalties int           `json:"penalties"`
	Silences  int           `json:"silences"`
	Duration  time.Duration `json:"duration_ns"`
	Final     engine.Belief `json:"final"`
}

// Replay feeds a recorded or synthetic event stream through an Ingestor on
// a virtual clock. Gaps longer than the idle timeout take the silence path
// once per elapsed timeout, as the live loop would. Events must be ordered
// by timestamp.
func Replay(eng *engine.Engine, events []keystroke.KeyEvent, sink RecordSink, logger *logging.Logger, cfg IngestConfig) ReplaySummary {
	var sum ReplaySummary
	if len(events) == 0 {
		sum.Final = eng.Belief()
		return sum
	}
	if sink == nil {
		sink = Discard
	}

	start := time.UnixMilli(int64(events[0].TimestampMs))
	clock := start
	cfg.Now = func() time.Time { return clock }

	counting := SinkFunc(func(r Record) {
		if r.Kind == KindFeat {
			sum.Updates++
			if r.Penalty {
				sum.Penalties++
			}
			if r.Silence {
				sum.Silences++
			}
		}
		sink.Emit(r)
	})

	in := NewIngestor(eng, keystroke.NewQueue(1), &Signals{}, counting, nil, logger, cfg)
	in.lastActivity = clock

	for _, ev := range events {
		at := time.UnixMilli(int64(ev.TimestampMs))
		for next := clock.Add(in.idle); next.Before(at); next = clock.Add(in.idle) {
			clock = next
			in.HandleIdle()
		}
		if at.After(clock) {
			clock = at
		}
		in.HandleEvent(ev)
		sum.Events++
	}

	sum.Duration = clock.Sub(start)
	sum.Final = eng.Belief()
	return sum
}
