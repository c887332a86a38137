package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/keystroke"
	"cogstate/internal/logging"
)

// IngestMetrics receives ingestion counters. Optional.
type IngestMetrics interface {
	EventIngested(press bool)
	SilenceUpdate(res engine.Result)
}

// Ingestor drains the key queue, keeps the feature extractor, and drives
// engine updates: one per key press, and one per idle tick once the
// keyboard has been silent long enough.
type Ingestor struct {
	eng     *engine.Engine
	ex      *features.Extractor
	queue   *keystroke.Queue
	signals *Signals
	sink    RecordSink
	metrics IngestMetrics
	logger  *logging.Logger

	idle       time.Duration
	recordKeys bool
	now        func() time.Time

	lastActivity time.Time
	lastDropped  uint64
	dropWarn     rate.Sometimes
}

// IngestConfig configures an Ingestor.
type IngestConfig struct {
	Features features.Config
	// IdleTimeout is how long the loop waits for an event before taking
	// the silence path. Default: 1s.
	IdleTimeout time.Duration
	// RecordKeys emits a KindKey record per event.
	RecordKeys bool
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// NewIngestor builds an Ingestor. sink, metrics and logger may be nil.
func NewIngestor(eng *engine.Engine, queue *keystroke.Queue, signals *Signals, sink RecordSink, metrics IngestMetrics, logger *logging.Logger, cfg IngestConfig) *Ingestor {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ingestor{
		eng:        eng,
		ex:         features.NewExtractor(cfg.Features),
		queue:      queue,
		signals:    signals,
		sink:       sink,
		metrics:    metrics,
		logger:     logger.WithComponent("ingest"),
		idle:       cfg.IdleTimeout,
		recordKeys: cfg.RecordKeys,
		now:        cfg.Now,
		dropWarn:   rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// Run processes events until ctx is done or the queue channel closes.
func (in *Ingestor) Run(ctx context.Context) error {
	in.lastActivity = in.now()
	timer := time.NewTimer(in.idle)
	defer timer.Stop()

	events := in.queue.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			in.HandleEvent(ev)
			resetTimer(timer, in.idle)
		case <-timer.C:
			in.HandleIdle()
			timer.Reset(in.idle)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// HandleEvent processes one key event. While the engine is paused the event
// only refreshes the activity time: composition keystrokes are neither
// analysed nor counted as silence.
func (in *Ingestor) HandleEvent(ev keystroke.KeyEvent) {
	in.lastActivity = in.now()
	if in.metrics != nil {
		in.metrics.EventIngested(ev.IsPress)
	}
	if in.eng.Paused() {
		return
	}

	in.ex.ProcessEvent(ev)
	if in.recordKeys {
		in.sink.Emit(Record{Kind: KindKey, TimestampMs: ev.TimestampMs, KeyCode: ev.KeyCode, IsPress: ev.IsPress})
	}
	if !ev.IsPress {
		return
	}

	in.eng.RegisterKeystroke(ev.KeyCode)
	native := in.signals.NativeScript()
	v := in.ex.Features()
	res := in.eng.Update(v, native)
	in.emitUpdate(ev.TimestampMs, v, res, native, false)
}

// HandleIdle runs the silence path: if the keyboard has been quiet for at
// least the extractor's minimum silence, feed a silence observation.
func (in *Ingestor) HandleIdle() {
	in.checkDropped()
	if in.eng.Paused() {
		return
	}

	now := in.now()
	silence := now.Sub(in.lastActivity).Seconds()
	v, ok := in.ex.SilenceObservation(silence)
	if !ok {
		return
	}

	native := in.signals.NativeScript()
	res := in.eng.Update(v, native)
	if in.metrics != nil {
		in.metrics.SilenceUpdate(res)
	}
	in.emitUpdate(uint64(now.UnixMilli()), v, res, native, true)
}

func (in *Ingestor) emitUpdate(ts uint64, v features.Vector, res engine.Result, native, silence bool) {
	if !res.Applied {
		return
	}
	if res.Penalty {
		in.logger.Debug("deletion streak penalty applied", "p_stuck", res.Display[engine.Stuck])
	}
	in.sink.Emit(Record{
		Kind:         KindFeat,
		TimestampMs:  ts,
		Features:     v,
		Belief:       res.Display,
		Observation:  res.Observation,
		Penalty:      res.Penalty,
		Silence:      silence,
		Outcome:      res.Outcome(),
		NativeScript: native,
	})
}

func (in *Ingestor) checkDropped() {
	dropped := in.queue.Dropped()
	if dropped == in.lastDropped {
		return
	}
	delta := dropped - in.lastDropped
	in.lastDropped = dropped
	in.dropWarn.Do(func() {
		in.logger.Warn("key events dropped under backpressure", "dropped", delta, "total", dropped)
	})
}
