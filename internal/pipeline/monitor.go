package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"cogstate/internal/engine"
	"cogstate/internal/ime"
	"cogstate/internal/logging"
)

// Monitor polls the input-method source. While composition is on screen it
// pauses the engine and pins the belief to Flow; it also publishes the
// native-script flag for baseline selection.
type Monitor struct {
	src      ime.Source
	eng      *engine.Engine
	signals  *Signals
	sink     RecordSink
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time

	started   bool
	composing bool
	errWarn   rate.Sometimes
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Interval between samples. Default: 100ms.
	Interval time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// NewMonitor builds a Monitor. sink and logger may be nil.
func NewMonitor(src ime.Source, eng *engine.Engine, signals *Signals, sink RecordSink, logger *logging.Logger, cfg MonitorConfig) *Monitor {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		src:      src,
		eng:      eng,
		signals:  signals,
		sink:     sink,
		logger:   logger.WithComponent("context-monitor"),
		interval: cfg.Interval,
		now:      cfg.Now,
		errWarn:  rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll takes one sample and applies it.
func (m *Monitor) Poll(ctx context.Context) {
	c, err := m.src.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.errWarn.Do(func() {
			m.logger.Warn("input method sample failed, keeping last known state", "error", err)
		})
	}

	m.eng.SetPaused(c.Composing)
	if c.Composing {
		m.eng.ForceOverride(engine.Flow)
	}
	if c.Composing != m.composing {
		m.logger.Debug("composition state changed", "composing", c.Composing)
		m.composing = c.Composing
	}

	changed := m.signals.SetNativeScript(c.NativeScript)
	if changed || !m.started {
		m.started = true
		m.logger.Info("input mode", "native_script", c.NativeScript)
		m.sink.Emit(Record{
			Kind:         KindContext,
			TimestampMs:  uint64(m.now().UnixMilli()),
			NativeScript: c.NativeScript,
		})
	}
}
