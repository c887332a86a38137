// Package pipeline runs the analysis roles against one shared engine:
// the ingestor (key events and the idle path) and the context monitor
// (input-method polling). Readers query the engine directly.
package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/ime"
	"cogstate/internal/keystroke"
	"cogstate/internal/logging"
)

// Config configures a Pipeline.
type Config struct {
	Features        features.Config
	IdleTimeout     time.Duration
	MonitorInterval time.Duration
	RecordKeys      bool
}

// Deps are the collaborators of a Pipeline. Engine, Queue and Context are
// required; the rest may be nil.
type Deps struct {
	Engine  *engine.Engine
	Queue   *keystroke.Queue
	Keys    keystroke.Source
	Context ime.Source
	Sink    RecordSink
	Metrics IngestMetrics
	Logger  *logging.Logger
	Crash   *logging.CrashHandler
}

// Pipeline owns the roles.
type Pipeline struct {
	deps     Deps
	signals  *Signals
	ingestor *Ingestor
	monitor  *Monitor
	logger   *logging.Logger
}

// New wires a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Engine == nil || deps.Queue == nil || deps.Context == nil {
		return nil, errors.New("pipeline: engine, queue and context source are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Crash == nil {
		deps.Crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{Logger: deps.Logger, Component: "pipeline"})
	}

	signals := &Signals{}
	return &Pipeline{
		deps:    deps,
		signals: signals,
		ingestor: NewIngestor(deps.Engine, deps.Queue, signals, deps.Sink, deps.Metrics, deps.Logger, IngestConfig{
			Features:    cfg.Features,
			IdleTimeout: cfg.IdleTimeout,
			RecordKeys:  cfg.RecordKeys,
		}),
		monitor: NewMonitor(deps.Context, deps.Engine, signals, deps.Sink, deps.Logger, MonitorConfig{
			Interval: cfg.MonitorInterval,
		}),
		logger: deps.Logger.WithComponent("pipeline"),
	}, nil
}

// Signals exposes the shared input-method state.
func (p *Pipeline) Signals() *Signals {
	return p.signals
}

// Run starts the key source (if any) and both roles, and blocks until ctx
// is cancelled or a role fails. A missing key source is not fatal: the
// engine then only sees silence.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.deps.Keys != nil {
		if ok, why := p.deps.Keys.Available(); !ok {
			p.logger.Warn("keyboard source unavailable", "reason", why)
		} else if err := p.deps.Keys.Start(ctx); err != nil {
			p.logger.Warn("keyboard source failed to start", "error", err)
		} else {
			defer p.deps.Keys.Stop()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(p.deps.Crash.Guard("ingest", func() error { return p.ingestor.Run(ctx) }))
	g.Go(p.deps.Crash.Guard("context-monitor", func() error { return p.monitor.Run(ctx) }))

	p.logger.Info("pipeline running")
	err := g.Wait()
	p.logger.Info("pipeline stopped", "error", err)
	return err
}
