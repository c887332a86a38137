package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cogstate/internal/config"
	"cogstate/internal/engine"
	"cogstate/internal/health"
	"cogstate/internal/ime"
	"cogstate/internal/keystroke"
	"cogstate/internal/logging"
	"cogstate/internal/metrics"
	"cogstate/internal/pipeline"
	"cogstate/internal/sessionlog"
	"cogstate/internal/version"
)

var (
	runNoStatus   bool
	runRecordKeys bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the inference daemon",
	Long: `Run the inference daemon in the foreground.

The daemon reads keyboard timing, updates the belief on every key press
and after each idle timeout, records every step to the session log and
serves /healthz, /readyz, /health, /belief and /metrics on the status
address.

Baselines and the log level are reloaded when the config file changes.
Other sections need a restart.

Examples:
  cogstated run
  cogstated run --config ~/.config/cogstate/config.toml
  cogstated run --no-status`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runNoStatus, "no-status", false, "Disable the HTTP status server")
	runCmd.Flags().BoolVar(&runRecordKeys, "record-keys", false, "Record raw key transitions in the session log")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if runNoStatus {
		cfg.Status.Enabled = false
	}
	if runRecordKeys {
		cfg.Pipeline.RecordKeys = true
	}

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   version.Version,
		Component: "cogstated",
		Logger:    logger,
	})

	// The platform hook delivers into the one registered queue.
	queue := keystroke.NewQueue(cfg.Pipeline.QueueSize)
	if err := keystroke.Register(queue); err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger, daemonDeps{
		Crash:   crash,
		Queue:   queue,
		Keys:    keystroke.New(keystroke.WithCrashHandler(crash)),
		Context: ime.New(),
	})
	if err != nil {
		return err
	}

	loader.OnChange(d.applyConfig)
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch disabled", "path", loader.Path(), "error", err)
	}
	defer loader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload failed", "error", err)
			}
		}
	}()

	return d.Run(ctx)
}

// daemon owns every long-lived component of a run.
type daemon struct {
	cfg     *config.Config
	logger  *logging.Logger
	crash   *logging.CrashHandler
	engine  *engine.Engine
	metrics *metrics.Metrics
	queue   *keystroke.Queue
	checker *health.Checker
	pipe    *pipeline.Pipeline

	store   *sessionlog.Store
	writer  *sessionlog.Writer
	session sessionlog.Session
}

// daemonDeps are the process-wide pieces a daemon runs on. Keys may be nil
// when events arrive on Queue by other means.
type daemonDeps struct {
	Crash   *logging.CrashHandler
	Queue   *keystroke.Queue
	Keys    keystroke.Source
	Context ime.Source
}

func newDaemon(cfg *config.Config, logger *logging.Logger, deps daemonDeps) (*daemon, error) {
	if deps.Crash == nil || deps.Queue == nil || deps.Context == nil {
		return nil, errors.New("daemon: crash handler, queue and context source are required")
	}
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		crash:   deps.Crash,
		queue:   deps.Queue,
		metrics: metrics.New(nil),
		checker: health.NewChecker(),
	}
	keys, ctxSrc := deps.Keys, deps.Context

	params, err := cfg.EngineParams()
	if err != nil {
		return nil, err
	}
	d.engine = engine.New(params, cfg.EngineConfig(),
		engine.WithObserver(d.metrics),
		engine.WithBaselines(cfg.Baselines),
	)
	d.metrics.ObserveBelief(d.engine.Belief)

	d.metrics.ObserveDropped("queue", d.queue.Dropped)

	var sink pipeline.RecordSink = pipeline.Discard
	if cfg.Storage.Path != "" {
		if err := d.openSession(); err != nil {
			return nil, err
		}
		sink = d.writer
	}

	d.pipe, err = pipeline.New(pipeline.Deps{
		Engine:  d.engine,
		Queue:   d.queue,
		Keys:    keys,
		Context: ctxSrc,
		Sink:    sink,
		Metrics: d.metrics,
		Logger:  logger,
		Crash:   d.crash,
	}, cfg.PipelineConfig())
	if err != nil {
		d.closeSession()
		return nil, err
	}

	d.checker.RegisterFunc("belief", true, health.BeliefCheck(d.engine.Belief))
	d.checker.RegisterFunc("queue", false, health.DropCheck(d.queue.Dropped))
	if keys != nil {
		d.checker.RegisterFunc("keyboard", false, health.SourceCheck(keys.Available))
	}
	d.checker.RegisterFunc("input_method", false, health.SourceCheck(ctxSrc.Available))
	if d.store != nil {
		d.checker.RegisterFunc("database", true, health.DatabaseCheck(d.store.Ping))
		d.checker.RegisterFunc("session_log", false, health.DropCheck(d.writer.Dropped))
	}
	return d, nil
}

func (d *daemon) openSession() error {
	store, err := sessionlog.Open(d.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	host, _ := os.Hostname()
	sess, err := store.StartSession(host, version.Version, time.Now())
	if err != nil {
		store.Close()
		return err
	}

	wc := d.cfg.WriterConfig()
	wc.Logger = d.logger.WithComponent("sessionlog").Logger
	wc.Crash = d.crash
	d.store = store
	d.session = sess
	d.writer = sessionlog.NewWriter(store, sess.ID, wc)
	d.crash.SetSessionID(sess.ID)
	d.metrics.ObserveDropped("sessionlog", d.writer.Dropped)

	d.logger.Info("session started", "session_id", sess.ID, "path", d.cfg.Storage.Path)
	return nil
}

// closeSession drains the writer and stamps the session end.
func (d *daemon) closeSession() {
	if d.store == nil {
		return
	}
	if err := d.writer.Close(); err != nil {
		d.logger.Warn("session writer close", "error", err)
	}
	if err := d.store.EndSession(d.session.ID, time.Now()); err != nil {
		d.logger.Warn("end session", "session_id", d.session.ID, "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("close session log", "error", err)
	}
	d.logger.Info("session ended",
		"session_id", d.session.ID,
		"written", d.writer.Written(),
		"dropped", d.writer.Dropped(),
		"failed", d.writer.Failed(),
	)
	d.store = nil
}

// Run blocks until ctx is cancelled or a role fails, then closes the
// session.
func (d *daemon) Run(ctx context.Context) error {
	defer d.closeSession()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(d.crash.Guard("pipeline", func() error { return d.pipe.Run(ctx) }))

	if d.cfg.Status.Enabled {
		srv := health.NewServer(health.ServerConfig{
			Addr:    d.cfg.Status.Listen,
			Checker: d.checker,
			Belief:  d.engine,
			Metrics: d.metrics.Handler(),
			Logger:  d.logger.WithComponent("status").Logger,
		})
		g.Go(d.crash.Guard("status", func() error { return srv.Run(ctx) }))
	}

	d.checker.Check(ctx)
	d.checker.SetReady(true)
	d.logger.Info("cogstated running", "version", version.Info(), "status", d.cfg.Status.Enabled)

	err := g.Wait()
	d.checker.SetReady(false)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("cogstated stopped", "error", err)
	return err
}

// applyConfig is the hot-reload hook.
func (d *daemon) applyConfig(old, new *config.Config) {
	d.engine.SetBaselines(new.Baselines)
	if level, err := logging.ParseLevel(new.Logging.Level); err == nil {
		d.logger.SetLevel(level)
	}
	if sections := new.RestartRequired(old); len(sections) > 0 {
		d.logger.Warn("config changes need a restart", "sections", sections)
	}
	d.logger.Info("config reloaded", "log_level", logging.LevelString(d.logger.Level()))
}
