// Package config handles configuration loading, validation, and management for cogstated.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/logging"
	"cogstate/internal/pipeline"
	"cogstate/internal/projection"
	"cogstate/internal/sessionlog"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine holds the inference calibration and model tables.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Features holds the extractor thresholds.
	Features FeaturesConfig `toml:"features" json:"features" yaml:"features"`

	// Baselines are the per-context reference constants. Reloaded live.
	Baselines projection.BaselineSet `toml:"baselines" json:"baselines" yaml:"baselines"`

	Pipeline PipelineConfig `toml:"pipeline" json:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration. The level is reloaded live.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Status configures the HTTP status server.
	Status StatusConfig `toml:"status" json:"status" yaml:"status"`
}

// EngineConfig configures the belief engine. Empty tables keep the built-in
// model.
type EngineConfig struct {
	EmissionFloor       float64 `toml:"emission_floor" json:"emission_floor" yaml:"emission_floor"`
	LatentAlpha         float64 `toml:"latent_alpha" json:"latent_alpha" yaml:"latent_alpha"`
	DisplayAlpha        float64 `toml:"display_alpha" json:"display_alpha" yaml:"display_alpha"`
	PenaltyDisplayAlpha float64 `toml:"penalty_display_alpha" json:"penalty_display_alpha" yaml:"penalty_display_alpha"`
	PenaltyStreak       uint32  `toml:"penalty_streak" json:"penalty_streak" yaml:"penalty_streak"`
	OverrideConfidence  float64 `toml:"override_confidence" json:"override_confidence" yaml:"override_confidence"`

	// InitialBelief is P(Flow), P(Incubation), P(Stuck) at start.
	InitialBelief []float64 `toml:"initial_belief,omitempty" json:"initial_belief,omitempty" yaml:"initial_belief,omitempty"`

	// Transitions is the 3x3 row-stochastic matrix, rows are "from".
	Transitions [][]float64 `toml:"transitions,omitempty" json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// FeaturesConfig configures the feature extractor.
type FeaturesConfig struct {
	Capacity          int     `toml:"capacity" json:"capacity" yaml:"capacity"`
	WindowMs          uint64  `toml:"window_ms" json:"window_ms" yaml:"window_ms"`
	MaxFlightMs       uint64  `toml:"max_flight_ms" json:"max_flight_ms" yaml:"max_flight_ms"`
	BurstGapMs        uint64  `toml:"burst_gap_ms" json:"burst_gap_ms" yaml:"burst_gap_ms"`
	PauseGapMs        uint64  `toml:"pause_gap_ms" json:"pause_gap_ms" yaml:"pause_gap_ms"`
	SilenceMinSeconds float64 `toml:"silence_min_seconds" json:"silence_min_seconds" yaml:"silence_min_seconds"`
	SilenceFlightMs   float64 `toml:"silence_flight_ms" json:"silence_flight_ms" yaml:"silence_flight_ms"`
	SilencePauseCap   float64 `toml:"silence_pause_cap" json:"silence_pause_cap" yaml:"silence_pause_cap"`
}

// PipelineConfig configures the ingest and context-monitor roles.
type PipelineConfig struct {
	QueueSize         int  `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
	IdleTimeoutMs     int  `toml:"idle_timeout_ms" json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	MonitorIntervalMs int  `toml:"monitor_interval_ms" json:"monitor_interval_ms" yaml:"monitor_interval_ms"`
	RecordKeys        bool `toml:"record_keys" json:"record_keys" yaml:"record_keys"`
}

// StorageConfig configures the session log.
type StorageConfig struct {
	// Path is the SQLite database. Empty disables the session log.
	Path            string `toml:"path" json:"path" yaml:"path"`
	WriterBuffer    int    `toml:"writer_buffer" json:"writer_buffer" yaml:"writer_buffer"`
	BatchSize       int    `toml:"batch_size" json:"batch_size" yaml:"batch_size"`
	FlushIntervalMs int    `toml:"flush_interval_ms" json:"flush_interval_ms" yaml:"flush_interval_ms"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file, or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
	AddSource  bool   `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// StatusConfig configures the status HTTP server.
type StatusConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := DataDir()
	ec := engine.DefaultConfig()
	fc := features.DefaultConfig()
	lc := logging.DefaultConfig()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			EmissionFloor:       ec.EmissionFloor,
			LatentAlpha:         ec.LatentAlpha,
			DisplayAlpha:        ec.DisplayAlpha,
			PenaltyDisplayAlpha: ec.PenaltyDisplayAlpha,
			PenaltyStreak:       ec.PenaltyStreak,
			OverrideConfidence:  ec.OverrideConfidence,
		},
		Features: FeaturesConfig{
			Capacity:          fc.Capacity,
			WindowMs:          fc.WindowMs,
			MaxFlightMs:       fc.MaxFlightMs,
			BurstGapMs:        fc.BurstGapMs,
			PauseGapMs:        fc.PauseGapMs,
			SilenceMinSeconds: fc.SilenceMinSeconds,
			SilenceFlightMs:   fc.SilenceFlightMs,
			SilencePauseCap:   fc.SilencePauseCap,
		},
		Baselines: projection.DefaultBaselines(),
		Pipeline: PipelineConfig{
			QueueSize:         64,
			IdleTimeoutMs:     1000,
			MonitorIntervalMs: 100,
		},
		Storage: StorageConfig{
			Path:            filepath.Join(dir, "sessions.db"),
			WriterBuffer:    sessionlog.DefaultBufferSize,
			BatchSize:       sessionlog.DefaultBatchSize,
			FlushIntervalMs: int(sessionlog.DefaultFlushInterval / time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "cogstated.log"),
			MaxSizeMB:  int(lc.MaxSize),
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAge,
			Compress:   lc.Compress,
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9477",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base data directory, honouring COGSTATE_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("COGSTATE_DATA_DIR"); dir != "" {
		return dir
	}
	return PlatformDataDir()
}

// Load reads configuration from path. A missing file yields the defaults.
// The format follows the extension: .toml, .json, .yaml or .yml.
// Environment overrides are applied; the result is not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies COGSTATE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("COGSTATE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("COGSTATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COGSTATE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("COGSTATE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("COGSTATE_STATUS_LISTEN"); v != "" {
		c.Status.Listen = v
	}
	if v := os.Getenv("COGSTATE_RECORD_KEYS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.RecordKeys = b
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Engine.InitialBelief = append([]float64(nil), c.Engine.InitialBelief...)
	if c.Engine.Transitions != nil {
		clone.Engine.Transitions = make([][]float64, len(c.Engine.Transitions))
		for i, row := range c.Engine.Transitions {
			clone.Engine.Transitions[i] = append([]float64(nil), row...)
		}
	}
	return &clone
}

// RestartRequired lists the sections that differ from old and cannot be
// applied to a running daemon.
func (c *Config) RestartRequired(old *Config) []string {
	var sections []string
	if !reflect.DeepEqual(c.Engine, old.Engine) {
		sections = append(sections, "engine")
	}
	if c.Features != old.Features {
		sections = append(sections, "features")
	}
	if c.Pipeline != old.Pipeline {
		sections = append(sections, "pipeline")
	}
	if c.Storage != old.Storage {
		sections = append(sections, "storage")
	}
	if c.Status != old.Status {
		sections = append(sections, "status")
	}
	return sections
}

// EngineConfig returns the update-step calibration.
func (c *Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		EmissionFloor:       e.EmissionFloor,
		LatentAlpha:         e.LatentAlpha,
		DisplayAlpha:        e.DisplayAlpha,
		PenaltyDisplayAlpha: e.PenaltyDisplayAlpha,
		PenaltyStreak:       e.PenaltyStreak,
		OverrideConfidence:  e.OverrideConfidence,
	}
}

// EngineParams returns the model tables with any configured overrides.
func (c *Config) EngineParams() (engine.Params, error) {
	p := engine.DefaultParams()
	if b := c.Engine.InitialBelief; len(b) > 0 {
		if len(b) != engine.NumStates {
			return p, fmt.Errorf("initial_belief: want %d values, got %d", engine.NumStates, len(b))
		}
		copy(p.Initial[:], b)
	}
	if t := c.Engine.Transitions; len(t) > 0 {
		if len(t) != engine.NumStates {
			return p, fmt.Errorf("transitions: want %d rows, got %d", engine.NumStates, len(t))
		}
		for i, row := range t {
			if len(row) != engine.NumStates {
				return p, fmt.Errorf("transitions row %d: want %d values, got %d", i, engine.NumStates, len(row))
			}
			copy(p.Transitions[i*engine.NumStates:], row)
		}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// FeaturesConfig returns the extractor thresholds.
func (c *Config) FeaturesConfig() features.Config {
	f := c.Features
	return features.Config{
		Capacity:          f.Capacity,
		WindowMs:          f.WindowMs,
		MaxFlightMs:       f.MaxFlightMs,
		BurstGapMs:        f.BurstGapMs,
		PauseGapMs:        f.PauseGapMs,
		SilenceMinSeconds: f.SilenceMinSeconds,
		SilenceFlightMs:   f.SilenceFlightMs,
		SilencePauseCap:   f.SilencePauseCap,
	}
}

// PipelineConfig returns the pipeline settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Features:        c.FeaturesConfig(),
		IdleTimeout:     time.Duration(c.Pipeline.IdleTimeoutMs) * time.Millisecond,
		MonitorInterval: time.Duration(c.Pipeline.MonitorIntervalMs) * time.Millisecond,
		RecordKeys:      c.Pipeline.RecordKeys,
	}
}

// WriterConfig returns the session-log writer settings.
func (c *Config) WriterConfig() sessionlog.WriterConfig {
	return sessionlog.WriterConfig{
		BufferSize:    c.Storage.WriterBuffer,
		BatchSize:     c.Storage.BatchSize,
		FlushInterval: time.Duration(c.Storage.FlushIntervalMs) * time.Millisecond,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	l := c.Logging
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    int64(l.MaxSizeMB),
		MaxAge:     l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		AddSource:  l.AddSource,
		Component:  "cogstated",
	}, nil
}

// SaveConfig writes cfg to path in the format implied by its extension,
// TOML by default.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML, JSON or YAML, selected by file extension.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
