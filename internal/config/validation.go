package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"cogstate/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for any ValidationErrors.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the offending field names.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// ErrInvalidConfig is matched by every ValidationErrors value.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig checks every section and returns all problems at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateEngine(c)...)
	errs = append(errs, validateFeatures(&c.Features)...)
	errs = append(errs, validateBaselines(c)...)
	errs = append(errs, validatePipeline(&c.Pipeline)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateStatus(&c.Status)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(c *Config) ValidationErrors {
	var errs ValidationErrors
	if err := c.EngineConfig().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, ValidationError{Field: "engine", Message: line})
		}
	}
	if _, err := c.EngineParams(); err != nil {
		errs = append(errs, ValidationError{Field: "engine", Message: err.Error()})
	}
	return errs
}

func validateFeatures(f *FeaturesConfig) ValidationErrors {
	var errs ValidationErrors

	if f.Capacity < 2 {
		errs = append(errs, ValidationError{
			Field:   "features.capacity",
			Message: "capacity must be at least 2 events",
		})
	}
	if f.WindowMs == 0 {
		errs = append(errs, *RequiredFieldError("features.window_ms"))
	}
	if f.BurstGapMs == 0 || f.PauseGapMs == 0 || f.MaxFlightMs == 0 {
		errs = append(errs, ValidationError{
			Field:   "features",
			Message: "burst_gap_ms, pause_gap_ms and max_flight_ms must be positive",
		})
	}
	if f.BurstGapMs >= f.PauseGapMs {
		errs = append(errs, ValidationError{
			Field:   "features.burst_gap_ms",
			Message: fmt.Sprintf("burst gap (%d) must be shorter than pause gap (%d)", f.BurstGapMs, f.PauseGapMs),
		})
	}
	if f.SilenceMinSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "features.silence_min_seconds",
			Message: "silence threshold must be positive",
		})
	}
	if f.SilenceFlightMs <= 0 || f.SilencePauseCap <= 0 {
		errs = append(errs, ValidationError{
			Field:   "features",
			Message: "silence_flight_ms and silence_pause_cap must be positive",
		})
	}
	return errs
}

func validateBaselines(c *Config) ValidationErrors {
	var errs ValidationErrors
	for name, b := range map[string]interface{ Validate() error }{
		"baselines.coding":      c.Baselines.Coding,
		"baselines.composition": c.Baselines.Composition,
	} {
		if err := b.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: name, Message: err.Error()})
		}
	}

	// A silence observation must saturate engagement low in both contexts.
	for name, flight := range map[string]float64{
		"baselines.coding.flight_ms":      c.Baselines.Coding.FlightMs,
		"baselines.composition.flight_ms": c.Baselines.Composition.FlightMs,
	} {
		if flight > 0 && c.Features.SilenceFlightMs < 3*flight {
			errs = append(errs, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("features.silence_flight_ms (%g) must be at least 3x the baseline flight time (%g)", c.Features.SilenceFlightMs, flight),
			})
		}
	}
	return errs
}

func validatePipeline(p *PipelineConfig) ValidationErrors {
	var errs ValidationErrors
	if p.QueueSize < 1 {
		errs = append(errs, *RangeError("pipeline.queue_size", 1, "unbounded"))
	}
	if p.IdleTimeoutMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.idle_timeout_ms",
			Message: "idle timeout must be at least 10ms",
		})
	}
	if p.MonitorIntervalMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.monitor_interval_ms",
			Message: "monitor interval must be at least 10ms",
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Path == "" {
		return nil
	}
	if s.WriterBuffer < 1 {
		errs = append(errs, *RangeError("storage.writer_buffer", 1, "unbounded"))
	}
	if s.BatchSize < 1 || s.BatchSize > s.WriterBuffer {
		errs = append(errs, *RangeError("storage.batch_size", 1, s.WriterBuffer))
	}
	if s.FlushIntervalMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "storage.flush_interval_ms",
			Message: "flush interval must be positive",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateStatus(s *StatusConfig) ValidationErrors {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return ValidationErrors{{
			Field:   "status.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", s.Listen, err),
		}}
	}
	return nil
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
