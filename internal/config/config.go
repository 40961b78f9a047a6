// Package config handles sidecar configuration loading from YAML files and
// environment variables, and validates it before any host traffic is
// accepted. Precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/forgerun/sidecar/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "10s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all sidecar configuration. The tree is immutable once loaded;
// only the six sampling rates may be hot-swapped through Runtime.Reload.
type Config struct {
	Enabled      bool              `yaml:"enabled"`
	Sampling     SamplingConfig    `yaml:"sampling"`
	Resources    ResourceConfig    `yaml:"resources"`
	Profiling    ProfilingConfig   `yaml:"profiling"`
	HealthChecks HealthCheckConfig `yaml:"health_checks"`
	Logging      LoggingConfig     `yaml:"logging"`
}

// SamplingConfig holds the per-signal sampling rates, all in [0,1].
type SamplingConfig struct {
	Events      float64 `yaml:"events" validate:"gte=0,lte=1"`
	Traces      float64 `yaml:"traces" validate:"gte=0,lte=1"`
	Profiling   float64 `yaml:"profiling" validate:"gte=0,lte=1"`
	TestEvents  float64 `yaml:"test_events" validate:"gte=0,lte=1"`
	PerfMetrics float64 `yaml:"perf_metrics" validate:"gte=0,lte=1"`
	DebugLogs   float64 `yaml:"debug_logs" validate:"gte=0,lte=1"`

	// Adaptive enables anomaly-triggered rate boosting.
	Adaptive bool `yaml:"adaptive"`
}

// Rates returns the configured rate per signal class.
func (s SamplingConfig) Rates() map[models.Signal]float64 {
	return map[models.Signal]float64{
		models.SignalEvents:      s.Events,
		models.SignalTraces:      s.Traces,
		models.SignalProfiling:   s.Profiling,
		models.SignalTestEvents:  s.TestEvents,
		models.SignalPerfMetrics: s.PerfMetrics,
		models.SignalDebugLogs:   s.DebugLogs,
	}
}

// ResourceConfig holds queue and resource-budget settings.
type ResourceConfig struct {
	MaxQueueSize  int     `yaml:"max_queue_size" validate:"gte=100"`
	MaxCPUPercent float64 `yaml:"max_cpu_percent" validate:"gte=1,lte=100"`
	MaxMemoryMB   float64 `yaml:"max_memory_mb" validate:"gte=10"`
	DropOnFull    bool    `yaml:"drop_on_full"`
}

// ProfilingConfig holds resource-profiler settings.
type ProfilingConfig struct {
	Enabled          bool     `yaml:"enabled"`
	SamplingInterval Duration `yaml:"sampling_interval" validate:"gt=0"`
	DeepProfiling    bool     `yaml:"deep_profiling"`
	DeepDuration     Duration `yaml:"deep_duration" validate:"gt=0"`
}

// HealthCheckConfig holds health-monitor settings.
type HealthCheckConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Interval         Duration `yaml:"interval" validate:"gt=0"`
	FailureThreshold int      `yaml:"failure_threshold" validate:"gte=1"`
}

// LoggingConfig holds logging settings for the standalone runner.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the default configuration: sidecar enabled, generous event
// sampling, conservative trace/debug sampling, and a small resource budget
// befitting a diagnostic passenger inside a busy host.
func Default() *Config {
	return &Config{
		Enabled: true,
		Sampling: SamplingConfig{
			Events:      1.0,
			Traces:      0.1,
			Profiling:   0.01,
			TestEvents:  1.0,
			PerfMetrics: 0.5,
			DebugLogs:   0.05,
			Adaptive:    true,
		},
		Resources: ResourceConfig{
			MaxQueueSize:  1000,
			MaxCPUPercent: 5,
			MaxMemoryMB:   100,
			DropOnFull:    true,
		},
		Profiling: ProfilingConfig{
			Enabled:          true,
			SamplingInterval: Duration{10 * time.Second},
			DeepProfiling:    false,
			DeepDuration:     Duration{5 * time.Minute},
		},
		HealthChecks: HealthCheckConfig{
			Enabled:          true,
			Interval:         Duration{30 * time.Second},
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges it
// over defaults. Environment variables take highest precedence.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges it over defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// Locate returns the first config file found in the platform search paths,
// or "" when none exists. Used when the caller does not supply a path.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables have the highest precedence.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIDECAR_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = enabled
		}
	}
	if v := os.Getenv("SIDECAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIDECAR_PROFILING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Profiling.Enabled = enabled
		}
	}
}

// validate is the shared validator instance. Duration wrappers are unwrapped
// to time.Duration so tags like "gt=0" apply to the inner value.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return d.Duration
		}
		return nil
	}, Duration{})
	return v
}

// Validate checks all configured ranges: sampling rates in [0,1],
// max_queue_size >= 100, max_cpu_percent in [1,100], max_memory_mb >= 10,
// and positive intervals. Boundary values are accepted exactly. This is the
// single place the sidecar fails loudly; it runs before any host traffic.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid sidecar config: %w", err)
	}
	return nil
}
