package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
	if cfg.Resources.MaxQueueSize != 1000 {
		t.Errorf("MaxQueueSize = %d, want 1000", cfg.Resources.MaxQueueSize)
	}
}

func TestLoadFromBytes_ParsesYAML(t *testing.T) {
	data := []byte(`
enabled: true
sampling:
  events: 0.8
  traces: 0.2
  debug_logs: 0.01
resources:
  max_queue_size: 500
  drop_on_full: false
profiling:
  sampling_interval: 5s
health_checks:
  interval: 1m
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sampling.Events != 0.8 {
		t.Errorf("Sampling.Events = %v, want 0.8", cfg.Sampling.Events)
	}
	if cfg.Sampling.Traces != 0.2 {
		t.Errorf("Sampling.Traces = %v, want 0.2", cfg.Sampling.Traces)
	}
	// Unset fields keep their defaults.
	if cfg.Sampling.TestEvents != 1.0 {
		t.Errorf("Sampling.TestEvents = %v, want default 1.0", cfg.Sampling.TestEvents)
	}
	if cfg.Resources.MaxQueueSize != 500 {
		t.Errorf("MaxQueueSize = %d, want 500", cfg.Resources.MaxQueueSize)
	}
	if cfg.Resources.DropOnFull {
		t.Error("DropOnFull should be overridden to false")
	}
	if cfg.Profiling.SamplingInterval.Duration != 5*time.Second {
		t.Errorf("SamplingInterval = %v, want 5s", cfg.Profiling.SamplingInterval.Duration)
	}
	if cfg.HealthChecks.Interval.Duration != time.Minute {
		t.Errorf("HealthChecks.Interval = %v, want 1m", cfg.HealthChecks.Interval.Duration)
	}
}

func TestLoadFromBytes_BadDuration(t *testing.T) {
	_, err := LoadFromBytes([]byte("profiling:\n  sampling_interval: soon"))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sampling.Events != 1.0 {
		t.Errorf("Sampling.Events = %v, want default 1.0", cfg.Sampling.Events)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIDECAR_ENABLED", "false")
	t.Setenv("SIDECAR_LOG_LEVEL", "debug")

	cfg, err := LoadFromBytes([]byte("enabled: true\nlogging:\n  level: warn"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Enabled {
		t.Error("SIDECAR_ENABLED=false should override file value")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override", cfg.Logging.Level)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"rate below zero", func(c *Config) { c.Sampling.Traces = -0.01 }, true},
		{"rate above one", func(c *Config) { c.Sampling.Events = 1.01 }, true},
		{"rate zero boundary", func(c *Config) { c.Sampling.DebugLogs = 0 }, false},
		{"rate one boundary", func(c *Config) { c.Sampling.PerfMetrics = 1 }, false},
		{"queue too small", func(c *Config) { c.Resources.MaxQueueSize = 99 }, true},
		{"queue boundary", func(c *Config) { c.Resources.MaxQueueSize = 100 }, false},
		{"cpu below range", func(c *Config) { c.Resources.MaxCPUPercent = 0.5 }, true},
		{"cpu above range", func(c *Config) { c.Resources.MaxCPUPercent = 101 }, true},
		{"cpu low boundary", func(c *Config) { c.Resources.MaxCPUPercent = 1 }, false},
		{"cpu high boundary", func(c *Config) { c.Resources.MaxCPUPercent = 100 }, false},
		{"memory too small", func(c *Config) { c.Resources.MaxMemoryMB = 9 }, true},
		{"memory boundary", func(c *Config) { c.Resources.MaxMemoryMB = 10 }, false},
		{"zero sampling interval", func(c *Config) { c.Profiling.SamplingInterval = Duration{} }, true},
		{"zero health interval", func(c *Config) { c.HealthChecks.Interval = Duration{} }, true},
		{"zero failure threshold", func(c *Config) { c.HealthChecks.FailureThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRates_CoversAllSignals(t *testing.T) {
	rates := Default().Sampling.Rates()
	if len(rates) != 6 {
		t.Fatalf("Rates() returned %d entries, want 6", len(rates))
	}
	for signal, rate := range rates {
		if rate < 0 || rate > 1 {
			t.Errorf("rate for %s = %v, want within [0,1]", signal, rate)
		}
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.yaml")
	if err := os.WriteFile(path, []byte("sampling:\n  events: 1.0"), 0640); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := Watch(path, zaptest.NewLogger(t), func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("sampling:\n  events: 0.25"), 0640); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Sampling.Events != 0.25 {
			t.Errorf("reloaded Sampling.Events = %v, want 0.25", cfg.Sampling.Events)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatch_IgnoresInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.yaml")
	if err := os.WriteFile(path, []byte("sampling:\n  events: 1.0"), 0640); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 4)
	w, err := Watch(path, zaptest.NewLogger(t), func(cfg *Config) {
		changed <- cfg
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Out-of-range rate must be rejected; the follow-up valid write must land.
	if err := os.WriteFile(path, []byte("sampling:\n  events: 7.0"), 0640); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * debounceWindow)
	if err := os.WriteFile(path, []byte("sampling:\n  events: 0.5"), 0640); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Sampling.Events != 0.5 {
			t.Errorf("reloaded Sampling.Events = %v, want 0.5 (invalid update must be skipped)", cfg.Sampling.Events)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
