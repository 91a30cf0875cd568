package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DurationMinutes: 5,
		CPUIntensity:    50,
		MemorySizeMB:    100,
		FileSizeMB:      1,
		IntervalSeconds: 5,
		Storage: StorageConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "test-bucket",
		},
		MetricsAddr: ":8085",
		LogLevel:    "info",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		keyword string
	}{
		{"zero duration", func(c *Config) { c.DurationMinutes = 0 }, "duration"},
		{"duration over ceiling", func(c *Config) { c.DurationMinutes = MaxDurationMinutes + 1 }, "duration"},
		{"zero intensity", func(c *Config) { c.CPUIntensity = 0 }, "cpu-intensity"},
		{"intensity over 100", func(c *Config) { c.CPUIntensity = 101 }, "cpu-intensity"},
		{"zero memory", func(c *Config) { c.MemorySizeMB = 0 }, "memory-size"},
		{"memory over ceiling", func(c *Config) { c.MemorySizeMB = MaxMemoryMB + 1 }, "memory-size"},
		{"zero file size", func(c *Config) { c.FileSizeMB = 0 }, "file-size"},
		{"zero interval", func(c *Config) { c.IntervalSeconds = 0 }, "interval"},
		{"interval exceeds duration", func(c *Config) { c.DurationMinutes = 1; c.IntervalSeconds = 120 }, "interval"},
		{"empty endpoint", func(c *Config) { c.Storage.Endpoint = " " }, "endpoint"},
		{"empty bucket", func(c *Config) { c.Storage.Bucket = "" }, "bucket"},
		{"empty access key", func(c *Config) { c.Storage.AccessKey = "" }, "access-key"},
		{"empty secret key", func(c *Config) { c.Storage.SecretKey = "" }, "secret-key"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log-level"},
		{"bad trace protocol", func(c *Config) {
			c.Tracing.Endpoint = "localhost:4318"
			c.Tracing.Protocol = "udp"
		}, "trace-protocol"},
		{"bad sample rate", func(c *Config) {
			c.Tracing.Endpoint = "localhost:4318"
			c.Tracing.SampleRate = 1.5
		}, "trace-sample-rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			var vErr ValidationError
			if !asValidationError(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.keyword) {
				t.Fatalf("error %q does not name parameter %q", err.Error(), tc.keyword)
			}
		})
	}
}

func asValidationError(err error, target *ValidationError) bool {
	v, ok := err.(ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := validConfig()
	cfg.DurationMinutes = 0
	cfg.CPUIntensity = 200
	cfg.MemorySizeMB = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	vErr, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(vErr.Issues()) != 3 {
		t.Fatalf("expected 3 issues, got %d: %v", len(vErr.Issues()), vErr.Issues())
	}
}

func TestDerivedDurations(t *testing.T) {
	cfg := validConfig()
	if got := cfg.Duration(); got != 5*time.Minute {
		t.Fatalf("Duration() = %s, want 5m", got)
	}
	if got := cfg.Interval(); got != 5*time.Second {
		t.Fatalf("Interval() = %s, want 5s", got)
	}
	if got := cfg.MemoryBytes(); got != 100*1024*1024 {
		t.Fatalf("MemoryBytes() = %d", got)
	}
	if got := cfg.FileBytes(); got != 1024*1024 {
		t.Fatalf("FileBytes() = %d", got)
	}
}
