package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxDurationMinutes caps a single run at one day. Longer soak tests
	// should be driven by the supervisor restarting the generator.
	MaxDurationMinutes = 24 * 60

	// MaxMemoryMB and MaxFileMB are operational ceilings, not hardware
	// limits. They exist so a typo'd flag cannot ask for terabytes.
	MaxMemoryMB = 64 * 1024
	MaxFileMB   = 10 * 1024
)

// Config holds every knob for one load-test run. It is populated by the
// Loader and must pass Validate before any worker starts. Values are never
// clamped: out-of-range input is rejected.
type Config struct {
	DurationMinutes int `mapstructure:"duration"`
	CPUIntensity    int `mapstructure:"cpu_intensity"`
	MemorySizeMB    int `mapstructure:"memory_size"`
	FileSizeMB      int `mapstructure:"file_size"`
	IntervalSeconds int `mapstructure:"interval"`

	Storage StorageConfig `mapstructure:"storage"`
	Tracing TracingConfig `mapstructure:"tracing"`

	MetricsAddr string   `mapstructure:"metrics_addr"`
	LogLevel    string   `mapstructure:"log_level"`
	JSONOutput  bool     `mapstructure:"json_output"`
	Dashboard   bool     `mapstructure:"dashboard"`
	LockFile    string   `mapstructure:"lock_file"`
	Thresholds  []string `mapstructure:"thresholds"`
	ConfigFile  string   `mapstructure:"-"`
}

// StorageConfig identifies the S3-compatible backend the storage worker
// exercises. Credentials may come from flags, a config file, or the
// STRESSPILOT_ACCESS_KEY / STRESSPILOT_SECRET_KEY environment variables.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseTLS    bool   `mapstructure:"use_tls"`
}

// TracingConfig configures the optional OTLP trace exporter. Tracing is
// disabled when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "http" or "grpc"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// Duration returns the configured run length.
func (c Config) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// Interval returns the scheduler tick cadence.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MemoryBytes returns the per-cycle memory allocation size.
func (c Config) MemoryBytes() int64 {
	return int64(c.MemorySizeMB) * 1024 * 1024
}

// FileBytes returns the per-cycle upload payload size.
func (c Config) FileBytes() int64 {
	return int64(c.FileSizeMB) * 1024 * 1024
}

// ValidationError aggregates every configuration issue found so the user can
// fix them all in one pass. Each issue names the offending parameter.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "configuration invalid"
	}
	return fmt.Sprintf("configuration invalid: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks every invariant. It never mutates the config.
func (c Config) Validate() error {
	var issues []string

	if c.DurationMinutes < 1 {
		issues = append(issues, "duration must be >= 1 minute")
	} else if c.DurationMinutes > MaxDurationMinutes {
		issues = append(issues, fmt.Sprintf("duration must be <= %d minutes", MaxDurationMinutes))
	}
	if c.CPUIntensity < 1 || c.CPUIntensity > 100 {
		issues = append(issues, "cpu-intensity must be between 1 and 100")
	}
	if c.MemorySizeMB < 1 {
		issues = append(issues, "memory-size must be >= 1 MB")
	} else if c.MemorySizeMB > MaxMemoryMB {
		issues = append(issues, fmt.Sprintf("memory-size must be <= %d MB", MaxMemoryMB))
	}
	if c.FileSizeMB < 1 {
		issues = append(issues, "file-size must be >= 1 MB")
	} else if c.FileSizeMB > MaxFileMB {
		issues = append(issues, fmt.Sprintf("file-size must be <= %d MB", MaxFileMB))
	}
	if c.IntervalSeconds < 1 {
		issues = append(issues, "interval must be >= 1 second")
	} else if c.DurationMinutes >= 1 && c.Interval() > c.Duration() {
		// At least one full cycle has to fit inside the run.
		issues = append(issues, "interval must not exceed duration")
	}

	if strings.TrimSpace(c.Storage.Endpoint) == "" {
		issues = append(issues, "endpoint is required")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		issues = append(issues, "bucket is required")
	}
	if strings.TrimSpace(c.Storage.AccessKey) == "" {
		issues = append(issues, "access-key is required (flag, config file, or STRESSPILOT_ACCESS_KEY)")
	}
	if strings.TrimSpace(c.Storage.SecretKey) == "" {
		issues = append(issues, "secret-key is required (flag, config file, or STRESSPILOT_SECRET_KEY)")
	}

	if strings.TrimSpace(c.MetricsAddr) == "" {
		issues = append(issues, "metrics-addr is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not supported", c.LogLevel))
	}

	if c.Tracing.Enabled() {
		switch strings.ToLower(strings.TrimSpace(c.Tracing.Protocol)) {
		case "", "http", "grpc":
		default:
			issues = append(issues, fmt.Sprintf("trace-protocol %q is not supported", c.Tracing.Protocol))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			issues = append(issues, "trace-sample-rate must be between 0.0 and 1.0")
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
