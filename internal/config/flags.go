package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stresspilot",
		Short:         "Synthetic CPU, memory, and object-storage load generator",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Load knobs
	flags.IntP("duration", "d", 5, "Test duration in minutes")
	flags.Int("cpu-intensity", 50, "CPU load intensity in percent (1-100)")
	flags.Int("memory-size", 100, "Memory allocation size per cycle in MB")
	flags.Int("file-size", 1, "Size of test objects uploaded per cycle in MB")
	flags.IntP("interval", "i", 5, "Interval between load cycles in seconds")

	// Storage backend
	flags.String("endpoint", "localhost:9000", "S3-compatible storage endpoint")
	flags.String("access-key", "minioadmin", "Storage access key")
	flags.String("secret-key", "minioadmin", "Storage secret key")
	flags.String("bucket", "test-bucket", "Bucket for test objects")
	flags.Bool("use-tls", false, "Use TLS when talking to the storage endpoint")

	// Observability
	flags.String("metrics-addr", ":8085", "Listen address for the Prometheus metrics endpoint")
	flags.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.StringArray("threshold", nil, "Pass/fail assertion on final stats, e.g. 'upload_latency:p99 < 500' (repeatable)")
	flags.Bool("dashboard", false, "Show a live terminal dashboard instead of the progress line")

	// Tracing
	flags.String("trace-endpoint", "", "OTLP trace endpoint (empty disables tracing)")
	flags.String("trace-protocol", "http", "OTLP transport: 'http' or 'grpc'")
	flags.String("trace-service-name", "stresspilot", "Service name reported on spans")
	flags.Float64("trace-sample-rate", 1.0, "Trace sampling ratio (0.0-1.0)")
	flags.Bool("trace-insecure", false, "Skip TLS for the OTLP exporter")

	// Process
	flags.String("lock-file", "", "Path to an exclusive lock file (prevents overlapping runs)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values on top of config-file
// values. Only flags the user actually set override the file; flag defaults
// are applied up front by the Loader.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	intFlags := map[string]*int{
		"duration":      &cfg.DurationMinutes,
		"cpu-intensity": &cfg.CPUIntensity,
		"memory-size":   &cfg.MemorySizeMB,
		"file-size":     &cfg.FileSizeMB,
		"interval":      &cfg.IntervalSeconds,
	}
	for name, dst := range intFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	stringFlags := map[string]*string{
		"endpoint":           &cfg.Storage.Endpoint,
		"access-key":         &cfg.Storage.AccessKey,
		"secret-key":         &cfg.Storage.SecretKey,
		"bucket":             &cfg.Storage.Bucket,
		"metrics-addr":       &cfg.MetricsAddr,
		"log-level":          &cfg.LogLevel,
		"trace-endpoint":     &cfg.Tracing.Endpoint,
		"trace-protocol":     &cfg.Tracing.Protocol,
		"trace-service-name": &cfg.Tracing.ServiceName,
		"lock-file":          &cfg.LockFile,
	}
	for name, dst := range stringFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	boolFlags := map[string]*bool{
		"use-tls":        &cfg.Storage.UseTLS,
		"json-output":    &cfg.JSONOutput,
		"dashboard":      &cfg.Dashboard,
		"trace-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range boolFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	if fs.Changed("threshold") {
		vals, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = vals
	}

	return nil
}
