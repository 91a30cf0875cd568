package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and an optional config file to produce a
// Config. Precedence, lowest to highest: built-in defaults, config file,
// environment (credentials only), explicit flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	cfg := defaultConfig()
	configPath := flagSet.Lookup("config").Value.String()
	cfg.ConfigFile = configPath

	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cfgViper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	applyEnvCredentials(cfg)

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig mirrors the flag defaults so a config file can override them
// and an explicitly set flag can override the file again.
func defaultConfig() *Config {
	return &Config{
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
		Tracing: TracingConfig{
			Protocol:    "http",
			ServiceName: "stresspilot",
			SampleRate:  1.0,
		},
		MetricsAddr: ":8085",
		LogLevel:    "info",
	}
}

// applyEnvCredentials lets deployments keep secrets out of flags and files.
func applyEnvCredentials(cfg *Config) {
	if v := os.Getenv("STRESSPILOT_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STRESSPILOT_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
}
