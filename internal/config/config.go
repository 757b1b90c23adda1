package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/empirempi/empire/pkg/types"
)

// Config represents the complete configuration for an empire universe
type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Port    PortConfig    `json:"port" yaml:"port"`
	Spawn   SpawnConfig   `json:"spawn" yaml:"spawn"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// PortConfig contains rendezvous port configuration
type PortConfig struct {
	// Host is the loopback address ports bind to. The OS picks the port number.
	Host string `json:"host" yaml:"host"`
}

// SpawnConfig contains batch spawn configuration
type SpawnConfig struct {
	// MaxProcs caps the world size of a single spawn batch.
	MaxProcs int `json:"max_procs" yaml:"max_procs"`
	// CaptureOutput routes child stdout/stderr into the logger instead of
	// letting children inherit the parent's streams.
	CaptureOutput bool `json:"capture_output" yaml:"capture_output"`
}

// Default returns a configuration with every section set to its defaults
func Default() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Port:    DefaultPortConfig(),
		Spawn:   DefaultSpawnConfig(),
	}
}

// ApplyDefaults fills in zero-valued fields, such as those left out of a
// partial YAML file or a Config built in code
func ApplyDefaults(cfg *Config) {
	defaultLogging := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogging.Output
	}

	if cfg.Port.Host == "" {
		cfg.Port.Host = DefaultPortHost
	}

	if cfg.Spawn.MaxProcs == 0 {
		cfg.Spawn.MaxProcs = DefaultSpawnMaxProcs
	}
}

// applyEnvOverrides overrides configuration values from the environment.
// Unparseable numeric or boolean values are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvLogOutput); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv(EnvPortHost); v != "" {
		cfg.Port.Host = v
	}

	if v := os.Getenv(EnvSpawnMaxProcs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Spawn.MaxProcs = n
		}
	}
	if v := os.Getenv(EnvSpawnCaptureOutput); v != "" {
		cfg.Spawn.CaptureOutput = strings.ToLower(v) == "true" || v == "1"
	}
}

// Load builds the configuration from the default config file (when it
// exists), environment overrides and defaults, in that order of precedence.
func Load() (*Config, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		configPath = ""
	}
	return load(configPath, false)
}

// LoadWithPath is Load with an explicit config file, which must exist
func LoadWithPath(path string) (*Config, error) {
	return load(path, true)
}

func load(configPath string, required bool) (*Config, error) {
	var cfg *Config

	if configPath != "" {
		_, err := os.Stat(configPath)
		switch {
		case err == nil || required:
			cfg, err = LoadFromFile(configPath)
			if err != nil {
				return nil, err
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if cfg == nil {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	ip := net.ParseIP(c.Port.Host)
	if ip == nil {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("port host must be an IP address, got: %q", c.Port.Host))
	}
	if !ip.IsLoopback() {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("port host must be a loopback address, got: %s", c.Port.Host))
	}

	if c.Spawn.MaxProcs <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "spawn max procs must be positive")
	}

	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Logging: %s, Port: %s, Spawn: %s}",
		c.Logging.String(),
		c.Port.String(),
		c.Spawn.String(),
	)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}",
		c.Level, c.Format, c.Output)
}

func (c PortConfig) String() string {
	return fmt.Sprintf("PortConfig{Host: %s}", c.Host)
}

func (c SpawnConfig) String() string {
	return fmt.Sprintf("SpawnConfig{MaxProcs: %d, CaptureOutput: %t}", c.MaxProcs, c.CaptureOutput)
}
