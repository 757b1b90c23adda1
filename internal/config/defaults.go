package config

import (
	"os"
	"path/filepath"
)

// testConfigPath overrides the default config path in tests
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
// This should only be called from tests
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the empire configuration directory
// Uses ~/.config/empire/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "empire"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names
	EnvLogLevel           = "EMPIRE_LOG_LEVEL"
	EnvLogFormat          = "EMPIRE_LOG_FORMAT"
	EnvLogOutput          = "EMPIRE_LOG_OUTPUT"
	EnvPortHost           = "EMPIRE_PORT_HOST"
	EnvSpawnMaxProcs      = "EMPIRE_SPAWN_MAX_PROCS"
	EnvSpawnCaptureOutput = "EMPIRE_SPAWN_CAPTURE_OUTPUT"
)

const (
	// Logging defaults keep library output off the program's stdout
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stderr"

	DefaultPortHost = "127.0.0.1"

	DefaultSpawnMaxProcs = 1024
)

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: DefaultLogOutput,
	}
}

// DefaultPortConfig returns the default rendezvous port configuration
func DefaultPortConfig() PortConfig {
	return PortConfig{
		Host: DefaultPortHost,
	}
}

// DefaultSpawnConfig returns the default spawn configuration
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		MaxProcs:      DefaultSpawnMaxProcs,
		CaptureOutput: false,
	}
}
