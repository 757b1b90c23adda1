package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/empirempi/empire/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "valid json config to stdout",
			cfg:     config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			wantErr: false,
		},
		{
			name:    "valid text config to stderr",
			cfg:     config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     config.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid log format",
			cfg:     config.LoggingConfig{Level: "info", Format: "invalid", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "empty output defaults to stderr",
			cfg:     config.LoggingConfig{Level: "info", Format: "json", Output: ""},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewDefaultLogger(t *testing.T) {
	l, err := NewDefault()
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, l.GetLevel())
	assert.True(t, l.Enabled(LevelError))
	assert.False(t, l.Enabled(LevelInfo))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "empire.log")

	l, err := New(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.With("component", "port").Info("Port opened", "name", "127.0.0.1:4000")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "closing twice is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "Port opened", entry["msg"])
	assert.Equal(t, "port", entry["component"])
	assert.Equal(t, "127.0.0.1:4000", entry["name"])
}

func TestGlobalLogger(t *testing.T) {
	nop := NewNop()
	SetGlobal(nop)
	defer SetGlobal(nil)

	assert.Same(t, nop, Global())

	SetGlobal(nil)
	assert.NotNil(t, Global(), "a default logger is created on demand")
}
