package config

import (
	"io"
	"testing"
	"time"

	"fastftp/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validClient() Config {
	return Config{
		ServerHost:       "localhost",
		ServerPort:       2225,
		FilePath:         "test.bin",
		WindowSize:       10,
		Timeout:          50 * time.Millisecond,
		Attempts:         DefaultAttempts,
		RetryDelay:       DefaultRetryDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		LogLevel:         "info",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid client config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid server config",
			mutate: func(c *Config) {
				*c = Config{
					IsServer:         true,
					ListenAddress:    "localhost:2225",
					OutputDir:        "./output",
					DropRate:         0.2,
					Attempts:         1,
					HandshakeTimeout: time.Second,
					LogLevel:         "debug",
				}
			},
			wantErr: false,
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.WindowSize = 0 },
			wantErr: true,
			errMsg:  "window size must be positive",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Timeout = 0 },
			wantErr: true,
			errMsg:  "timeout must be positive",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.ServerPort = 70000 },
			wantErr: true,
			errMsg:  "port must be in 1..65535",
		},
		{
			name:    "missing file",
			mutate:  func(c *Config) { c.FilePath = "" },
			wantErr: true,
			errMsg:  "file path is required in client mode",
		},
		{
			name:    "no attempts",
			mutate:  func(c *Config) { c.Attempts = 0 },
			wantErr: true,
			errMsg:  "attempts must be positive",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
			errMsg:  "unknown log level",
		},
		{
			name: "server drop rate of one",
			mutate: func(c *Config) {
				c.IsServer = true
				c.OutputDir = "out"
				c.DropRate = 1
			},
			wantErr: true,
			errMsg:  "drop rate must be in [0, 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validClient()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.ErrorIs(t, err, errors.ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseArgs_Client(t *testing.T) {
	cfg, err := ParseArgs([]string{"-progress=false", "-log-dir=", "example.org", "2225", "data.bin", "3", "50"}, io.Discard)
	require.NoError(t, err)

	assert.False(t, cfg.IsServer)
	assert.Equal(t, "example.org", cfg.ServerHost)
	assert.Equal(t, 2225, cfg.ServerPort)
	assert.Equal(t, "data.bin", cfg.FilePath)
	assert.Equal(t, 3, cfg.WindowSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Timeout)
	assert.Equal(t, DefaultAttempts, cfg.Attempts)
	assert.False(t, cfg.ShowProgress)
	assert.Empty(t, cfg.LogDir)
	assert.Equal(t, "example.org:2225", cfg.ServerAddress())
}

func TestParseArgs_WrongCount(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"none", nil},
		{"four", []string{"localhost", "2225", "data.bin", "3"}},
		{"six", []string{"localhost", "2225", "data.bin", "3", "50", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args, io.Discard)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)
			assert.Contains(t, err.Error(), "expected 5 arguments")
		})
	}
}

func TestParseArgs_NotNumbers(t *testing.T) {
	_, err := ParseArgs([]string{"localhost", "port", "data.bin", "3", "50"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_port")

	_, err = ParseArgs([]string{"localhost", "2225", "data.bin", "three", "50"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_size")
}

func TestParseArgs_Server(t *testing.T) {
	cfg, err := ParseArgs([]string{"-server", "-listen", "127.0.0.1:0", "-output", "out", "-drop", "0.1"}, io.Discard)
	require.NoError(t, err)

	assert.True(t, cfg.IsServer)
	assert.Equal(t, "127.0.0.1:0", cfg.ListenAddress)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.InDelta(t, 0.1, cfg.DropRate, 1e-9)
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"-bogus"}, io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestConfig_String(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "server config",
			config: Config{
				IsServer:      true,
				ListenAddress: "0.0.0.0:2225",
				OutputDir:     "./output",
				DropRate:      0.25,
			},
			expected: "Config{Mode: Server, Listen: 0.0.0.0:2225, Output: ./output, DropRate: 0.25}",
		},
		{
			name: "client config",
			config: Config{
				ServerHost: "localhost",
				ServerPort: 2225,
				WindowSize: 10,
				Timeout:    50 * time.Millisecond,
				Attempts:   10,
			},
			expected: "Config{Mode: Client, Server: localhost:2225, WindowSize: 10, Timeout: 50ms, Attempts: 10}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.String())
		})
	}
}
