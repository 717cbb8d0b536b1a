package config

import (
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"fastftp/internal/errors"
)

// Constants for default values
const (
	DefaultAttempts         = 10
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultListenAddr       = "0.0.0.0:2225"
	DefaultOutputDir        = "./output"
	DefaultLogDir           = "logs"
	DefaultLogLevel         = "info"
	DefaultTOS              = 0x08 // IPTOS_THROUGHPUT

	// Teardown grace period for an in-flight blocking receive
	ReceiverGrace = 500 * time.Millisecond

	// Poll interval for blocking socket reads that must observe cancellation
	ReadPollInterval = 100 * time.Millisecond

	// Network constants
	TCPBufferSize = 256 * 1024
	UDPBufferSize = 1024 * 1024

	// File system constants
	LogDirPerms     = 0755
	OutputDirPerms  = 0755
	OutputFilePerms = 0644
	PartialFileExt  = ".part"

	// Number of positional arguments in client mode
	ClientArgCount = 5
)

// Usage is printed when the command line cannot be parsed.
const Usage = "usage: fastftp [flags] <server address> <server port> <file path> <window size> <timeout ms>\n" +
	"       fastftp -server [-listen addr] [-output dir] [-drop rate] [flags]"

// Config holds all configuration parameters for the application
type Config struct {
	// Server mode settings
	IsServer      bool
	ListenAddress string
	OutputDir     string
	DropRate      float64

	// Client mode settings
	ServerHost string
	ServerPort int
	FilePath   string
	WindowSize int
	Timeout    time.Duration

	// Handshake settings
	Attempts         int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration

	// Common parameters
	ShowProgress bool
	TOS          int
	LogDir       string
	LogLevel     string
}

// ServerAddress returns the host:port of the server control channel
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Attempts <= 0 {
		return errors.NewValidationError("attempts", c.Attempts, "attempts must be positive")
	}
	if c.RetryDelay < 0 {
		return errors.NewValidationError("retry_delay", c.RetryDelay, "retry delay cannot be negative")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.NewValidationError("handshake_timeout", c.HandshakeTimeout, "handshake timeout must be positive")
	}
	if c.TOS < 0 || c.TOS > 0xff {
		return errors.NewValidationError("tos", c.TOS, "tos must fit in one byte")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError("log_level", c.LogLevel, "unknown log level")
	}

	if c.IsServer {
		if c.DropRate < 0 || c.DropRate >= 1 {
			return errors.NewValidationError("drop", c.DropRate, "drop rate must be in [0, 1)")
		}
		if c.OutputDir == "" {
			return errors.NewValidationError("output", c.OutputDir, "output directory is required in server mode")
		}
		return nil
	}

	if c.ServerHost == "" {
		return errors.NewValidationError("server_address", c.ServerHost, "server address is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return errors.NewValidationError("server_port", c.ServerPort, "port must be in 1..65535")
	}
	if c.FilePath == "" {
		return errors.NewValidationError("file_path", c.FilePath, "file path is required in client mode")
	}
	if c.WindowSize <= 0 {
		return errors.NewValidationError("window_size", c.WindowSize, "window size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.NewValidationError("timeout", c.Timeout, "timeout must be positive")
	}

	return nil
}

// ParseArgs parses command line arguments (without the program name) and
// returns a validated Config.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("fastftp", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, Usage)
		fs.PrintDefaults()
	}

	// Server flags
	isServer := fs.Bool("server", false, "Run the reference receiver")
	listenAddr := fs.String("listen", DefaultListenAddr, "Control channel address to listen on (server mode)")
	outputDir := fs.String("output", DefaultOutputDir, "Directory to store received files (server mode)")
	dropRate := fs.Float64("drop", 0, "Fraction of incoming data segments to discard (server mode)")

	// Handshake flags
	attempts := fs.Int("attempts", DefaultAttempts, "Handshake attempts before giving up")
	retryDelay := fs.Duration("retry-delay", DefaultRetryDelay, "Delay unit between handshake attempts")
	handshakeTimeout := fs.Duration("handshake-timeout", DefaultHandshakeTimeout, "Timeout for one handshake attempt")

	// Common flags
	showProgress := fs.Bool("progress", true, "Show progress during transfer")
	tos := fs.Int("tos", DefaultTOS, "IP type-of-service byte for data datagrams (0 leaves the default)")
	logDir := fs.String("log-dir", DefaultLogDir, "Directory for log files (empty for console only)")
	logLevel := fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, errors.NewValidationError("arguments", strings.Join(args, " "), err.Error())
	}

	config := &Config{
		IsServer:         *isServer,
		ListenAddress:    *listenAddr,
		OutputDir:        *outputDir,
		DropRate:         *dropRate,
		Attempts:         *attempts,
		RetryDelay:       *retryDelay,
		HandshakeTimeout: *handshakeTimeout,
		ShowProgress:     *showProgress,
		TOS:              *tos,
		LogDir:           *logDir,
		LogLevel:         *logLevel,
	}

	if !config.IsServer {
		if err := config.parsePositional(fs.Args()); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// parsePositional fills the client fields from
// <server address> <server port> <file path> <window size> <timeout ms>
func (c *Config) parsePositional(args []string) error {
	if len(args) != ClientArgCount {
		return errors.NewValidationError("arguments", strings.Join(args, " "),
			fmt.Sprintf("expected %d arguments, got %d", ClientArgCount, len(args)))
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.NewValidationError("server_port", args[1], "not an integer")
	}
	window, err := strconv.Atoi(args[3])
	if err != nil {
		return errors.NewValidationError("window_size", args[3], "not an integer")
	}
	timeoutMs, err := strconv.Atoi(args[4])
	if err != nil {
		return errors.NewValidationError("timeout", args[4], "not an integer")
	}

	c.ServerHost = args[0]
	c.ServerPort = port
	c.FilePath = args[2]
	c.WindowSize = window
	c.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return nil
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	if c.IsServer {
		return fmt.Sprintf("Config{Mode: Server, Listen: %s, Output: %s, DropRate: %.2f}",
			c.ListenAddress, c.OutputDir, c.DropRate)
	}

	return fmt.Sprintf("Config{Mode: Client, Server: %s, WindowSize: %d, Timeout: %s, Attempts: %d}",
		c.ServerAddress(), c.WindowSize, c.Timeout, c.Attempts)
}
