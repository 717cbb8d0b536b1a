package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/filesystem"
)

// ParseLevel maps a -log-level value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger initializes structured logging with console output and, when
// logDir is not empty, a timestamped log file in that directory.
func SetupLogger(logDir string, level slog.Level) error {
	var out io.Writer = os.Stdout

	if logDir != "" {
		if err := filesystem.EnsureDirectoryExists(logDir); err != nil {
			return err
		}

		logFileName := filepath.Join(logDir,
			"fastftp_"+time.Now().Format("20060102_150405")+".log")

		logFile, err := os.Create(logFileName)
		if err != nil {
			// Continue with console logging only
			slog.Warn("Failed to create log file, using console only", "error", err)
		} else {
			out = io.MultiWriter(os.Stdout, logFile)
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	// Use text handler for better console readability
	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))

	slog.Debug("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	if cfg.IsServer {
		slog.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"output_dir", cfg.OutputDir,
			"drop_rate", cfg.DropRate)
		return
	}

	var fileSizeKB float64
	if fileInfo, err := os.Stat(cfg.FilePath); err == nil {
		fileSizeKB = float64(fileInfo.Size()) / 1024
	}

	slog.Info("Client configuration",
		"server_address", cfg.ServerAddress(),
		"window_size", cfg.WindowSize,
		"timeout_ms", cfg.Timeout.Milliseconds(),
		"handshake_attempts", cfg.Attempts,
		"file_size_kb", fileSizeKB)
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		netErr   *errors.NetworkError
		fsErr    *errors.FileSystemError
		protoErr *errors.ProtocolError
		valErr   *errors.ValidationError
		cancErr  *errors.CancelledError
	)

	switch {
	case errors.As(err, &netErr):
		slog.Error("Network error",
			"context", context,
			"operation", netErr.Op,
			"address", netErr.Addr,
			"error", netErr.Err,
			"error_type", "network")
	case errors.As(err, &fsErr):
		slog.Error("File system error",
			"context", context,
			"operation", fsErr.Op,
			"path", fsErr.Path,
			"error", fsErr.Err,
			"error_type", "filesystem")
	case errors.As(err, &protoErr):
		slog.Error("Protocol error",
			"context", context,
			"operation", protoErr.Op,
			"message", protoErr.Message,
			"error_type", "protocol")
	case errors.As(err, &valErr):
		slog.Error("Validation error",
			"context", context,
			"field", valErr.Field,
			"message", valErr.Message,
			"error_type", "validation")
	case errors.As(err, &cancErr):
		slog.Warn("Operation cancelled",
			"context", context,
			"operation", cancErr.Op,
			"error_type", "cancelled")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogHandshakeAttempt logs one try at the control channel handshake
func LogHandshakeAttempt(attempt, maxAttempts int, addr string) {
	slog.Info("Trying to obtain UDP port from server",
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"server", addr)
}

// LogRetransmit logs a timeout-driven resend of the window
func LogRetransmit(count int64, first, last uint32, segments int) {
	slog.Debug("Retransmission timeout",
		"retransmits", count,
		"first_seq", first,
		"last_seq", last,
		"segments", segments)
}

// LogTransferProgress logs transfer progress information
func LogTransferProgress(acked, total, retransmits int64, rateKB float64) {
	percent := float64(100)
	if total > 0 {
		percent = float64(acked) / float64(total) * 100
	}
	slog.Info("Transfer progress",
		"acked_segments", acked,
		"total_segments", total,
		"percent_complete", percent,
		"retransmits", retransmits,
		"transfer_rate_kbps", rateKB)
}

// LogSessionStart logs the start of a transfer session
func LogSessionStart(filename string, totalSize int64, segments int, windowSize int, timeout time.Duration) {
	slog.Info("Transfer session started",
		"file", filename,
		"total_size_kb", float64(totalSize)/1024,
		"total_segments", segments,
		"window_size", windowSize,
		"timeout_ms", timeout.Milliseconds(),
		"session_start", time.Now().Format("15:04:05"))
}

// LogSessionEnd logs the end of a transfer session
func LogSessionEnd(success bool, totalBytes int64, retransmits int64, duration time.Duration) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	var avgRate float64
	if duration > 0 {
		avgRate = float64(totalBytes) / 1024 / duration.Seconds()
	}
	slog.Info("Transfer session ended",
		"status", status,
		"total_bytes_transferred", totalBytes,
		"retransmits", retransmits,
		"session_duration_ms", duration.Milliseconds(),
		"average_throughput_kbps", avgRate,
		"session_end", time.Now().Format("15:04:05"))
}
