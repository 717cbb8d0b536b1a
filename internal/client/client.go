package client

import (
	"context"
	"log/slog"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/filesystem"
	"fastftp/internal/gbn"
	"fastftp/internal/logging"
	"fastftp/internal/network"
	"fastftp/internal/progress"
	"fastftp/internal/protocol"
	"fastftp/internal/session"
)

// Run sends cfg.FilePath to the server and returns the transfer summary.
func Run(ctx context.Context, cfg *config.Config) (*gbn.Result, error) {
	slog.Info("Starting client", "server", cfg.ServerAddress())

	// Get file information
	fileInfo, err := filesystem.GetFileInfo(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	if fileInfo.IsDir {
		return nil, errors.NewValidationError("file_path", cfg.FilePath, "cannot transfer directories")
	}

	// The whole file is chunked up front; the engine only ever sees segments
	chunks, err := filesystem.ReadChunks(cfg.FilePath, protocol.MaxSegmentSize)
	if err != nil {
		return nil, err
	}

	if digest, err := filesystem.ChecksumFile(cfg.FilePath); err != nil {
		slog.Warn("Failed to compute file checksum", "error", err)
	} else {
		slog.Info("File checksum", "file", fileInfo.Name, "blake2b", digest)
	}

	sess, err := session.Establish(ctx, session.Options{
		ServerHost:       cfg.ServerHost,
		ServerPort:       cfg.ServerPort,
		FileName:         fileInfo.Name,
		FileSize:         fileInfo.Size,
		Attempts:         cfg.Attempts,
		RetryDelay:       cfg.RetryDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := network.OptimizeUDPConnection(sess.Conn, cfg.TOS); err != nil {
		slog.Warn("Failed to optimize UDP connection", "error", err)
	}

	// Setup transfer statistics
	stats := progress.NewStats(fileInfo.Name, int64(len(chunks)), fileInfo.Size)

	// Start progress reporting
	if cfg.ShowProgress {
		reporter := progress.NewReporter(stats, cfg.ShowProgress)
		reporter.Start()
		defer reporter.Stop()
	}

	logging.LogSessionStart(fileInfo.Name, fileInfo.Size, len(chunks), cfg.WindowSize, cfg.Timeout)

	engine, err := gbn.New(sess.Conn, sess.ServerAddr, gbn.Options{
		WindowSize: cfg.WindowSize,
		Timeout:    cfg.Timeout,
		Stats:      stats,
	})
	if err != nil {
		return nil, err
	}

	result, err := engine.Transfer(ctx, chunks)
	if err != nil {
		logging.LogSessionEnd(false, stats.AckedBytes.Load(), engine.Retransmits(), time.Since(stats.StartTime))
		return nil, err
	}

	logging.LogSessionEnd(true, result.Bytes, result.Retransmits, result.Duration)
	return result, nil
}
