/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

FastFTP is a reliable file transfer utility that moves a single file over
UDP using a Go-Back-N sliding window, after a one-shot handshake on a TCP
control channel.

The program operates in two modes:

1. Client Mode: fastftp <server address> <server port> <file path> <window size> <timeout ms>

2. Server Mode: fastftp -server, a reference receiver that stores incoming
files and can simulate datagram loss

	Detail: provided in README.md
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fastftp/internal/client"
	"fastftp/internal/config"
	"fastftp/internal/logging"
	"fastftp/internal/server"
)

func main() {
	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Parse command line arguments
	cfg, err := config.ParseArgs(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, config.Usage)
		return 1
	}

	// Setup structured logging
	if err := logging.SetupLogger(cfg.LogDir, logging.ParseLevel(cfg.LogLevel)); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		return 1
	}

	// Log configuration
	logging.LogConfig(cfg)

	// Run in appropriate mode
	if cfg.IsServer {
		if err := server.Run(ctx, cfg); err != nil {
			logging.LogError(err, "server")
			return 1
		}
		slog.Info("Server shut down")
		return 0
	}

	result, err := client.Run(ctx, cfg)
	if err != nil {
		logging.LogError(err, "client")
		return 1
	}

	fmt.Fprintf(stdout, "Number of retransmits: %d\n", result.Retransmits)
	fmt.Fprintln(stdout, "File transfer completed.")
	return 0
}
