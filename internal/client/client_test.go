package client

import (
	"bytes"
	"context"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, dropRate float64) (int, string, <-chan *server.Received) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	dir := t.TempDir()
	received := make(chan *server.Received, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, ln, server.Options{
			OutputDir:  dir,
			DropRate:   dropRate,
			OnReceived: func(r *server.Received) { received <- r },
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().(*net.TCPAddr).Port, dir, received
}

func writeFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewPCG(1, uint64(size)))
	for i := range data {
		data[i] = byte(rng.IntN(256))
	}

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func clientConfig(port int, path string, window int, timeout time.Duration) *config.Config {
	return &config.Config{
		ServerHost:       "127.0.0.1",
		ServerPort:       port,
		FilePath:         path,
		WindowSize:       window,
		Timeout:          timeout,
		Attempts:         config.DefaultAttempts,
		RetryDelay:       time.Millisecond,
		HandshakeTimeout: time.Second,
		TOS:              config.DefaultTOS,
	}
}

func waitReceived(t *testing.T, received <-chan *server.Received) *server.Received {
	t.Helper()
	select {
	case r := <-received:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish the session")
		return nil
	}
}

func TestRunDeliversFile(t *testing.T) {
	port, dir, received := startServer(t, 0)
	path, data := writeFile(t, 5500)

	result, err := Run(context.Background(), clientConfig(port, path, 4, 50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 6, result.Segments)
	assert.Equal(t, int64(5500), result.Bytes)

	r := waitReceived(t, received)
	require.True(t, r.Complete)

	got, err := os.ReadFile(filepath.Join(dir, "payload.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRunRecoversFromLoss(t *testing.T) {
	port, dir, received := startServer(t, 0.3)
	path, data := writeFile(t, 40000)

	result, err := Run(context.Background(), clientConfig(port, path, 5, 20*time.Millisecond))
	require.NoError(t, err)
	assert.Positive(t, result.Retransmits)

	r := waitReceived(t, received)
	require.True(t, r.Complete)

	got, err := os.ReadFile(filepath.Join(dir, "payload.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRunRejectsDirectory(t *testing.T) {
	_, err := Run(context.Background(), clientConfig(1, t.TempDir(), 1, time.Second))
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestRunMissingFile(t *testing.T) {
	_, err := Run(context.Background(), clientConfig(1, filepath.Join(t.TempDir(), "nope"), 1, time.Second))
	assert.ErrorIs(t, err, errors.ErrFileSystem)
}

func TestRunHandshakeFails(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	path, _ := writeFile(t, 10)
	cfg := clientConfig(port, path, 1, time.Second)
	cfg.Attempts = 2

	_, err = Run(context.Background(), cfg)
	assert.ErrorIs(t, err, errors.ErrNetwork)
}
