package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/filesystem"
	"fastftp/internal/network"
	"fastftp/internal/protocol"

	"github.com/google/netstack/tcpip/seqnum"
	"go.uber.org/atomic"
)

// Options control how received files are stored and how much loss is
// simulated.
type Options struct {
	OutputDir string

	// DropRate is the fraction of incoming data segments discarded without
	// an acknowledgment.
	DropRate float64

	// HandshakeTimeout bounds reading the request on a new connection.
	HandshakeTimeout time.Duration

	// OnReceived, when set, is called after every session ends.
	OnReceived func(*Received)
}

// Received describes the outcome of one session.
type Received struct {
	Name     string
	Path     string
	Size     int64
	Bytes    int64
	Complete bool
	Checksum string
	Segments int64
	Dropped  int64
}

// Run listens on cfg.ListenAddress and serves until ctx ends.
func Run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting server", "address", cfg.ListenAddress, "drop_rate", cfg.DropRate)

	// Create output directory if it doesn't exist
	if err := filesystem.EnsureDirectoryExists(cfg.OutputDir); err != nil {
		return err
	}

	// Start listener
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return errors.NewNetworkError("listen", cfg.ListenAddress, err)
	}

	return Serve(ctx, listener, Options{
		OutputDir:        cfg.OutputDir,
		DropRate:         cfg.DropRate,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
}

// Serve accepts control connections on listener until ctx ends, handling
// each session in its own goroutine. The listener is closed on return.
func Serve(ctx context.Context, listener net.Listener, opts Options) error {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = config.DefaultHandshakeTimeout
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()
	defer listener.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("Server ready to accept connections", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.NewNetworkError("accept", listener.Addr().String(), err)
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			rcv := handleConnection(ctx, conn, opts)
			if rcv != nil && opts.OnReceived != nil {
				opts.OnReceived(rcv)
			}
		}()
	}
}

// handleConnection runs one session: handshake, then the data phase until
// the client hangs up the control connection.
func handleConnection(ctx context.Context, conn net.Conn, opts Options) *Received {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("New connection", "remote_addr", remoteAddr)

	// Apply TCP optimizations
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	if err := conn.SetDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		slog.Error("Failed to set handshake deadline", "error", err)
		return nil
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	request, err := protocol.ReadHandshake(reader)
	if err != nil {
		slog.Error("Failed to read handshake", "remote_addr", remoteAddr, "error", err)
		return nil
	}

	name, err := filesystem.SanitizeFileName(request.FileName)
	if err != nil {
		slog.Error("Rejected file name", "file", request.FileName, "error", err)
		rejectHandshake(writer)
		return nil
	}

	localHost, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	udpConn, err := network.ListenUDP(localHost)
	if err != nil {
		slog.Error("Failed to open data socket", "error", err)
		rejectHandshake(writer)
		return nil
	}
	defer udpConn.Close()

	if err := network.OptimizeUDPConnection(udpConn, 0); err != nil {
		slog.Warn("Failed to optimize UDP connection", "error", err)
	}

	partPath := filepath.Join(opts.OutputDir, name+config.PartialFileExt)
	outFile, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.OutputFilePerms)
	if err != nil {
		slog.Error("Failed to create output file", "path", partPath, "error", err)
		rejectHandshake(writer)
		return nil
	}

	if err := protocol.WritePort(writer, network.LocalPort(udpConn)); err != nil {
		slog.Error("Failed to send data port", "error", err)
		outFile.Close()
		os.Remove(partPath)
		return nil
	}

	// The control channel idles for the rest of the session
	if err := conn.SetDeadline(time.Time{}); err != nil {
		slog.Warn("Failed to clear connection deadline", "error", err)
	}

	var clientIP net.IP
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = tcpAddr.IP
	}

	slog.Info("Receiving file",
		"file", name,
		"file_size_kb", float64(request.FileSize)/1024,
		"client_udp_port", request.UDPPort,
		"server_udp_port", network.LocalPort(udpConn))

	r := newReceiver(udpConn, &net.UDPAddr{IP: clientIP, Port: request.UDPPort}, outFile, opts.DropRate)
	start := time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run()
	}()

	waitForHangup(ctx, conn, reader)

	r.stop()
	<-done

	return finish(r, request, name, partPath, time.Since(start))
}

// rejectHandshake reports failure with the -1 port marker.
func rejectHandshake(writer *bufio.Writer) {
	if err := protocol.WritePort(writer, -1); err != nil {
		slog.Debug("Failed to send handshake rejection", "error", err)
	}
}

// waitForHangup blocks until the client closes the control connection or
// ctx ends.
func waitForHangup(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		slog.Debug("Control connection ended", "error", err)
	}
}

// finish flushes the file and moves it into place when every byte arrived.
func finish(r *receiver, request *protocol.Handshake, name, partPath string, elapsed time.Duration) *Received {
	rcv := &Received{
		Name:     name,
		Path:     partPath,
		Size:     request.FileSize,
		Bytes:    r.written.Load(),
		Segments: int64(r.expected),
		Dropped:  r.dropped.Load(),
	}

	if err := r.close(); err != nil {
		slog.Error("Failed to finalize output file", "path", partPath, "error", err)
		return rcv
	}

	if rcv.Bytes != request.FileSize {
		slog.Warn("Transfer incomplete, keeping partial file",
			"file", name,
			"expected_bytes", request.FileSize,
			"received_bytes", rcv.Bytes)
		return rcv
	}

	finalPath := filepath.Join(filepath.Dir(partPath), name)
	if err := os.Rename(partPath, finalPath); err != nil {
		slog.Error("Failed to rename output file", "from", partPath, "to", finalPath, "error", err)
		return rcv
	}
	rcv.Path = finalPath
	rcv.Complete = true

	if digest, err := filesystem.ChecksumFile(finalPath); err == nil {
		rcv.Checksum = digest
	}

	slog.Info("File received",
		"file", name,
		"bytes", rcv.Bytes,
		"segments", rcv.Segments,
		"dropped", rcv.Dropped,
		"blake2b", rcv.Checksum,
		"duration_ms", elapsed.Milliseconds())
	return rcv
}

// receiver is the Go-Back-N receiving side: it accepts only the next
// expected segment and answers every datagram with a cumulative ACK.
type receiver struct {
	conn   *net.UDPConn
	client *net.UDPAddr
	file   *os.File
	out    *bufio.Writer

	dropRate float64

	// owned by run
	expected seqnum.Value

	written  atomic.Int64
	dropped  atomic.Int64
	stopping atomic.Bool
}

func newReceiver(conn *net.UDPConn, client *net.UDPAddr, file *os.File, dropRate float64) *receiver {
	return &receiver{
		conn:     conn,
		client:   client,
		file:     file,
		out:      bufio.NewWriter(file),
		dropRate: dropRate,
	}
}

func (r *receiver) run() {
	buf := make([]byte, protocol.MaxDatagramSize)
	for !r.stopping.Load() {
		if err := r.conn.SetReadDeadline(time.Now().Add(config.ReadPollInterval)); err != nil {
			slog.Error("Failed to set read deadline", "error", err)
			return
		}

		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !r.stopping.Load() {
				slog.Error("Data socket read failed", "error", err)
			}
			return
		}

		if from.Port != r.client.Port || (r.client.IP != nil && !from.IP.Equal(r.client.IP)) {
			slog.Debug("Ignoring datagram from unexpected address", "from", from.String())
			continue
		}

		seg, err := protocol.DecodeSegment(buf[:n])
		if err != nil {
			slog.Debug("Ignoring malformed segment", "bytes", n, "error", err)
			continue
		}

		if r.dropRate > 0 && rand.Float64() < r.dropRate {
			r.dropped.Inc()
			slog.Debug("Dropped segment", "seq", seg.SeqNum())
			continue
		}

		if err := r.accept(seg); err != nil {
			slog.Error("Failed to write segment", "seq", seg.SeqNum(), "error", err)
			return
		}

		if _, err := r.conn.WriteToUDP(protocol.NewAck(r.expected).Bytes(), r.client); err != nil {
			slog.Warn("Failed to send acknowledgment", "ack", r.expected, "error", err)
		}
	}
}

// accept stores seg if it is the next one expected; anything else is
// discarded and only re-acknowledged.
func (r *receiver) accept(seg *protocol.Segment) error {
	if seg.SeqNum() != r.expected {
		slog.Debug("Out of order segment", "seq", seg.SeqNum(), "expected", r.expected)
		return nil
	}

	if _, err := r.out.Write(seg.Payload()); err != nil {
		return errors.NewFileSystemError("write", r.file.Name(), err)
	}
	r.written.Add(int64(seg.Len()))
	r.expected++
	return nil
}

// stop ends run at its next poll.
func (r *receiver) stop() {
	r.stopping.Store(true)
	if err := r.conn.SetReadDeadline(time.Now()); err != nil {
		slog.Debug("Failed to interrupt data socket", "error", err)
	}
}

// close flushes buffered data and closes the file.
func (r *receiver) close() error {
	if err := r.out.Flush(); err != nil {
		r.file.Close()
		return errors.NewFileSystemError("flush", r.file.Name(), err)
	}
	if err := r.file.Close(); err != nil {
		return errors.NewFileSystemError("close", r.file.Name(), err)
	}
	return nil
}
