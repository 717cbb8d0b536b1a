// Package session sets up a transfer: it allocates the client's UDP socket,
// announces the file on the TCP control channel and learns the server's UDP
// port, retrying the whole exchange a bounded number of times.
package session

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/logging"
	"fastftp/internal/network"
	"fastftp/internal/protocol"

	pkgerrors "github.com/pkg/errors"
)

// Options describe the server to contact and the file being announced.
type Options struct {
	ServerHost string
	ServerPort int
	FileName   string
	FileSize   int64

	Attempts         int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
}

// Session holds the sockets of an established transfer.
type Session struct {
	// Conn is the client's UDP data socket.
	Conn *net.UDPConn

	// Control is the TCP connection the handshake ran on. It stays open
	// for the lifetime of the transfer; closing it tells the server the
	// client is done.
	Control net.Conn

	// ServerAddr is where data segments are sent.
	ServerAddr *net.UDPAddr

	closeOnce sync.Once
}

// Establish performs the handshake. Every attempt uses a fresh UDP socket
// and a fresh TCP connection; nothing from a failed attempt is reused.
func Establish(ctx context.Context, opts Options) (*Session, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = config.DefaultAttempts
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = config.DefaultHandshakeTimeout
	}

	addr := net.JoinHostPort(opts.ServerHost, strconv.Itoa(opts.ServerPort))

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 && opts.RetryDelay > 0 {
			backoff := opts.RetryDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, errors.NewCancelledError("handshake", ctx.Err())
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("handshake", err)
		}

		logging.LogHandshakeAttempt(attempt, opts.Attempts, addr)

		sess, err := attemptHandshake(ctx, addr, opts)
		if err == nil {
			slog.Info("Session established",
				"server", addr,
				"server_udp_port", sess.ServerAddr.Port,
				"client_udp_port", network.LocalPort(sess.Conn),
				"attempt", attempt)
			return sess, nil
		}

		lastErr = err
		slog.Warn("Handshake attempt failed", "attempt", attempt, "error", err)
	}

	return nil, errors.NewNetworkError("handshake", addr,
		pkgerrors.Wrapf(lastErr, "gave up after %d attempts", opts.Attempts))
}

func attemptHandshake(ctx context.Context, addr string, opts Options) (*Session, error) {
	udpConn, err := network.ListenUDP(opts.ServerHost)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.HandshakeTimeout}
	control, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		udpConn.Close()
		return nil, errors.NewNetworkError("dial", addr, err)
	}

	sess := &Session{Conn: udpConn, Control: control}

	if err := network.OptimizeTCPConnection(control); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	if err := control.SetDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		sess.Close()
		return nil, errors.NewNetworkError("set_deadline", addr, err)
	}

	request := &protocol.Handshake{
		FileName: opts.FileName,
		FileSize: opts.FileSize,
		UDPPort:  network.LocalPort(udpConn),
	}
	if err := protocol.WriteHandshake(bufio.NewWriter(control), request); err != nil {
		sess.Close()
		return nil, err
	}

	port, err := protocol.ReadPort(bufio.NewReader(control))
	if err != nil {
		sess.Close()
		return nil, err
	}

	// The control channel idles while data flows over UDP
	if err := control.SetDeadline(time.Time{}); err != nil {
		sess.Close()
		return nil, errors.NewNetworkError("set_deadline", addr, err)
	}

	// Send data to the address the control connection actually reached
	var ip net.IP
	if tcpAddr, ok := control.RemoteAddr().(*net.TCPAddr); ok {
		ip = tcpAddr.IP
	}
	sess.ServerAddr = &net.UDPAddr{IP: ip, Port: port}

	return sess, nil
}

// Close releases both sockets. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Control != nil {
			if err := s.Control.Close(); err != nil {
				slog.Debug("Error closing control connection", "error", err)
			}
		}
		if s.Conn != nil {
			if err := s.Conn.Close(); err != nil {
				slog.Debug("Error closing data socket", "error", err)
			}
		}
	})
}
