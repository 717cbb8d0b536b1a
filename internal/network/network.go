package network

import (
	"log/slog"
	"net"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"

	"golang.org/x/net/ipv4"
)

// OptimizeTCPConnection applies TCP options to the control connection
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// The handshake is a few small writes; do not let Nagle hold them back
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	if err := tcpConn.SetReadBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}

// OptimizeUDPConnection sizes the data socket buffers to hold a full window
// burst and marks outgoing datagrams with the given IP type-of-service.
// A tos of zero leaves the system default. Failures are logged, only a
// missing socket is an error.
func OptimizeUDPConnection(conn *net.UDPConn, tos int) error {
	if conn == nil {
		return errors.NewNetworkError("optimize_udp", "", net.ErrClosed)
	}

	if err := conn.SetReadBuffer(config.UDPBufferSize); err != nil {
		slog.Warn("Failed to set UDP read buffer", "error", err)
	}

	if err := conn.SetWriteBuffer(config.UDPBufferSize); err != nil {
		slog.Warn("Failed to set UDP write buffer", "error", err)
	}

	if tos == 0 {
		return nil
	}

	// Only meaningful for IPv4 sockets; dual-stack sockets may refuse it
	if err := ipv4.NewPacketConn(conn).SetTOS(tos); err != nil {
		slog.Debug("Failed to set IP type-of-service", "tos", tos, "error", err)
	}

	return nil
}

// ListenUDP opens an unconnected UDP socket on an ephemeral port of the
// local address family matching host.
func ListenUDP(host string) (*net.UDPConn, error) {
	network := "udp"
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, &net.UDPAddr{})
	if err != nil {
		return nil, errors.NewNetworkError("listen_udp", host, err)
	}
	return conn, nil
}

// LocalPort returns the port a socket is bound to.
func LocalPort(conn net.PacketConn) int {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}
