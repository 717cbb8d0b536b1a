package gbn

import (
	"errors"
	"log/slog"
	"net"
	"time"

	ftperrors "fastftp/internal/errors"
	"fastftp/internal/protocol"

	"github.com/google/netstack/tcpip/seqnum"
)

// receive consumes acknowledgment datagrams until the engine stops. Each
// iteration checks the stop flag; a read is bounded by the poll interval
// and is cut short by Stop.
func (e *Engine) receive() {
	defer close(e.recvDone)

	buf := make([]byte, protocol.MaxDatagramSize)
	for !e.stopping.Load() && e.ctx.Err() == nil {
		if err := e.conn.SetReadDeadline(time.Now().Add(e.poll)); err != nil {
			e.fail(ftperrors.NewNetworkError("set_read_deadline", e.peer.String(), err))
			return
		}

		n, from, err := e.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				if !e.stopping.Load() {
					e.fail(ftperrors.NewNetworkError("receive_ack", e.peer.String(), err))
				}
				return
			default:
				e.fail(ftperrors.NewNetworkError("receive_ack", e.peer.String(), err))
				return
			}
		}

		if !sameAddr(from, e.peer) {
			slog.Debug("Ignoring datagram from unexpected address", "from", from.String())
			continue
		}

		ack, err := protocol.DecodeSegment(buf[:n])
		if err != nil {
			slog.Debug("Ignoring malformed acknowledgment", "bytes", n, "error", err)
			continue
		}

		e.acknowledge(ack.SeqNum())
	}
}

// acknowledge applies a cumulative ACK carrying the next expected sequence
// number and returns how many segments it confirmed.
func (e *Engine) acknowledge(next seqnum.Value) int {
	removed := e.queue.RemoveBefore(next)
	if len(removed) == 0 {
		slog.Debug("Duplicate or stale acknowledgment", "ack", next)
		return 0
	}

	var bytes int64
	for _, seg := range removed {
		bytes += int64(seg.Len())
	}
	if e.stats != nil {
		e.stats.RecordAck(int64(len(removed)), bytes)
	}

	slog.Debug("Acknowledged",
		"ack", next,
		"segments", len(removed),
		"in_flight", e.queue.Len())
	return len(removed)
}

// sameAddr compares UDP endpoints by IP and port so an IPv4 address and its
// IPv4-in-IPv6 form match.
func sameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}
