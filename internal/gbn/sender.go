package gbn

import (
	"context"
	"log/slog"

	"fastftp/internal/errors"
	"fastftp/internal/protocol"
)

// Send transmits chunks in order, one segment each, never holding more than
// the window in flight. It returns once every segment has been acknowledged,
// or with an error if ctx ends, the engine stops, or the socket fails.
//
// A window slot is reserved before the segment goes on the wire, so an ACK
// can never arrive for a segment the queue does not yet hold.
func (e *Engine) Send(ctx context.Context, chunks [][]byte) error {
	if !e.started.Load() {
		return errors.NewValidationError("engine", "not started", "Start must be called before Send")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	for _, chunk := range chunks {
		seg, err := protocol.NewSegment(e.nextSeq, chunk)
		if err != nil {
			return err
		}

		if err := e.queue.Add(ctx, seg); err != nil {
			return e.abortError("send", err)
		}

		if err := e.transmit(seg); err != nil {
			netErr := errors.NewNetworkError("send_segment", e.peer.String(), err)
			e.fail(netErr)
			return netErr
		}
		e.nextSeq++

		slog.Debug("Segment sent", "seq", seg.SeqNum(), "bytes", seg.Len(), "in_flight", e.queue.Len())
	}

	// Every chunk is queued; wait for the final cumulative ACK
	if err := e.queue.WaitEmpty(ctx); err != nil {
		return e.abortError("drain", err)
	}
	return nil
}
