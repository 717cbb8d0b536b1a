package gbn

import (
	"log/slog"

	"fastftp/internal/logging"
	"fastftp/internal/protocol"
)

// monitor keeps exactly one retransmission timer armed while segments are
// in flight. The timer is re-armed whenever a different segment becomes the
// head of the queue, disarmed when the queue drains, and re-armed after each
// expiry that finds the window still outstanding.
//
// Expiries arrive on e.expired tagged with the generation of the timer that
// produced them, so a callback racing with a cancellation is discarded.
func (e *Engine) monitor() {
	defer close(e.monDone)

	var (
		last  *protocol.Segment
		timer stopper
		gen   uint64
	)

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	arm := func() {
		disarm()
		gen++
		g := gen
		timer = e.afterFunc(e.timeout, func() {
			select {
			case e.expired <- g:
			case <-e.ctx.Done():
			}
		})
	}
	defer disarm()

	for {
		head, changed := e.queue.Watch()
		switch {
		case head == nil:
			if timer != nil {
				slog.Debug("Window drained, timer disarmed")
			}
			disarm()
			last = nil
		case head != last:
			arm()
			last = head
		}

		select {
		case <-e.ctx.Done():
			return
		case <-changed:
		case g := <-e.expired:
			if g != gen || timer == nil {
				continue
			}
			timer = nil
			e.handleTimeout()
			// force a fresh timer for whatever is still outstanding
			last = nil
		}
	}
}

// handleTimeout resends every in-flight segment, oldest first, from a
// snapshot taken now. An empty window is a no-op and is not counted.
func (e *Engine) handleTimeout() {
	window := e.queue.Snapshot()
	if len(window) == 0 {
		return
	}

	count := e.retransmits.Inc()
	if e.stats != nil {
		e.stats.RecordRetransmit()
	}
	logging.LogRetransmit(count, uint32(window[0].SeqNum()), uint32(window[len(window)-1].SeqNum()), len(window))

	for _, seg := range window {
		if err := e.transmit(seg); err != nil {
			slog.Warn("Error during retransmission", "seq", seg.SeqNum(), "error", err)
		}
	}
}
