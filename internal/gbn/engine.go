// Package gbn implements the sending side of a Go-Back-N reliable transfer
// over UDP.
//
// An Engine owns one transmit queue and shares one packet socket between
// three goroutines: the sender loop (the caller of Send), a receiver that
// applies cumulative acknowledgments, and a timeout monitor that keeps a
// single retransmission timer armed for the oldest unacknowledged segment.
// When that timer expires the whole outstanding window is resent.
package gbn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"
	"fastftp/internal/progress"
	"fastftp/internal/protocol"
	"fastftp/internal/txqueue"

	"github.com/google/netstack/tcpip/seqnum"
	"go.uber.org/atomic"
)

// Options are the immutable parameters of one transfer.
type Options struct {
	// WindowSize bounds the number of unacknowledged segments.
	WindowSize int

	// Timeout is the retransmission interval.
	Timeout time.Duration

	// Stats, when set, receives ack and retransmit counts.
	Stats *progress.Stats

	// ReceiverGrace bounds how long Stop waits for the receiver to exit.
	ReceiverGrace time.Duration

	// PollInterval bounds each blocking read so the receiver observes its
	// stop flag.
	PollInterval time.Duration
}

// Result summarizes a finished transfer.
type Result struct {
	Segments    int
	Bytes       int64
	Retransmits int64
	Duration    time.Duration
}

// stopper is the part of *time.Timer the monitor needs.
type stopper interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Engine drives one Go-Back-N transfer to a single peer.
type Engine struct {
	conn  net.PacketConn
	peer  net.Addr
	queue *txqueue.Queue
	stats *progress.Stats

	timeout time.Duration
	grace   time.Duration
	poll    time.Duration

	// owned by the sender loop
	nextSeq seqnum.Value

	retransmits atomic.Int64
	stopping    atomic.Bool
	started     atomic.Bool

	failMu  sync.Mutex
	failErr error

	afterFunc func(time.Duration, func()) stopper
	expired   chan uint64

	lifecycle sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	recvDone  chan struct{}
	monDone   chan struct{}
	stopOnce  sync.Once
}

// New creates an engine that sends to peer over conn. The engine does not
// take ownership of conn.
func New(conn net.PacketConn, peer net.Addr, opts Options) (*Engine, error) {
	if conn == nil || peer == nil {
		return nil, errors.NewValidationError("conn", conn, "socket and peer address are required")
	}
	if opts.Timeout <= 0 {
		return nil, errors.NewValidationError("timeout", opts.Timeout, "timeout must be positive")
	}

	queue, err := txqueue.New(opts.WindowSize)
	if err != nil {
		return nil, err
	}

	if opts.ReceiverGrace <= 0 {
		opts.ReceiverGrace = config.ReceiverGrace
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.ReadPollInterval
	}

	return &Engine{
		conn:      conn,
		peer:      peer,
		queue:     queue,
		stats:     opts.Stats,
		timeout:   opts.Timeout,
		grace:     opts.ReceiverGrace,
		poll:      opts.PollInterval,
		afterFunc: afterFunc,
		expired:   make(chan uint64),
		recvDone:  make(chan struct{}),
		monDone:   make(chan struct{}),
	}, nil
}

// Start launches the receiver and timeout monitor. Cancelling ctx aborts
// the transfer.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.started.Load() {
		return errors.NewValidationError("engine", "started", "engine already started")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started.Store(true)

	go e.receive()
	go e.monitor()

	slog.Debug("Transfer engine started",
		"peer", e.peer.String(),
		"window_size", e.queue.Cap(),
		"timeout_ms", e.timeout.Milliseconds())
	return nil
}

// Stop shuts the engine down: the receiver first, with a grace period for
// a read in progress, then the timer and monitor. It is safe to call more
// than once and from any goroutine. The socket is left open.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	started := e.started.Load()
	e.lifecycle.Unlock()
	if !started {
		return
	}

	e.stopOnce.Do(func() {
		e.stopping.Store(true)

		// Abort any read in progress
		if err := e.conn.SetReadDeadline(time.Now()); err != nil {
			slog.Warn("Failed to interrupt receiver", "error", err)
		}

		select {
		case <-e.recvDone:
		case <-time.After(e.grace):
			slog.Warn("Receiver did not stop within grace period", "grace", e.grace)
		}

		e.cancel()
		<-e.monDone

		slog.Debug("Transfer engine stopped", "retransmits", e.retransmits.Load())
	})
}

// Transfer starts the engine, sends every chunk, waits for all of them to
// be acknowledged and stops.
func (e *Engine) Transfer(ctx context.Context, chunks [][]byte) (*Result, error) {
	start := time.Now()

	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	defer e.Stop()

	if err := e.Send(ctx, chunks); err != nil {
		return nil, err
	}

	var total int64
	for _, chunk := range chunks {
		total += int64(len(chunk))
	}

	return &Result{
		Segments:    len(chunks),
		Bytes:       total,
		Retransmits: e.retransmits.Load(),
		Duration:    time.Since(start),
	}, nil
}

// Retransmits returns the number of timeout-driven window resends so far.
func (e *Engine) Retransmits() int64 {
	return e.retransmits.Load()
}

// InFlight returns the number of unacknowledged segments.
func (e *Engine) InFlight() int {
	return e.queue.Len()
}

// transmit writes one segment to the peer.
func (e *Engine) transmit(seg *protocol.Segment) error {
	_, err := e.conn.WriteTo(seg.Bytes(), e.peer)
	return err
}

// fail records the first fatal error and aborts the transfer.
func (e *Engine) fail(err error) {
	e.failMu.Lock()
	if e.failErr == nil {
		e.failErr = err
		slog.Error("Transfer aborted", "error", err)
	}
	e.failMu.Unlock()
	e.cancel()
}

func (e *Engine) failure() error {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failErr
}

// abortError explains why a blocking step of the sender ended early.
func (e *Engine) abortError(op string, cause error) error {
	if err := e.failure(); err != nil {
		return err
	}
	if e.stopping.Load() {
		return errors.NewCancelledError(op, fmt.Errorf("engine stopped: %w", cause))
	}
	return errors.NewCancelledError(op, cause)
}
