// Package txqueue holds the in-flight window of a Go-Back-N sender: the
// segments that have been sent and not yet acknowledged, in sequence order.
//
// A Queue is bounded by the window size. Segments enter at the tail and
// leave only from the head, so cumulative acknowledgments remove a
// contiguous prefix. Every state change is published to watchers, which lets
// the sender wait for window space and the timeout monitor react to head
// changes without polling.
package txqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ftperrors "fastftp/internal/errors"
	"fastftp/internal/protocol"

	"github.com/google/netstack/tcpip/seqnum"
)

var (
	// ErrFull is returned by TryAdd when the window is exhausted.
	ErrFull = errors.New("txqueue: window full")

	// ErrEmpty is returned by RemoveHead on an empty queue.
	ErrEmpty = errors.New("txqueue: queue empty")

	// ErrOutOfOrder is returned when a segment does not follow the tail.
	ErrOutOfOrder = errors.New("txqueue: sequence number does not follow tail")
)

// Queue is a bounded FIFO of in-flight segments, safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	// ring buffer of capacity len(buf)
	buf  []*protocol.Segment
	head int
	n    int

	// closed and replaced on every mutation
	changed chan struct{}
}

// New creates a queue holding at most capacity segments.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, ftperrors.NewValidationError("window_size", capacity, "window size must be positive")
	}
	return &Queue{
		buf:     make([]*protocol.Segment, capacity),
		changed: make(chan struct{}),
	}, nil
}

// Cap returns the window size.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Len returns the number of in-flight segments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// IsEmpty reports whether every queued segment has been acknowledged.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// TryAdd appends seg at the tail, or returns ErrFull without touching the
// queue.
func (q *Queue) TryAdd(seg *protocol.Segment) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == len(q.buf) {
		return ErrFull
	}
	return q.appendLocked(seg)
}

// Add appends seg at the tail, waiting for window space. It returns the
// context's error if ctx ends first, leaving the queue unchanged.
func (q *Queue) Add(ctx context.Context, seg *protocol.Segment) error {
	for {
		q.mu.Lock()
		if q.n < len(q.buf) {
			err := q.appendLocked(seg)
			q.mu.Unlock()
			return err
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) appendLocked(seg *protocol.Segment) error {
	if q.n > 0 {
		tail := q.buf[(q.head+q.n-1)%len(q.buf)]
		if !tail.SeqNum().LessThan(seg.SeqNum()) {
			return fmt.Errorf("%w: tail %d, got %d", ErrOutOfOrder, tail.SeqNum(), seg.SeqNum())
		}
	}

	q.buf[(q.head+q.n)%len(q.buf)] = seg
	q.n++
	q.notifyLocked()
	return nil
}

// Peek returns the lowest-sequence in-flight segment without removing it.
func (q *Queue) Peek() (*protocol.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return nil, false
	}
	return q.buf[q.head], true
}

// RemoveHead removes and returns the lowest-sequence segment.
func (q *Queue) RemoveHead() (*protocol.Segment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return nil, ErrEmpty
	}
	seg := q.popLocked()
	q.notifyLocked()
	return seg, nil
}

// RemoveBefore applies a cumulative acknowledgment: it removes, from the
// head, every segment whose sequence number is below next and returns them
// in order. A stale or duplicate acknowledgment removes nothing.
func (q *Queue) RemoveBefore(next seqnum.Value) []*protocol.Segment {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*protocol.Segment
	for q.n > 0 && q.buf[q.head].SeqNum().LessThan(next) {
		removed = append(removed, q.popLocked())
	}
	if len(removed) > 0 {
		q.notifyLocked()
	}
	return removed
}

func (q *Queue) popLocked() *protocol.Segment {
	seg := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return seg
}

// Snapshot returns a point-in-time copy of the in-flight segments in
// ascending sequence order.
func (q *Queue) Snapshot() []*protocol.Segment {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*protocol.Segment, q.n)
	for i := range out {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

// Watch returns the current head (nil when empty) together with a channel
// that is closed at the next mutation. Reading both under one lock means no
// change between the two can be missed.
func (q *Queue) Watch() (*protocol.Segment, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var head *protocol.Segment
	if q.n > 0 {
		head = q.buf[q.head]
	}
	return head, q.changed
}

// WaitEmpty blocks until the queue drains or ctx ends.
func (q *Queue) WaitEmpty(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.n == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
