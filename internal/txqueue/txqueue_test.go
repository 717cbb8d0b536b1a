package txqueue

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"fastftp/internal/errors"
	"fastftp/internal/protocol"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(t *testing.T, seq int) *protocol.Segment {
	t.Helper()
	s, err := protocol.NewSegment(seqnum.Value(seq), []byte{byte(seq)})
	require.NoError(t, err)
	return s
}

func seqs(segs []*protocol.Segment) []seqnum.Value {
	out := make([]seqnum.Value, len(segs))
	for i, s := range segs {
		out[i] = s.SeqNum()
	}
	return out
}

func newQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(capacity)
	require.NoError(t, err)
	return q
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestWindowBound(t *testing.T) {
	q := newQueue(t, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryAdd(seg(t, i)))
	}
	assert.Equal(t, 3, q.Len())

	err := q.TryAdd(seg(t, 3))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []seqnum.Value{0, 1, 2}, seqs(q.Snapshot()))
}

func TestTryAddRejectsOutOfOrder(t *testing.T) {
	q := newQueue(t, 4)
	require.NoError(t, q.TryAdd(seg(t, 5)))

	assert.ErrorIs(t, q.TryAdd(seg(t, 5)), ErrOutOfOrder)
	assert.ErrorIs(t, q.TryAdd(seg(t, 4)), ErrOutOfOrder)
	assert.Equal(t, 1, q.Len())
}

func TestAddBlocksUntilHeadRemoved(t *testing.T) {
	q := newQueue(t, 1)
	require.NoError(t, q.TryAdd(seg(t, 0)))

	done := make(chan error, 1)
	go func() {
		done <- q.Add(context.Background(), seg(t, 1))
	}()

	select {
	case <-done:
		t.Fatal("Add returned while the window was full")
	case <-time.After(20 * time.Millisecond):
	}

	removed, err := q.RemoveHead()
	require.NoError(t, err)
	assert.Equal(t, seqnum.Value(0), removed.SeqNum())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Add did not return after space was freed")
	}

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, seqnum.Value(1), head.SeqNum())
}

func TestAddHonoursContext(t *testing.T) {
	q := newQueue(t, 1)
	require.NoError(t, q.TryAdd(seg(t, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Add(ctx, seg(t, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestPeekAndRemoveHeadOnEmpty(t *testing.T) {
	q := newQueue(t, 2)

	_, ok := q.Peek()
	assert.False(t, ok)

	_, err := q.RemoveHead()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.True(t, q.IsEmpty())
}

func TestRemoveBeforeCumulativeAck(t *testing.T) {
	q := newQueue(t, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryAdd(seg(t, i)))
	}

	// ACK(2) confirms 0 and 1.
	removed := q.RemoveBefore(2)
	assert.Equal(t, []seqnum.Value{0, 1}, seqs(removed))
	assert.Equal(t, []seqnum.Value{2}, seqs(q.Snapshot()))

	// Room for C3 now.
	require.NoError(t, q.TryAdd(seg(t, 3)))
	assert.Equal(t, 2, q.Len())
}

func TestRemoveBeforeStaleAndDuplicate(t *testing.T) {
	q := newQueue(t, 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.TryAdd(seg(t, i)))
	}

	assert.Len(t, q.RemoveBefore(0), 0)
	assert.Equal(t, 4, q.Len())

	q.RemoveBefore(2)
	after := seqs(q.Snapshot())

	assert.Empty(t, q.RemoveBefore(2))
	assert.Equal(t, after, seqs(q.Snapshot()))

	assert.Empty(t, q.RemoveBefore(1))
	assert.Equal(t, after, seqs(q.Snapshot()))
}

func TestRemoveBeforeBeyondTail(t *testing.T) {
	q := newQueue(t, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryAdd(seg(t, i)))
	}

	assert.Len(t, q.RemoveBefore(10), 3)
	assert.True(t, q.IsEmpty())
}

func TestCumulativeAckMonotonicity(t *testing.T) {
	const window = 5
	rng := rand.New(rand.NewPCG(1, 2))
	q := newQueue(t, window)

	next := 0
	lastHead := seqnum.Value(0)
	for step := 0; step < 2000; step++ {
		if rng.IntN(2) == 0 {
			if err := q.TryAdd(seg(t, next)); err == nil {
				next++
			} else {
				assert.ErrorIs(t, err, ErrFull)
			}
		} else {
			// ACKs may be stale, duplicated or reordered.
			ack := seqnum.Value(rng.IntN(next + 2))
			for _, s := range q.RemoveBefore(ack) {
				assert.True(t, s.SeqNum().LessThan(ack))
			}
		}

		require.LessOrEqual(t, q.Len(), window)
		if head, ok := q.Peek(); ok {
			assert.True(t, lastHead.LessThanEq(head.SeqNum()), "head went backwards")
			lastHead = head.SeqNum()
		}

		snap := q.Snapshot()
		for i := 1; i < len(snap); i++ {
			assert.Equal(t, snap[i-1].SeqNum()+1, snap[i].SeqNum())
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	q := newQueue(t, 3)
	require.NoError(t, q.TryAdd(seg(t, 0)))
	require.NoError(t, q.TryAdd(seg(t, 1)))

	snap := q.Snapshot()
	q.RemoveBefore(2)

	assert.Equal(t, []seqnum.Value{0, 1}, seqs(snap))
	assert.Empty(t, q.Snapshot())
}

func TestSnapshotAfterWrap(t *testing.T) {
	q := newQueue(t, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryAdd(seg(t, i)))
	}
	q.RemoveBefore(2)
	require.NoError(t, q.TryAdd(seg(t, 3)))
	require.NoError(t, q.TryAdd(seg(t, 4)))

	assert.Equal(t, []seqnum.Value{2, 3, 4}, seqs(q.Snapshot()))
}

func TestWatchSignalsHeadChanges(t *testing.T) {
	q := newQueue(t, 2)

	head, changed := q.Watch()
	assert.Nil(t, head)

	first := seg(t, 0)
	require.NoError(t, q.TryAdd(first))

	select {
	case <-changed:
	default:
		t.Fatal("Watch channel not closed after Add")
	}

	head, changed = q.Watch()
	assert.Same(t, first, head)

	// A stale ACK is not a mutation.
	q.RemoveBefore(0)
	select {
	case <-changed:
		t.Fatal("Watch channel closed without a mutation")
	default:
	}

	q.RemoveBefore(1)
	<-changed
	head, _ = q.Watch()
	assert.Nil(t, head)
}

func TestWaitEmpty(t *testing.T) {
	q := newQueue(t, 2)
	require.NoError(t, q.WaitEmpty(context.Background()))

	require.NoError(t, q.TryAdd(seg(t, 0)))
	require.NoError(t, q.TryAdd(seg(t, 1)))

	done := make(chan error, 1)
	go func() { done <- q.WaitEmpty(context.Background()) }()

	q.RemoveBefore(1)
	select {
	case <-done:
		t.Fatal("WaitEmpty returned with a segment in flight")
	case <-time.After(20 * time.Millisecond):
	}

	q.RemoveBefore(2)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitEmpty did not return after the queue drained")
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.TryAdd(seg(t, 2)))
	cancel()
	assert.ErrorIs(t, q.WaitEmpty(ctx), context.Canceled)
}

func TestConcurrentProducerAndAcker(t *testing.T) {
	const (
		window = 4
		total  = 500
	)
	q := newQueue(t, window)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			assert.NoError(t, q.Add(context.Background(), seg(t, i)))
		}
	}()

	removed := 0
	go func() {
		defer wg.Done()
		for removed < total {
			head, changed := q.Watch()
			if head == nil {
				<-changed
				continue
			}
			removed += len(q.RemoveBefore(head.SeqNum() + 1))
			assert.LessOrEqual(t, q.Len(), window)
		}
	}()

	wg.Wait()
	assert.Equal(t, total, removed)
	assert.True(t, q.IsEmpty())
}
