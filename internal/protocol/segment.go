package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"fastftp/internal/errors"

	"github.com/google/netstack/tcpip/seqnum"
)

// Wire layout constants
const (
	// MaxSegmentSize is the largest payload carried by one segment and the
	// chunk size used to split the source file.
	MaxSegmentSize = 1000

	// HeaderSize is the length of the big-endian sequence number field.
	HeaderSize = 4

	// MaxDatagramSize is the largest UDP payload this protocol produces.
	MaxDatagramSize = HeaderSize + MaxSegmentSize
)

// Segment is one sequence-numbered unit of transfer. Data segments carry a
// file chunk; acknowledgment segments carry the next expected sequence
// number and no payload. A Segment is immutable once constructed.
type Segment struct {
	seq     seqnum.Value
	payload []byte
}

// NewSegment builds a data segment. The payload is copied.
func NewSegment(seq seqnum.Value, payload []byte) (*Segment, error) {
	if len(payload) > MaxSegmentSize {
		return nil, errors.NewProtocolError("new_segment",
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), MaxSegmentSize), nil)
	}
	return &Segment{seq: seq, payload: append([]byte(nil), payload...)}, nil
}

// NewAck builds an acknowledgment for everything before next.
func NewAck(next seqnum.Value) *Segment {
	return &Segment{seq: next}
}

// SeqNum returns the sequence number (the next expected number for ACKs).
func (s *Segment) SeqNum() seqnum.Value {
	return s.seq
}

// Payload returns a copy of the payload.
func (s *Segment) Payload() []byte {
	return append([]byte(nil), s.payload...)
}

// Len returns the payload length in bytes.
func (s *Segment) Len() int {
	return len(s.payload)
}

// Bytes encodes the segment for transport.
func (s *Segment) Bytes() []byte {
	buf := make([]byte, HeaderSize+len(s.payload))
	binary.BigEndian.PutUint32(buf, uint32(s.seq))
	copy(buf[HeaderSize:], s.payload)
	return buf
}

// Equal reports whether both segments carry the same sequence number and
// payload.
func (s *Segment) Equal(other *Segment) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.seq == other.seq && bytes.Equal(s.payload, other.payload)
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment{seq: %d, len: %d}", s.seq, len(s.payload))
}

// DecodeSegment parses a datagram produced by Bytes. The input is not
// retained.
func DecodeSegment(data []byte) (*Segment, error) {
	if len(data) < HeaderSize {
		return nil, errors.NewProtocolError("decode_segment",
			fmt.Sprintf("datagram of %d bytes is shorter than the header", len(data)), nil)
	}
	if len(data) > MaxDatagramSize {
		return nil, errors.NewProtocolError("decode_segment",
			fmt.Sprintf("datagram of %d bytes exceeds %d", len(data), MaxDatagramSize), nil)
	}

	return &Segment{
		seq:     seqnum.Value(binary.BigEndian.Uint32(data)),
		payload: append([]byte(nil), data[HeaderSize:]...),
	}, nil
}
