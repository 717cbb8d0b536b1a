package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"fastftp/internal/errors"

	pkgerrors "github.com/pkg/errors"
)

// maxUTFLength is the largest encoded filename the two-byte length prefix
// can describe.
const maxUTFLength = 0xffff

// Handshake is the session request the client sends on the TCP control
// channel: filename, file length and the client's UDP port. The server
// answers with its own UDP port as a 4-byte integer.
type Handshake struct {
	FileName string
	FileSize int64
	UDPPort  int
}

// WriteHandshake sends the request and flushes the writer.
//
// Layout: uint16 length + modified UTF-8 filename, int64 size, int32 port,
// all big-endian.
func WriteHandshake(writer *bufio.Writer, h *Handshake) error {
	name, err := encodeModifiedUTF8(h.FileName)
	if err != nil {
		return err
	}

	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(name)))
	if _, err := writer.Write(header[:]); err != nil {
		return errors.NewProtocolError("send_handshake", "failed to send filename length", err)
	}
	if _, err := writer.Write(name); err != nil {
		return errors.NewProtocolError("send_handshake", "failed to send filename", err)
	}
	if err := binary.Write(writer, binary.BigEndian, h.FileSize); err != nil {
		return errors.NewProtocolError("send_handshake", "failed to send file size", err)
	}
	if err := binary.Write(writer, binary.BigEndian, int32(h.UDPPort)); err != nil {
		return errors.NewProtocolError("send_handshake", "failed to send udp port", err)
	}

	return FlushWriter(writer)
}

// ReadHandshake reads a request written by WriteHandshake.
func ReadHandshake(reader *bufio.Reader) (*Handshake, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, errors.NewProtocolError("read_handshake", "failed to read filename",
			pkgerrors.Wrap(err, "length prefix"))
	}

	name := make([]byte, length)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, errors.NewProtocolError("read_handshake", "failed to read filename", err)
	}
	fileName, err := decodeModifiedUTF8(name)
	if err != nil {
		return nil, err
	}

	var size int64
	if err := binary.Read(reader, binary.BigEndian, &size); err != nil {
		return nil, errors.NewProtocolError("read_handshake", "failed to read file size", err)
	}
	if size < 0 {
		return nil, errors.NewProtocolError("read_handshake", fmt.Sprintf("negative file size %d", size), nil)
	}

	port, err := readPort(reader, "read_handshake")
	if err != nil {
		return nil, err
	}

	return &Handshake{FileName: fileName, FileSize: size, UDPPort: port}, nil
}

// WritePort sends a UDP port as a 4-byte big-endian integer and flushes.
func WritePort(writer *bufio.Writer, port int) error {
	if err := binary.Write(writer, binary.BigEndian, int32(port)); err != nil {
		return errors.NewProtocolError("send_port", "failed to send udp port", err)
	}
	return FlushWriter(writer)
}

// ReadPort reads the server's reply. Anything outside 1..65535, including
// the -1 failure marker, is a protocol error.
func ReadPort(reader *bufio.Reader) (int, error) {
	return readPort(reader, "read_port")
}

func readPort(reader *bufio.Reader, op string) (int, error) {
	var port int32
	if err := binary.Read(reader, binary.BigEndian, &port); err != nil {
		return 0, errors.NewProtocolError(op, "failed to read udp port", err)
	}
	if port <= 0 || port > 65535 {
		return 0, errors.NewProtocolError(op, fmt.Sprintf("invalid udp port %d", port), nil)
	}
	return int(port), nil
}

// FlushWriter flushes the writer buffer
func FlushWriter(writer *bufio.Writer) error {
	if err := writer.Flush(); err != nil {
		return errors.NewProtocolError("flush", "failed to flush writer", err)
	}
	return nil
}

// encodeModifiedUTF8 produces the string encoding of java.io.DataOutput:
// UTF-16 code units, NUL as two bytes, surrogates encoded individually.
func encodeModifiedUTF8(s string) ([]byte, error) {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units))

	for _, c := range units {
		switch {
		case c >= 0x0001 && c <= 0x007f:
			out = append(out, byte(c))
		case c <= 0x07ff:
			out = append(out, 0xc0|byte(c>>6&0x1f), 0x80|byte(c&0x3f))
		default:
			out = append(out, 0xe0|byte(c>>12&0x0f), 0x80|byte(c>>6&0x3f), 0x80|byte(c&0x3f))
		}
	}

	if len(out) > maxUTFLength {
		return nil, errors.NewProtocolError("encode_utf", fmt.Sprintf("encoded filename is %d bytes", len(out)), nil)
	}
	return out, nil
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))

	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", errors.NewProtocolError("decode_utf", fmt.Sprintf("malformed input around byte %d", i), nil)
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", errors.NewProtocolError("decode_utf", fmt.Sprintf("malformed input around byte %d", i), nil)
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", errors.NewProtocolError("decode_utf", fmt.Sprintf("malformed input around byte %d", i), nil)
		}
	}

	return string(utf16.Decode(units)), nil
}
