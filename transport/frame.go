package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	// lengthSize is the size of the frame length prefix
	lengthSize = 4

	// DefaultMaxFrameSize caps the declared length of inbound frames when
	// the config leaves MaxFrameBytes unset. The prefix is attacker
	// controlled; it must never size an allocation unchecked.
	DefaultMaxFrameSize = 16 << 20

	// DefaultWriteTimeout bounds a single frame write when the config
	// leaves the call timeout unset.
	DefaultWriteTimeout = 10 * time.Second
)

// bodyReadTimeout bounds how long a peer may take to deliver the body of a
// frame once its length prefix arrived. The deadline is anchored at the
// start of the body read; an idle connection waiting for the next length
// prefix is never subject to it. A variable so tests can shorten it.
var bodyReadTimeout = 20 * time.Second

// writeFrame writes one frame to the connection with the format:
// - 4 bytes: frame length (uint32, little endian), counts tag + payload
// - 1 byte:  kind tag
// - N bytes: payload
func writeFrame(conn net.Conn, tag byte, payload []byte) error {
	// Header holds the length prefix plus the tag so the payload can be
	// written without copying
	header := make([]byte, lengthSize+1)
	binary.LittleEndian.PutUint32(header[:lengthSize], uint32(len(payload)+1))
	header[lengthSize] = tag

	// Skip a zero-length payload buffer: net.Buffers.WriteTo would still
	// issue a zero-byte Write for it, and pipe-like conns treat every
	// Write as a rendezvous, blocking the writer forever.
	b := net.Buffers{header}
	if len(payload) > 0 {
		b = append(b, payload)
	}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame from the connection. It blocks without a
// deadline while waiting for the length prefix; once the prefix arrived the
// declared body must be delivered within bodyReadTimeout. A zero byte read
// at any point is treated as a peer disconnect. The declared length is
// validated against maxFrame before any allocation.
func readFrame(conn net.Conn, maxFrame uint32) (byte, []byte, error) {
	// Read the length prefix, unbounded: an idle peer is not an error
	lenBuf := make([]byte, lengthSize)
	if err := readFull(conn, lenBuf); err != nil {
		return 0, nil, fmt.Errorf("reading length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf)
	if length == 0 {
		return 0, nil, fmt.Errorf("frame declares zero length")
	}
	if length > maxFrame {
		return 0, nil, fmt.Errorf("frame declares %d bytes, limit is %d", length, maxFrame)
	}

	// The body (tag + payload) must arrive within the deadline, measured
	// from the start of the body read
	if err := conn.SetReadDeadline(time.Now().Add(bodyReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("setting body read deadline: %w", err)
	}

	body := make([]byte, length)
	if err := readFull(conn, body); err != nil {
		return 0, nil, fmt.Errorf("reading frame body (%d bytes declared): %w", length, err)
	}

	// Clear the deadline again for the next length prefix wait
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, nil, fmt.Errorf("clearing read deadline: %w", err)
	}

	return body[0], body[1:], nil
}

// readFull reads exactly len(buf) bytes, accumulating across partial reads.
// A read returning zero bytes signals a peer disconnect.
func readFull(conn net.Conn, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			if read > 0 && read < len(buf) {
				return fmt.Errorf("short read (%d of %d bytes): %w", read, len(buf), err)
			}
			return err
		}
		if n == 0 {
			return ErrPeerClosed
		}
	}
	return nil
}
