package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxMessageSize is the maximum size of a single length-prefixed message.
	MaxMessageSize = 16 * 1024 * 1024

	// MaxBlockStreamPayloadSize caps an incoming block announcement.
	MaxBlockStreamPayloadSize = 2 * 1024 * 1024
)

// writeLengthPrefixed writes data with a 4-byte big-endian length prefix.
func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), MaxMessageSize)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}

	_, err := w.Write(data)
	return err
}

// readLengthPrefixedWithLimit reads length-prefixed data with an explicit cap.
func readLengthPrefixedWithLimit(r io.Reader, maxSize uint32) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf)
	if length > maxSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return data, nil
}

// isExpectedStreamCloseError returns true for close/reset errors that are
// common when the remote peer already hung up. These are noisy and not
// actionable for normal operators, so callers can suppress logging for them.
func isExpectedStreamCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "stream reset"),
		strings.Contains(msg, "connection closed"),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "reset by peer"):
		return true
	default:
		return false
	}
}
