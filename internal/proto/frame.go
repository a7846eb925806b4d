package proto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Connection kind markers. Both connection kinds arrive on the same control
// endpoint; the first byte after the TLS handshake tells them apart.
const (
	// MarkerControl precedes a stream of framed control messages.
	MarkerControl byte = 0x01
	// MarkerData precedes a raw IDSize-byte correlation id, after which the
	// connection is an opaque byte pipe.
	MarkerData byte = 0x02
)

// MaxFrame caps a single control message payload.
const MaxFrame = 1<<16 - 1

// WriteMessage frames m as a big-endian u16 length followed by the JSON
// payload. Callers sharing a connection must serialize writes themselves.
func WriteMessage(w io.Writer, m *Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Kind, err)
	}
	if len(payload) > MaxFrame {
		return fmt.Errorf("%s frame too large: %d bytes", m.Kind, len(payload))
	}
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	_, err = w.Write(buf)
	return err
}

// ReadMessage reads one framed control message. io.EOF is returned untouched
// when the peer closes cleanly between frames.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m.Kind == "" {
		return nil, fmt.Errorf("frame without kind")
	}
	return &m, nil
}
