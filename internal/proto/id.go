package proto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// IDSize is the fixed correlation id length on the wire.
const IDSize = 16

// ID correlates a pending public connection with the data connection a
// client opens to serve it. Generated from crypto/rand so one tenant cannot
// guess another tenant's ids.
type ID [IDSize]byte

func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("correlation id: %w", err)
	}
	return id, nil
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// ParseID decodes the hex form carried in forward messages.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("correlation id %q: %w", s, err)
	}
	if len(b) != IDSize {
		return ID{}, fmt.Errorf("correlation id %q: want %d bytes, got %d", s, IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ReadID reads the raw fixed-size id a data connection presents as its
// first payload after the marker byte.
func ReadID(r io.Reader) (ID, error) {
	var id ID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ID{}, fmt.Errorf("read correlation id: %w", err)
	}
	return id, nil
}
