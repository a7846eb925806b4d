package proto

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	msgs := []*Message{
		Declare([]string{"a.test", "b.test"}),
		Ack(),
		Error("empty declaration"),
		Forward(id, "a.test"),
		Ping(),
		Pong(),
	}
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("WriteMessage(%s): %v", m.Kind, err)
		}
	}
	for _, want := range msgs {
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if got.Kind != want.Kind {
			t.Errorf("kind = %s, want %s", got.Kind, want.Kind)
		}
		if got.ID != want.ID || got.Domain != want.Domain || got.Reason != want.Reason {
			t.Errorf("payload mismatch: got %+v want %+v", got, want)
		}
		if len(got.Domains) != len(want.Domains) {
			t.Errorf("domains = %v, want %v", got.Domains, want.Domains)
		}
	}
	if _, err := ReadMessage(&buf); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Ack()); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	full := buf.Bytes()
	for cut := 1; cut < len(full); cut++ {
		_, err := ReadMessage(bytes.NewReader(full[:cut]))
		if err == nil || err == io.EOF {
			t.Errorf("cut=%d: expected mid-frame error, got %v", cut, err)
		}
	}
}

func TestReadMessageGarbage(t *testing.T) {
	// Valid length prefix, invalid JSON.
	if _, err := ReadMessage(bytes.NewReader([]byte{0, 3, 'x', 'y', 'z'})); err == nil {
		t.Error("expected decode error for garbage payload")
	}
	// Zero-length frame.
	if _, err := ReadMessage(bytes.NewReader([]byte{0, 0})); err == nil {
		t.Error("expected error for empty frame")
	}
	// JSON without kind.
	if _, err := ReadMessage(bytes.NewReader([]byte{0, 2, '{', '}'})); err == nil {
		t.Error("expected error for frame without kind")
	}
}

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseID(%s) = %s", id, parsed)
	}
	read, err := ReadID(bytes.NewReader(id[:]))
	if err != nil {
		t.Fatalf("ReadID: %v", err)
	}
	if read != id {
		t.Errorf("ReadID = %s, want %s", read, id)
	}
	if _, err := ReadID(bytes.NewReader(id[:8])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short ReadID: expected unexpected EOF, got %v", err)
	}
}

func TestParseIDRejects(t *testing.T) {
	for _, s := range []string{"", "zz", "abcd", "0102030405060708090a0b0c0d0e0f"} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q): expected error", s)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
