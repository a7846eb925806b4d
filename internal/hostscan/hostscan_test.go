package hostscan

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

const req = "GET /index.html HTTP/1.1\r\nHost: A.Test\r\nAccept: */*\r\n\r\nhello body"

func TestScanExtractsDomain(t *testing.T) {
	res, err := Scan(strings.NewReader(req), 8192)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Domain != "a.test" {
		t.Errorf("domain = %q, want %q", res.Domain, "a.test")
	}
	if !strings.HasPrefix(req, string(res.Consumed)) {
		t.Errorf("consumed bytes %q are not a prefix of the request", res.Consumed)
	}
	if !bytes.Contains(res.Consumed, []byte("Host: A.Test\r\n")) {
		t.Errorf("consumed bytes should cover the complete Host line, got %q", res.Consumed)
	}
}

func TestScanOneBytePreservesEveryByte(t *testing.T) {
	// Byte-at-a-time reads: the scan must still stop at the Host line and the
	// consumed prefix plus the unread remainder must reassemble the request.
	r := iotest.OneByteReader(strings.NewReader(req))
	res, err := Scan(r, 8192)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Domain != "a.test" {
		t.Errorf("domain = %q, want %q", res.Domain, "a.test")
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll remainder: %v", err)
	}
	if got := string(res.Consumed) + string(rest); got != req {
		t.Errorf("consumed+remainder = %q, want %q", got, req)
	}
}

func TestScanHostVariants(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"a.test", "a.test"},
		{"A.TEST", "a.test"},
		{"a.test:8443", "a.test"},
		{"  a.test  ", "a.test"},
		{"[::1]", "::1"},
		{"[::1]:443", "::1"},
	}
	for _, c := range cases {
		in := "GET / HTTP/1.1\r\nhOsT: " + c.host + "\r\n\r\n"
		res, err := Scan(strings.NewReader(in), 8192)
		if err != nil {
			t.Errorf("Scan(host=%q): %v", c.host, err)
			continue
		}
		if res.Domain != c.want {
			t.Errorf("Scan(host=%q) = %q, want %q", c.host, res.Domain, c.want)
		}
	}
}

func TestScanHostAfterOtherHeaders(t *testing.T) {
	in := "POST /x HTTP/1.1\r\nContent-Length: 4\r\nUser-Agent: test\r\nHost: b.test\r\n\r\nbody"
	res, err := Scan(strings.NewReader(in), 8192)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Domain != "b.test" {
		t.Errorf("domain = %q, want %q", res.Domain, "b.test")
	}
}

func TestScanMissingHost(t *testing.T) {
	in := "GET / HTTP/1.1\r\nAccept: */*\r\n\r\n"
	_, err := Scan(strings.NewReader(in), 8192)
	if !errors.Is(err, ErrMissingHost) {
		t.Errorf("expected ErrMissingHost, got %v", err)
	}
}

func TestScanMalformed(t *testing.T) {
	cases := []string{
		"GET / HTTP/1.1\r\nthis line has no colon\r\nHost: a.test\r\n\r\n",
		"GET / HTTP/1.1\r\nHost:\r\n\r\n",
		"GET / HTTP/1.1\r\nHost:   \r\n\r\n",
		"GET / HTTP/1.1\r\nHost: [::1\r\n\r\n",
	}
	for _, in := range cases {
		if _, err := Scan(strings.NewReader(in), 8192); !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("Scan(%q): expected ErrMalformedHeader, got %v", in, err)
		}
	}
}

func TestScanTruncatedStream(t *testing.T) {
	in := "GET / HTTP/1.1\r\nAccep"
	_, err := Scan(strings.NewReader(in), 8192)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF, got %v", err)
	}
}

func TestScanHeaderTooLarge(t *testing.T) {
	in := "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("x", 4096) + "\r\nHost: a.test\r\n\r\n"
	_, err := Scan(iotest.OneByteReader(strings.NewReader(in)), 1024)
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("expected ErrHeaderTooLarge, got %v", err)
	}
}
