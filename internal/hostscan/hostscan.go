// Package hostscan extracts the Host header from the front of an HTTP/1.x
// request stream without parsing anything else. The scan is a one-shot
// function over the stream: it stops as soon as a complete Host line has been
// seen and hands back every byte it consumed so the caller can replay them.
package hostscan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMissingHost is returned when the header block ends without a Host line.
	ErrMissingHost = errors.New("no Host header before end of headers")
	// ErrMalformedHeader is returned for a header line without a colon or a
	// Host line with an empty value.
	ErrMalformedHeader = errors.New("malformed header line")
	// ErrHeaderTooLarge is returned when the buffer limit is hit before the
	// Host line completes.
	ErrHeaderTooLarge = errors.New("header exceeds size limit")
)

// Result carries the extracted domain plus everything read from the stream
// while finding it. Consumed must be replayed, in order, ahead of any bytes
// still unread on the stream.
type Result struct {
	Domain   string
	Consumed []byte
}

const readChunk = 1024

// Scan reads r incrementally until it has seen one complete Host header line
// (CRLF or LF terminated) and returns the normalized domain. It never reads
// past the buffered chunk a Host line completes in, so the request line, any
// other headers and the body stay unexamined. max caps the bytes buffered
// before giving up.
func Scan(r io.Reader, max int) (Result, error) {
	buf := make([]byte, 0, readChunk)
	chunk := make([]byte, readChunk)
	lineStart := 0 // offset of the first line not yet fully scanned
	sawRequestLine := false
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				nl := bytes.IndexByte(buf[lineStart:], '\n')
				if nl < 0 {
					break
				}
				line := buf[lineStart : lineStart+nl]
				lineStart += nl + 1
				line = bytes.TrimSuffix(line, []byte("\r"))
				if !sawRequestLine {
					sawRequestLine = true
					continue
				}
				if len(line) == 0 {
					return Result{Consumed: buf}, ErrMissingHost
				}
				colon := bytes.IndexByte(line, ':')
				if colon < 0 {
					return Result{Consumed: buf}, ErrMalformedHeader
				}
				if !strings.EqualFold(string(bytes.TrimSpace(line[:colon])), "host") {
					continue
				}
				domain, perr := normalize(string(line[colon+1:]))
				if perr != nil {
					return Result{Consumed: buf}, perr
				}
				return Result{Domain: domain, Consumed: buf}, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return Result{Consumed: buf}, fmt.Errorf("stream closed during host scan: %w", io.ErrUnexpectedEOF)
			}
			return Result{Consumed: buf}, err
		}
		if len(buf) >= max {
			return Result{Consumed: buf}, ErrHeaderTooLarge
		}
	}
}

// normalize lowercases the host value and strips an optional port suffix.
func normalize(v string) (string, error) {
	h := strings.TrimSpace(v)
	if h == "" {
		return "", fmt.Errorf("%w: empty Host value", ErrMalformedHeader)
	}
	if strings.HasPrefix(h, "[") {
		// bracketed IPv6 literal, with or without port
		end := strings.IndexByte(h, ']')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated IPv6 literal", ErrMalformedHeader)
		}
		h = h[1:end]
	} else if i := strings.LastIndexByte(h, ':'); i >= 0 && strings.Count(h, ":") == 1 {
		h = h[:i]
	}
	if h == "" {
		return "", fmt.Errorf("%w: empty Host value", ErrMalformedHeader)
	}
	return strings.ToLower(h), nil
}
