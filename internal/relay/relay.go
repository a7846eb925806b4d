// Package relay copies bytes between two established connections until both
// directions finish. The bytes themselves are never interpreted.
package relay

import (
	"io"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// Splice first flushes residue into b, then copies a<->b full duplex. When a
// direction hits end-of-stream only the write side of its destination is
// closed (half-close), so the opposite direction keeps streaming; both
// connections are fully closed once both directions are done.
func Splice(a, b net.Conn, residue []byte) error {
	if len(residue) > 0 {
		if _, err := b.Write(residue); err != nil {
			_ = a.Close()
			_ = b.Close()
			return err
		}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); copyHalf(b, a) }()
	go func() { defer wg.Done(); copyHalf(a, b) }()
	wg.Wait()
	_ = a.Close()
	_ = b.Close()
	return nil
}

func copyHalf(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
}
