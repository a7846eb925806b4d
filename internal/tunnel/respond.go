package tunnel

import (
	"bytes"
	"fmt"
	"net"
	"net/http"

	"github.com/luoshuqi/http-forward/internal/web"
)

// respondPage writes a terminal HTTP error response on a raw public
// connection and closes it. Falls back to a plain-text body when the
// template fails.
func respondPage(c net.Conn, status int, tmpl string, data map[string]any) {
	var body bytes.Buffer
	if err := web.Render(&body, tmpl, data); err != nil {
		body.Reset()
		body.WriteString(http.StatusText(status))
	}
	var head bytes.Buffer
	fmt.Fprintf(&head, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	head.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&head, "Content-Length: %d\r\n", body.Len())
	head.WriteString("Connection: close\r\nCache-Control: no-store\r\n\r\n")
	_, _ = c.Write(append(head.Bytes(), body.Bytes()...))
	_ = c.Close()
}
