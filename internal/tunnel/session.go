package tunnel

import (
	"errors"
	"net"
	"sync"

	"github.com/luoshuqi/http-forward/internal/proto"
)

var errSessionClosed = errors.New("session closed")

type sessionState int

const (
	stateActive sessionState = iota
	stateClosed
)

// Session is the server side of one client control connection. Domain
// ownership lives in the registry; the session carries the identity and the
// ability to push forward requests down the control connection.
type Session struct {
	conn     net.Conn
	identity string // from the client certificate
	remote   string

	wmu sync.Mutex // serializes control frames to the client

	mu    sync.Mutex
	state sessionState
}

func newSession(conn net.Conn, identity string) *Session {
	return &Session{
		conn:     conn,
		identity: identity,
		remote:   conn.RemoteAddr().String(),
	}
}

func (s *Session) Identity() string { return s.identity }

func (s *Session) send(m *proto.Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return proto.WriteMessage(s.conn, m)
}

// Forward asks the client to open a data connection for id.
func (s *Session) Forward(id proto.ID, domain string) error {
	s.mu.Lock()
	closed := s.state == stateClosed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	return s.send(proto.Forward(id, domain))
}

// markClosed transitions to Closed; it reports whether this call did the
// transition, so teardown runs once.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false
	}
	s.state = stateClosed
	return true
}
