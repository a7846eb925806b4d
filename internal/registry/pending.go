package registry

import (
	"net"
	"sync"
	"time"

	"github.com/luoshuqi/http-forward/internal/proto"
)

// Pending is a public connection whose domain has been resolved and which is
// waiting for its paired data connection.
type Pending[S comparable] struct {
	Conn     net.Conn
	Residue  []byte // bytes consumed during the host scan, replayed first
	Owner    S
	Domain   string
	Created  time.Time
	Deadline time.Time
	Ready    chan struct{} // closed when the data connection takes over
}

// CorrelationRegistry maps correlation ids to pending connections. Removal is
// atomic with lookup, so an id pairs exactly once.
type CorrelationRegistry[S comparable] struct {
	mu      sync.Mutex
	pending map[proto.ID]*Pending[S]
}

func NewCorrelationRegistry[S comparable]() *CorrelationRegistry[S] {
	return &CorrelationRegistry[S]{pending: make(map[proto.ID]*Pending[S])}
}

func (r *CorrelationRegistry[S]) Put(id proto.ID, p *Pending[S]) {
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
}

// Take consumes id: the first caller gets the pending connection, any later
// caller (a duplicate or late data connection) gets nothing.
func (r *CorrelationRegistry[S]) Take(id proto.ID) (*Pending[S], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

// FailOwner removes and returns every pending connection waiting on owner.
// Called on session teardown.
func (r *CorrelationRegistry[S]) FailOwner(owner S) []*Pending[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []*Pending[S]
	for id, p := range r.pending {
		if p.Owner == owner {
			delete(r.pending, id)
			failed = append(failed, p)
		}
	}
	return failed
}

// Expire removes and returns every pending connection whose deadline has
// passed.
func (r *CorrelationRegistry[S]) Expire(now time.Time) []*Pending[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Pending[S]
	for id, p := range r.pending {
		if p.Deadline.Before(now) {
			delete(r.pending, id)
			expired = append(expired, p)
		}
	}
	return expired
}

// Drain removes and returns everything, for shutdown.
func (r *CorrelationRegistry[S]) Drain() []*Pending[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pending[S], 0, len(r.pending))
	for id, p := range r.pending {
		delete(r.pending, id)
		out = append(out, p)
	}
	return out
}

func (r *CorrelationRegistry[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
