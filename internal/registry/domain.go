// Package registry holds the two shared mutable structures of the server:
// the domain ownership map and the correlation map of pending public
// connections. Both are guarded by short critical sections that are never
// held across network I/O.
package registry

import (
	"sort"
	"sync"
)

// DomainRegistry maps a normalized domain name to its owning session. A
// domain has at most one owner; a later Register for the same domain
// displaces the earlier owner (last writer wins).
type DomainRegistry[S comparable] struct {
	mu     sync.RWMutex
	owners map[string]S
}

func NewDomainRegistry[S comparable]() *DomainRegistry[S] {
	return &DomainRegistry[S]{owners: make(map[string]S)}
}

// Register claims domain for owner, atomically displacing any prior owner.
// It returns the displaced owner when one existed and differed from owner.
func (r *DomainRegistry[S]) Register(domain string, owner S) (prev S, displaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.owners[domain]
	r.owners[domain] = owner
	if ok && old != owner {
		return old, true
	}
	var zero S
	return zero, false
}

// Resolve returns the current owner of domain.
func (r *DomainRegistry[S]) Resolve(domain string) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[domain]
	return owner, ok
}

// RevokeAll removes every domain still owned by owner and returns the
// removed names. Domains already taken over by a later session are left
// untouched.
func (r *DomainRegistry[S]) RevokeAll(owner S) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for d, o := range r.owners {
		if o == owner {
			delete(r.owners, d)
			removed = append(removed, d)
		}
	}
	return removed
}

func (r *DomainRegistry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// Domains returns the registered names in sorted order, for stats.
func (r *DomainRegistry[S]) Domains() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.owners))
	for d := range r.owners {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
