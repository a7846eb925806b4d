package registry

import (
	"testing"
	"time"

	"github.com/luoshuqi/http-forward/internal/proto"
)

func newPending(owner *fakeSession, deadline time.Time) *Pending[*fakeSession] {
	return &Pending[*fakeSession]{
		Owner:    owner,
		Domain:   "a.test",
		Created:  time.Now(),
		Deadline: deadline,
		Ready:    make(chan struct{}),
	}
}

func mustID(t *testing.T) proto.ID {
	t.Helper()
	id, err := proto.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestTakeConsumesExactlyOnce(t *testing.T) {
	r := NewCorrelationRegistry[*fakeSession]()
	owner := &fakeSession{"one"}
	id := mustID(t)
	p := newPending(owner, time.Now().Add(time.Minute))
	r.Put(id, p)

	got, ok := r.Take(id)
	if !ok || got != p {
		t.Fatalf("first Take = %v, %v; want the pending entry", got, ok)
	}
	if _, ok := r.Take(id); ok {
		t.Error("second Take with the same id must fail")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestFailOwnerRemovesOnlyThatOwner(t *testing.T) {
	r := NewCorrelationRegistry[*fakeSession]()
	s1 := &fakeSession{"one"}
	s2 := &fakeSession{"two"}
	id1, id2, id3 := mustID(t), mustID(t), mustID(t)
	r.Put(id1, newPending(s1, time.Now().Add(time.Minute)))
	r.Put(id2, newPending(s1, time.Now().Add(time.Minute)))
	r.Put(id3, newPending(s2, time.Now().Add(time.Minute)))

	failed := r.FailOwner(s1)
	if len(failed) != 2 {
		t.Errorf("FailOwner(s1) returned %d entries, want 2", len(failed))
	}
	if _, ok := r.Take(id1); ok {
		t.Error("id1 should already be consumed by FailOwner")
	}
	if _, ok := r.Take(id3); !ok {
		t.Error("id3 belongs to s2 and must survive")
	}
}

func TestExpireHonorsDeadlines(t *testing.T) {
	r := NewCorrelationRegistry[*fakeSession]()
	owner := &fakeSession{"one"}
	now := time.Now()
	idOld, idNew := mustID(t), mustID(t)
	r.Put(idOld, newPending(owner, now.Add(-time.Second)))
	r.Put(idNew, newPending(owner, now.Add(time.Minute)))

	expired := r.Expire(now)
	if len(expired) != 1 {
		t.Fatalf("Expire returned %d entries, want 1", len(expired))
	}
	// A data connection arriving late with the expired id must be rejected.
	if _, ok := r.Take(idOld); ok {
		t.Error("expired id must not pair")
	}
	if _, ok := r.Take(idNew); !ok {
		t.Error("entry with a future deadline must survive Expire")
	}
}

func TestDrain(t *testing.T) {
	r := NewCorrelationRegistry[*fakeSession]()
	owner := &fakeSession{"one"}
	for i := 0; i < 3; i++ {
		r.Put(mustID(t), newPending(owner, time.Now().Add(time.Minute)))
	}
	if got := r.Drain(); len(got) != 3 {
		t.Errorf("Drain returned %d entries, want 3", len(got))
	}
	if r.Len() != 0 {
		t.Errorf("Len after Drain = %d, want 0", r.Len())
	}
}
