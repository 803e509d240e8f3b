// Package statesync reconciles the room's snapshot revision: cheap revision
// notifications trigger at most one coalesced pull of the expensive payload.
package statesync

import "sync"

// Tracker follows the authoritative revision of one room on behalf of one
// participant. Notifications arrive via OnNotice; when one advances past the
// last pulled revision the tracker invokes the request callback (which sends
// a state_load) at most once, no matter how many notices pile up before the
// response lands via OnSnapshot.
type Tracker struct {
	mu sync.Mutex

	// last is the highest revision this participant has observed, via
	// notice, snapshot or its own save.
	last int64

	// wanted is the highest noticed revision not yet pulled.
	wanted int64

	// fetching is true while a pull is in flight.
	fetching bool

	request func()
}

// New creates a tracker. request must send one state_load; it is called on
// the notifying goroutine and must not block.
func New(request func()) *Tracker {
	return &Tracker{request: request}
}

// Last returns the highest observed revision.
func (t *Tracker) Last() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// NextRevision allocates the revision for a save: one past everything
// observed so far. The result is recorded as observed immediately, since the
// server only notifies the other members.
func (t *Tracker) NextRevision() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	return t.last
}

// OnNotice handles a state_rev notification and reports whether it advanced
// past everything observed. Non-advancing revisions are ignored; an advancing
// one schedules a pull unless one is already in flight.
func (t *Tracker) OnNotice(rev int64) bool {
	t.mu.Lock()
	if rev <= t.last {
		t.mu.Unlock()
		return false
	}
	if rev > t.wanted {
		t.wanted = rev
	}
	if t.fetching {
		// Coalesced: the in-flight pull's completion will re-check.
		t.mu.Unlock()
		return true
	}
	t.fetching = true
	t.mu.Unlock()

	t.request()
	return true
}

// OnSnapshot handles a state response carrying revision rev. If further
// notices advanced past it while the pull was in flight, exactly one more
// pull is issued.
func (t *Tracker) OnSnapshot(rev int64) {
	t.mu.Lock()
	if rev > t.last {
		t.last = rev
	}
	refetch := t.wanted > t.last
	t.fetching = refetch
	t.mu.Unlock()

	if refetch {
		t.request()
	}
}

// OnAbsent handles a state response for a room with no stored snapshot.
func (t *Tracker) OnAbsent() {
	t.mu.Lock()
	t.fetching = false
	t.wanted = 0
	t.mu.Unlock()
}
