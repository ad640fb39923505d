// Package session is the receiver side of the reliable channel: one
// per-peer reorder buffer and expected-next counter, plus the bounded
// head-of-line-blocking delivery pump described in spec.md §4.3.
package session

import (
	"sync"
	"time"

	"github.com/appnet-org/hudp/pkg/logging"
	"github.com/appnet-org/hudp/pkg/metrics"
	"go.uber.org/zap"
)

// Deliver is invoked once per in-order reliable payload. Panics raised by
// Deliver are recovered and logged; they never interrupt the pump, matching
// spec.md §4.3's "exceptions from the callback are caught and logged; they
// never block delivery of subsequent packets."
type Deliver func(seq uint16, senderTs uint32, payload []byte)

type bufEntry struct {
	ts      uint32
	payload []byte
	arrival time.Time
}

// Session is one peer's receive-side reliable stream state.
type Session struct {
	expected uint16
	buffer   map[uint16]bufEntry
	lastSeen time.Time
}

func newSession(expected uint16, now time.Time) *Session {
	return &Session{expected: expected, buffer: make(map[uint16]bufEntry), lastSeen: now}
}

// Table holds one Session per remote address, guarded by a single mutex per
// spec.md §5 ("Per-peer session table... accessed only by the Reader in
// steady state; register_peer touches the registered set on success and
// stop touches sessions -- both may be serialised by the same session
// mutex").
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxBuf   int
}

// NewTable creates an empty session Table bounding each peer's reorder
// buffer to maxBuffered entries.
func NewTable(maxBuffered int) *Table {
	return &Table{sessions: make(map[string]*Session), maxBuf: maxBuffered}
}

// EnsureForRegister creates a session for addr with
// expected_next = (seq+1) mod 2^16 if one does not already exist. It never
// overwrites an existing session's expected-next, per spec.md §4.5.
func (t *Table) EnsureForRegister(addr string, seq uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[addr]; ok {
		return
	}
	t.sessions[addr] = newSession(seq+1, now)
}

// HasSession reports whether addr currently has a session, for tests and
// diagnostics.
func (t *Table) HasSession(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[addr]
	return ok
}

// Remove deletes addr's session, used by graceful deregistration and by
// Stop's receiver-side cleanup.
func (t *Table) Remove(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, addr)
}

// Clear removes every session, used by Stop.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[string]*Session)
}

// HandleReliable admits a reliable data frame from addr and runs the
// in-order delivery pump, per spec.md §4.3 steps 1/3/4 (the ACK in step 2
// is the Reader's responsibility, sent unconditionally before this call).
// If the session does not exist yet, it is created with
// expected_next = (seq+1) mod 2^16, treating the first observed sequence as
// authoritative.
func (t *Table) HandleReliable(addr string, seq uint16, senderTs uint32, payload []byte, now time.Time, skipThreshold time.Duration, counters *metrics.Counters, deliver Deliver) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[addr]
	if !ok {
		sess = newSession(seq+1, now)
		t.sessions[addr] = sess
	}
	sess.lastSeen = now

	d := seq - sess.expected
	if int(d) < t.maxBuf {
		sess.buffer[seq] = bufEntry{ts: senderTs, payload: payload, arrival: now}
	} else {
		logging.Debug("admission rejected: sequence outside window",
			zap.String("peer", addr), zap.Uint16("seq", seq), zap.Uint16("expected", sess.expected))
	}

	t.pump(sess, now, skipThreshold, counters, deliver)
}

// pump runs the in-order delivery loop described in spec.md §4.3. Caller
// must hold t.mu.
func (t *Table) pump(sess *Session, now time.Time, skipThreshold time.Duration, counters *metrics.Counters, deliver Deliver) {
	for {
		if be, ok := sess.buffer[sess.expected]; ok {
			delete(sess.buffer, sess.expected)
			seq := sess.expected
			invokeDeliver(deliver, seq, be.ts, be.payload)
			counters.RecvReliable.Add(1)
			sess.expected++
			continue
		}

		if len(sess.buffer) == 0 {
			return
		}

		earliestSeq, earliestArrival := earliestByForwardDistance(sess)
		if now.Sub(earliestArrival) >= skipThreshold {
			logging.Warn("receiver skip: advancing past missing sequence",
				zap.Uint16("from", sess.expected), zap.Uint16("to", earliestSeq))
			sess.expected = earliestSeq
			counters.LostMarked.Add(1)
			continue
		}
		return
	}
}

// earliestByForwardDistance returns the buffered sequence s minimizing
// (s - expected) mod 2^16, i.e. the entry that is "next" in circular
// sequence space -- spec.md §8 invariant 6.
func earliestByForwardDistance(sess *Session) (uint16, time.Time) {
	var bestSeq uint16
	var bestDist uint16
	var bestArrival time.Time
	first := true
	for seq, be := range sess.buffer {
		d := seq - sess.expected
		if first || d < bestDist {
			bestSeq, bestDist, bestArrival = seq, d, be.arrival
			first = false
		}
	}
	return bestSeq, bestArrival
}

func invokeDeliver(deliver Deliver, seq uint16, ts uint32, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("receive callback panicked", zap.Uint16("seq", seq), zap.Any("panic", r))
		}
	}()
	deliver(seq, ts, payload)
}
