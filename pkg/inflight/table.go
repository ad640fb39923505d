// Package inflight is the sender-side table of unacknowledged reliable-class
// datagrams: the Retransmitter scans it on a fixed tick, resending anything
// stale and retiring anything past its deadline.
package inflight

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/appnet-org/hudp/pkg/logging"
	"github.com/appnet-org/hudp/pkg/metrics"
	"github.com/appnet-org/hudp/pkg/socket"
	"go.uber.org/zap"
)

// RetxInterval is the fixed retransmission cadence spec.md §4.2 mandates.
const RetxInterval = 50 * time.Millisecond

// Kind distinguishes what ACK counter an entry's acknowledgement feeds. The
// deadline that governs an entry is its SkipAfter field, not its Kind (see
// DESIGN.md's resolution of the handshake-timeout-vs-skip-threshold
// question in spec.md §4.5).
type Kind uint8

const (
	KindNormal Kind = iota
	KindRegistration
	KindDeregistration
)

// Result is sent on an entry's Done channel exactly once: true on ACK,
// false on skip-deadline expiry.
type Result = bool

// Entry is one sender-side record of a reliable-class frame pending
// acknowledgement.
type Entry struct {
	Seq       uint16
	Data      []byte
	Dest      *net.UDPAddr
	Kind      Kind
	FirstSend time.Time
	LastSend  time.Time
	RetxCount int
	SkipAfter time.Duration
	Done      chan Result // optional; nil for ordinary reliable sends
}

var ErrDuplicateSeq = errors.New("inflight: sequence already in flight")

// RTTObserver receives the round-trip time of an entry the moment its ACK
// arrives, purely for the embedding application's own instrumentation. It
// never gates protocol behavior and is invoked with the Table's mutex
// already released.
type RTTObserver func(seq uint16, rtt time.Duration)

// Table is the sender's in-flight map, guarded by one mutex as spec.md §3
// requires.
type Table struct {
	mu            sync.Mutex
	entries       map[uint16]*Entry
	skipThreshold time.Duration
	sock          *socket.Socket
	counters      *metrics.Counters
	onRTT         RTTObserver
}

// New creates a Table. skipThreshold is the default age limit applied to
// ordinary reliable entries (registration/deregistration entries carry their
// own SkipAfter, set by the caller at Insert time).
func New(sock *socket.Socket, counters *metrics.Counters, skipThreshold time.Duration) *Table {
	return &Table{
		entries:       make(map[uint16]*Entry),
		skipThreshold: skipThreshold,
		sock:          sock,
		counters:      counters,
	}
}

// SetRTTObserver installs the hook MarkAcked invokes on every successful
// ACK. Passing nil disables it.
func (t *Table) SetRTTObserver(fn RTTObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRTT = fn
}

// SkipThreshold returns the default per-entry age limit for ordinary
// reliable sends.
func (t *Table) SkipThreshold() time.Duration {
	return t.skipThreshold
}

// Insert adds e, keyed by e.Seq. It is an error to insert a sequence already
// in flight (spec.md §3's uniqueness invariant).
func (t *Table) Insert(e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[e.Seq]; exists {
		return ErrDuplicateSeq
	}
	t.entries[e.Seq] = e
	return nil
}

// MarkAcked processes an ACK for seq: records RTT, fires the completion
// signal if present, increments the counter matching the entry's Kind, and
// removes the entry. It is a no-op if seq is not in flight (late or
// duplicate ACK).
func (t *Table) MarkAcked(seq uint16, now time.Time) {
	t.mu.Lock()
	e, ok := t.entries[seq]
	if ok {
		delete(t.entries, seq)
	}
	onRTT := t.onRTT
	t.mu.Unlock()
	if !ok {
		return
	}

	rtt := now.Sub(e.FirstSend)
	switch e.Kind {
	case KindRegistration:
		t.counters.RegAcksRecv.Add(1)
	case KindDeregistration:
		t.counters.DeregAcksRecv.Add(1)
	default:
		t.counters.ReliableAcksRecv.Add(1)
	}

	if e.Done != nil {
		select {
		case e.Done <- true:
		default:
		}
	}

	if onRTT != nil {
		onRTT(seq, rtt)
	}

	logging.Debug("ack received",
		zap.Uint16("seq", seq),
		zap.Duration("rtt", rtt),
		zap.Int("retx", e.RetxCount))
}

// Tick scans every in-flight entry once: retiring anything past its skip
// deadline, and resending anything whose last send is older than
// RetxInterval. It never mutates the Acked state of an entry -- this table
// has none; acknowledgement is represented purely by removal, which only
// MarkAcked performs, matching spec.md §4.2's "the Retransmitter never
// touches the acked flag" invariant.
func (t *Table) Tick(now time.Time) {
	t.mu.Lock()
	var toResend []*Entry
	for seq, e := range t.entries {
		age := now.Sub(e.FirstSend)
		if age >= e.SkipAfter {
			delete(t.entries, seq)
			t.counters.LostMarked.Add(1)
			if e.Done != nil {
				select {
				case e.Done <- false:
				default:
				}
			}
			logging.Warn("sender skip: giving up on unacked entry",
				zap.Uint16("seq", seq), zap.Duration("age", age))
			continue
		}
		if now.Sub(e.LastSend) >= RetxInterval {
			toResend = append(toResend, e)
		}
	}
	t.mu.Unlock()

	for _, e := range toResend {
		if err := t.sock.SendTo(e.Data, e.Dest); err != nil {
			logging.Warn("retransmit failed", zap.Uint16("seq", e.Seq), zap.Error(err))
			continue
		}
		t.mu.Lock()
		// Re-check presence: the entry may have been acked concurrently
		// between the snapshot above and this update.
		if cur, ok := t.entries[e.Seq]; ok && cur == e {
			e.LastSend = now
			e.RetxCount++
		}
		t.mu.Unlock()
		t.counters.Retransmissions.Add(1)
		logging.Debug("retransmitted", zap.Uint16("seq", e.Seq), zap.Int("retx", e.RetxCount))
	}
}

// Remove deletes seq unconditionally, used by Send and the handshake to
// discard an entry whose first send failed, and by the handshake backstop.
func (t *Table) Remove(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, seq)
}

// Len returns the number of in-flight entries, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
