// Package metrics holds the non-decreasing counters spec.md §3 requires and
// an immutable Snapshot for the public metrics() operation.
package metrics

import "sync/atomic"

// Counters holds one atomic per spec.md §3 metric, plus the deregistration
// counterparts §4.2/§4.5 imply ("the appropriate ACK counter (registration
// vs reliable vs deregistration)") but §3's explicit list omits.
type Counters struct {
	SentReliable     atomic.Uint64
	SentUnreliable   atomic.Uint64
	RecvReliable     atomic.Uint64
	RecvUnreliable   atomic.Uint64
	ReliableAcksRecv atomic.Uint64
	Retransmissions  atomic.Uint64
	LostMarked       atomic.Uint64
	SentReg          atomic.Uint64
	RecvReg          atomic.Uint64
	RegAcksRecv      atomic.Uint64
	Registrations    atomic.Uint64
	InvalidPackets   atomic.Uint64

	// Supplemental, not named in spec.md §3 but required by §4.2/§4.5's
	// "appropriate ACK counter... vs deregistration" wording.
	SentDereg     atomic.Uint64
	DeregAcksRecv atomic.Uint64
}

// Snapshot is an immutable point-in-time copy returned by Endpoint.Metrics.
type Snapshot struct {
	SentReliable     uint64
	SentUnreliable   uint64
	RecvReliable     uint64
	RecvUnreliable   uint64
	ReliableAcksRecv uint64
	Retransmissions  uint64
	LostMarked       uint64
	SentReg          uint64
	RecvReg          uint64
	RegAcksRecv      uint64
	Registrations    uint64
	InvalidPackets   uint64
	SentDereg        uint64
	DeregAcksRecv    uint64
}

// Snapshot copies the current counter values. Readers never observe a
// decrement since every field is a monotonically increasing atomic.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		SentReliable:     c.SentReliable.Load(),
		SentUnreliable:   c.SentUnreliable.Load(),
		RecvReliable:     c.RecvReliable.Load(),
		RecvUnreliable:   c.RecvUnreliable.Load(),
		ReliableAcksRecv: c.ReliableAcksRecv.Load(),
		Retransmissions:  c.Retransmissions.Load(),
		LostMarked:       c.LostMarked.Load(),
		SentReg:          c.SentReg.Load(),
		RecvReg:          c.RecvReg.Load(),
		RegAcksRecv:      c.RegAcksRecv.Load(),
		Registrations:    c.Registrations.Load(),
		InvalidPackets:   c.InvalidPackets.Load(),
		SentDereg:        c.SentDereg.Load(),
		DeregAcksRecv:    c.DeregAcksRecv.Load(),
	}
}
