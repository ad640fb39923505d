package endpoint

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/appnet-org/hudp/pkg/clock"
	"github.com/appnet-org/hudp/pkg/inflight"
	"github.com/appnet-org/hudp/pkg/logging"
	"github.com/appnet-org/hudp/pkg/timer"
	"github.com/appnet-org/hudp/pkg/wire"
	"go.uber.org/zap"
)

// RegisterPeer runs the sender-initiated registration handshake against the
// configured peer, per spec.md §4.5. It picks a fresh random sequence s0 and
// resets the reliable counter to (s0+1) mod 2^16 before sending, then blocks
// up to timeout (or the endpoint's configured handshake timeout if timeout
// is zero) waiting for the peer's ACK. ok is true only on a successful
// handshake; a timeout returns ok=false, ErrRegisterTimeout.
func (e *Endpoint) RegisterPeer(timeout time.Duration) (ok bool, err error) {
	peer := e.peer()
	if peer == nil {
		return false, ErrNoPeer
	}
	if timeout <= 0 {
		timeout = e.handshakeTimeout
	}
	s0 := uint16(rand.Intn(1 << 16))
	e.seqMu.Lock()
	e.nextReliableSeq = s0 + 1
	e.seqMu.Unlock()
	return e.handshake(peer, wire.ChannelRegister, inflight.KindRegistration, s0, timeout)
}

// deregisterPeer runs the sender-initiated deregistration handshake, used by
// Stop. It picks its own fresh random sequence independent of the reliable
// counter, per spec.md §4.5.
func (e *Endpoint) deregisterPeer(timeout time.Duration) (ok bool, err error) {
	peer := e.peer()
	if peer == nil {
		return false, ErrNoPeer
	}
	if timeout <= 0 {
		timeout = e.handshakeTimeout
	}
	seq := uint16(rand.Intn(1 << 16))
	ok, err = e.handshake(peer, wire.ChannelDeregister, inflight.KindDeregistration, seq, timeout)
	e.peers.Remove(peer.String())
	return ok, err
}

// handshake sends a register or deregister frame at seq to peer, inserts an
// in-flight entry tagged kind, and waits for the Retransmitter/Reader pair
// to resolve it via the entry's completion signal.
func (e *Endpoint) handshake(peer *net.UDPAddr, channel wire.Channel, kind inflight.Kind, seq uint16, timeout time.Duration) (bool, error) {
	ts := clock.NowMillis32(clock.Real{})
	frame := wire.EncodeData(wire.DataFrame{Channel: channel, Seq: seq, Timestamp: ts})

	done := make(chan inflight.Result, 1)
	entry := &inflight.Entry{
		Seq:       seq,
		Data:      frame,
		Dest:      peer,
		Kind:      kind,
		FirstSend: time.Now(),
		LastSend:  time.Now(),
		SkipAfter: timeout,
		Done:      done,
	}
	if err := e.inflight.Insert(entry); err != nil {
		return false, err
	}
	if err := e.sock.SendTo(frame, peer); err != nil {
		e.inflight.Remove(seq)
		return false, err
	}

	switch channel {
	case wire.ChannelRegister:
		e.counters.SentReg.Add(1)
	case wire.ChannelDeregister:
		e.counters.SentDereg.Add(1)
	}

	// The Retransmitter's Tick already retires the entry past SkipAfter and
	// signals Done(false); this backstop timer only guards against that
	// signal racing with Stop tearing the Retransmitter down mid-handshake,
	// so it runs through the same Manager rather than a bare time.After.
	backstopKey := timer.Key(fmt.Sprintf("handshake-backstop-%d", seq))
	e.timers.Schedule(backstopKey, timeout+inflight.RetxInterval, func() {
		e.inflight.Remove(seq)
		select {
		case done <- false:
		default:
		}
	})

	acked := <-done
	e.timers.StopTimer(backstopKey)
	if !acked {
		logging.Debug("handshake did not complete", zap.Uint16("seq", seq), zap.Stringer("channel", channel))
		return false, ErrRegisterTimeout
	}
	if channel == wire.ChannelRegister {
		if added := e.peers.Add(peer.String()); added {
			e.counters.Registrations.Add(1)
		}
	}
	return true, nil
}
