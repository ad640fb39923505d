package endpoint

import (
	"context"
	"net"
	"time"

	"github.com/appnet-org/hudp/pkg/logging"
	"github.com/appnet-org/hudp/pkg/wire"
	"go.uber.org/zap"
)

// runReader is the Reader task: it blocks on the socket with a bounded
// timeout so it can observe ctx cancellation between reads, per spec.md §5.
func (e *Endpoint) runReader(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, ok, err := e.sock.ReceiveFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("reader receive error", zap.Error(err))
			continue
		}
		if !ok {
			continue // read timeout, loop to re-check ctx
		}
		e.handleDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

// handleDatagram dispatches one received datagram per spec.md §4.4. If no
// peer address was configured at construction or via SetPeer, the sender of
// the first datagram received is adopted as the default outbound peer,
// mirroring the original's unconditional `if self.peer_addr is None:
// self.peer_addr = addr` at the top of its receive loop.
func (e *Endpoint) handleDatagram(b []byte, addr *net.UDPAddr) {
	e.adoptPeerIfUnset(addr)

	if wire.IsAck(b) {
		ack, err := wire.DecodeAck(b)
		if err != nil {
			e.counters.InvalidPackets.Add(1)
			return
		}
		e.inflight.MarkAcked(ack.Seq, time.Now())
		return
	}

	df, err := wire.DecodeData(b)
	if err != nil {
		e.counters.InvalidPackets.Add(1)
		logging.Debug("dropping malformed datagram", zap.Error(err), zap.Stringer("from", addr))
		return
	}

	switch df.Channel {
	case wire.ChannelRegister:
		e.handleRegister(df, addr)
	case wire.ChannelDeregister:
		e.handleDeregister(df, addr)
	case wire.ChannelUnreliable:
		e.counters.RecvUnreliable.Add(1)
		e.invokeOnReceive(wire.ChannelUnreliable, df.Seq, df.Timestamp, df.Payload)
	case wire.ChannelReliable:
		e.handleReliable(df, addr)
	default:
		e.counters.InvalidPackets.Add(1)
	}
}

func (e *Endpoint) handleReliable(df wire.DataFrame, addr *net.UDPAddr) {
	key := addr.String()
	if !e.peers.Contains(key) {
		logging.Debug("dropping reliable frame from unregistered peer", zap.Stringer("from", addr), zap.Uint16("seq", df.Seq))
		return
	}

	e.sendAck(df.Seq, df.Timestamp, addr)
	e.sessions.HandleReliable(key, df.Seq, df.Timestamp, df.Payload, time.Now(), e.skipThreshold, e.counters,
		func(seq uint16, ts uint32, payload []byte) {
			e.invokeOnReceive(wire.ChannelReliable, seq, ts, payload)
		})
}

func (e *Endpoint) handleRegister(df wire.DataFrame, addr *net.UDPAddr) {
	key := addr.String()
	e.sessions.EnsureForRegister(key, df.Seq, time.Now())
	if added := e.peers.Add(key); added {
		e.counters.Registrations.Add(1)
	}
	e.counters.RecvReg.Add(1)
	e.sendAck(df.Seq, df.Timestamp, addr)
	logging.Debug("processed register", zap.Stringer("from", addr), zap.Uint16("seq", df.Seq))
}

func (e *Endpoint) handleDeregister(df wire.DataFrame, addr *net.UDPAddr) {
	key := addr.String()
	e.sessions.Remove(key)
	e.peers.Remove(key)
	e.sendAck(df.Seq, df.Timestamp, addr)
	logging.Debug("processed deregister", zap.Stringer("from", addr), zap.Uint16("seq", df.Seq))
}

func (e *Endpoint) sendAck(seq uint16, senderTS uint32, addr *net.UDPAddr) {
	ack := wire.EncodeAck(wire.AckFrame{Seq: seq, Timestamp: senderTS})
	if err := e.sock.SendTo(ack, addr); err != nil {
		logging.Warn("failed to send ack", zap.Error(err), zap.Stringer("to", addr))
	}
}

func (e *Endpoint) invokeOnReceive(channel wire.Channel, seq uint16, senderTS uint32, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("receive callback panicked", zap.Any("panic", r), zap.Stringer("channel", channel))
		}
	}()
	if e.onReceive != nil {
		e.onReceive(channel, seq, senderTS, payload)
	}
}
