// Package endpoint wires the wire codec, the sender's in-flight table, the
// receiver's per-peer sessions, and the registration handshake into the
// single public object an application talks to: bind, register, send,
// receive, stop.
package endpoint

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/appnet-org/hudp/pkg/clock"
	"github.com/appnet-org/hudp/pkg/inflight"
	"github.com/appnet-org/hudp/pkg/logging"
	"github.com/appnet-org/hudp/pkg/metrics"
	"github.com/appnet-org/hudp/pkg/peerset"
	"github.com/appnet-org/hudp/pkg/session"
	"github.com/appnet-org/hudp/pkg/socket"
	"github.com/appnet-org/hudp/pkg/timer"
	"github.com/appnet-org/hudp/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults mirror spec.md §6's protocol-observable constants.
const (
	DefaultSkipThreshold    = 200 * time.Millisecond
	DefaultMaxBuffered      = 1024
	DefaultHandshakeTimeout = 5 * time.Second

	maxDatagramSize = 64 * 1024
)

var (
	// ErrNoPeer is returned when an operation needs a configured peer
	// address and none has been set yet (via New, SetPeer, or adoption of
	// the first datagram's sender).
	ErrNoPeer = errors.New("hudp: no peer address configured")
	// ErrNotRegistered is returned by Send when a reliable send is
	// attempted before the configured peer has completed registration.
	ErrNotRegistered = errors.New("hudp: peer not registered")
	// ErrRegisterTimeout is returned when a registration or
	// deregistration handshake does not complete within its timeout.
	ErrRegisterTimeout = errors.New("hudp: handshake timed out")
	// ErrClosed names the stopped state. No operation in this package
	// returns it: after Stop, Send and RegisterPeer report the closed
	// socket's own error instead.
	ErrClosed = errors.New("hudp: endpoint stopped")
)

// OnReceive is invoked synchronously from the Reader for every delivered
// payload, reliable or unreliable. It must not block indefinitely; a panic
// is recovered and logged, never propagated.
type OnReceive func(channel wire.Channel, seq uint16, senderTS uint32, payload []byte)

// Option customises an Endpoint beyond New's defaults.
type Option func(*Endpoint)

// WithSkipThreshold overrides the receiver skip deadline and the sender's
// default reliable-entry skip threshold (default 200ms).
func WithSkipThreshold(d time.Duration) Option {
	return func(e *Endpoint) { e.skipThreshold = d }
}

// WithMaxBuffered overrides the per-peer reorder buffer bound (default 1024).
func WithMaxBuffered(n int) Option {
	return func(e *Endpoint) { e.maxBuffered = n }
}

// WithHandshakeTimeout overrides the default register/deregister wait
// (default 5s).
func WithHandshakeTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.handshakeTimeout = d }
}

// WithRTTObserver installs a hook invoked with the measured round-trip time
// every time an in-flight reliable, REGISTER, or DEREGISTER entry is
// acknowledged. It is purely for the embedding application's own
// instrumentation and never gates protocol behavior.
func WithRTTObserver(fn inflight.RTTObserver) Option {
	return func(e *Endpoint) { e.rttObserver = fn }
}

// Endpoint is one peer-to-peer transport instance bound to a single local
// datagram address, optionally paired with one outbound peer address.
type Endpoint struct {
	sock      *socket.Socket
	onReceive OnReceive

	peerMu   sync.RWMutex
	peerAddr *net.UDPAddr

	skipThreshold    time.Duration
	maxBuffered      int
	handshakeTimeout time.Duration
	rttObserver      inflight.RTTObserver

	seqMu             sync.Mutex
	nextReliableSeq   uint16
	nextUnreliableSeq uint16

	inflight *inflight.Table
	sessions *session.Table
	peers    *peerset.Set
	counters *metrics.Counters
	timers   *timer.Manager

	cancel context.CancelFunc
	eg     *errgroup.Group

	stopOnce sync.Once
}

// New binds a UDP socket at localAddr, starts the Reader and Retransmitter,
// and returns a ready-to-use Endpoint. peerAddr may be empty, in which case
// the endpoint can still receive and reply to ACKs but Send always fails
// with ErrNoPeer.
func New(localAddr, peerAddr string, onReceive OnReceive, opts ...Option) (*Endpoint, error) {
	sock, err := socket.Bind(localAddr)
	if err != nil {
		return nil, err
	}

	var resolvedPeer *net.UDPAddr
	if peerAddr != "" {
		resolvedPeer, err = socket.ResolveUDPAddr(peerAddr)
		if err != nil {
			_ = sock.Close()
			return nil, err
		}
	}

	e := &Endpoint{
		sock:              sock,
		peerAddr:          resolvedPeer,
		onReceive:         onReceive,
		skipThreshold:     DefaultSkipThreshold,
		maxBuffered:       DefaultMaxBuffered,
		handshakeTimeout:  DefaultHandshakeTimeout,
		nextUnreliableSeq: 0,
		counters:          &metrics.Counters{},
		peers:             peerset.New(),
		timers:            timer.NewManager(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.nextReliableSeq = uint16(rand.Intn(1 << 16))
	e.inflight = inflight.New(sock, e.counters, e.skipThreshold)
	e.inflight.SetRTTObserver(e.rttObserver)
	e.sessions = session.NewTable(e.maxBuffered)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	e.eg = eg
	eg.Go(func() error { return e.runReader(egCtx) })
	e.startRetransmitter()

	logging.Info("endpoint started", zap.Stringer("local", sock.LocalAddr()))
	return e, nil
}

// Metrics returns an immutable snapshot of the endpoint's counters.
func (e *Endpoint) Metrics() metrics.Snapshot {
	return e.counters.Snapshot()
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.sock.LocalAddr()
}

// SetPeer (re)configures the single outbound peer address after New,
// supporting the late-binding pattern the original implementation allows:
// an endpoint may be constructed before its counterpart's address is known
// and pointed at it once discovered.
func (e *Endpoint) SetPeer(addr string) error {
	resolved, err := socket.ResolveUDPAddr(addr)
	if err != nil {
		return err
	}
	e.peerMu.Lock()
	e.peerAddr = resolved
	e.peerMu.Unlock()
	return nil
}

func (e *Endpoint) peer() *net.UDPAddr {
	e.peerMu.RLock()
	defer e.peerMu.RUnlock()
	return e.peerAddr
}

// adoptPeerIfUnset adopts addr as the outbound peer the first time a
// datagram arrives from anywhere while no peer is configured, so an endpoint
// started without a known counterpart address can still reply.
func (e *Endpoint) adoptPeerIfUnset(addr *net.UDPAddr) {
	e.peerMu.Lock()
	if e.peerAddr == nil {
		e.peerAddr = addr
	}
	e.peerMu.Unlock()
}

// PrometheusCollector returns a prometheus.Collector over this endpoint's
// counters, tagged with its local address, so a host process can register it
// with its own registry alongside the in-process Metrics snapshot.
func (e *Endpoint) PrometheusCollector() *metrics.Collector {
	return metrics.NewCollector(e.counters, prometheus.Labels{"local_addr": e.sock.LocalAddr().String()})
}

// DebugNextReliableSeq returns the next reliable-channel sequence number
// that will be assigned by Send. It exists only so tests can observe and
// force wraparound without reaching into unexported fields; it is not part
// of the protocol surface.
func (e *Endpoint) DebugNextReliableSeq() uint16 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.nextReliableSeq
}

// DebugSetNextReliableSeq forces the next reliable-channel sequence number,
// for tests exercising wraparound. Not part of the protocol surface.
func (e *Endpoint) DebugSetNextReliableSeq(seq uint16) {
	e.seqMu.Lock()
	e.nextReliableSeq = seq
	e.seqMu.Unlock()
}

// Send transmits payload on the reliable or unreliable channel to the
// configured peer. Reliable sends before registration completes fail with
// ErrNotRegistered; any send without a configured peer fails with ErrNoPeer.
func (e *Endpoint) Send(payload []byte, reliable bool) (seq uint16, timestamp uint32, err error) {
	peer := e.peer()
	if peer == nil {
		return 0, 0, ErrNoPeer
	}
	if reliable && !e.peers.Contains(peer.String()) {
		return 0, 0, ErrNotRegistered
	}

	channel := wire.ChannelUnreliable
	if reliable {
		channel = wire.ChannelReliable
	}
	seq = e.nextSeq(reliable)
	timestamp = clock.NowMillis32(clock.Real{})
	frame := wire.EncodeData(wire.DataFrame{Channel: channel, Seq: seq, Timestamp: timestamp, Payload: payload})

	if reliable {
		entry := &inflight.Entry{
			Seq:       seq,
			Data:      frame,
			Dest:      peer,
			Kind:      inflight.KindNormal,
			FirstSend: time.Now(),
			LastSend:  time.Now(),
			SkipAfter: e.inflight.SkipThreshold(),
		}
		if err := e.inflight.Insert(entry); err != nil {
			return 0, 0, err
		}
	}

	if err := e.sock.SendTo(frame, peer); err != nil {
		if reliable {
			e.inflight.Remove(seq)
		}
		return 0, 0, err
	}

	if reliable {
		e.counters.SentReliable.Add(1)
	} else {
		e.counters.SentUnreliable.Add(1)
	}
	return seq, timestamp, nil
}

func (e *Endpoint) nextSeq(reliable bool) uint16 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	if reliable {
		s := e.nextReliableSeq
		e.nextReliableSeq++
		return s
	}
	s := e.nextUnreliableSeq
	e.nextUnreliableSeq++
	return s
}

// Stop gracefully shuts down the endpoint: it best-effort deregisters from
// the configured peer if registered, stops the Reader and Retransmitter,
// closes the socket, and clears registered-peer and session state. Safe to
// call more than once.
func (e *Endpoint) Stop() error {
	var stopErr error
	e.stopOnce.Do(func() {
		if peer := e.peer(); peer != nil && e.peers.Contains(peer.String()) {
			if _, err := e.deregisterPeer(e.handshakeTimeout); err != nil {
				logging.Warn("deregister handshake did not complete cleanly", zap.Error(err))
			}
		}

		e.cancel()
		e.timers.Stop()

		done := make(chan struct{})
		go func() { _ = e.eg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
			logging.Warn("reader did not exit within shutdown grace period")
		}

		stopErr = e.sock.Close()
		e.peers.Clear()
		e.sessions.Clear()
		logging.Info("endpoint stopped")
		logging.Sync()
	})
	return stopErr
}
