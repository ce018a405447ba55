// Package peer implements the single network-thread scheduler that owns
// the UDP socket, the connection table, and every connected connection's
// channel state, per spec.md §4.F: one goroutine ticks handshakes and
// reliability channels, polls the socket, and dispatches parsed frames;
// user goroutines only enqueue sends and drain inbound messages.
package peer

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/channel"
	"github.com/kestrelnet/kestrel/config"
	"github.com/kestrelnet/kestrel/conn"
	"github.com/kestrelnet/kestrel/crypto"
	"github.com/kestrelnet/kestrel/discovery"
	"github.com/kestrelnet/kestrel/fragment"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// ErrNotStarted is returned by operations that require Start to have run.
var ErrNotStarted = errors.New("peer: not started")

// ErrAlreadyStarted is returned by Start called twice.
var ErrAlreadyStarted = errors.New("peer: already started")

// ErrNoSuchConnection is returned by Send for an address with no tracked
// connection.
var ErrNoSuchConnection = errors.New("peer: no connection for address")

// ErrConnectionLimitReached is returned by Connect once maximum_connections
// is reached. An incoming Connect past the limit is ignored without an error.
var ErrConnectionLimitReached = errors.New("peer: maximum_connections reached")

// trackedConn pairs a live Connection with the stable numeric id attached
// to every IncomingMessage it produces (message.IncomingMessage.SenderConnection).
type trackedConn struct {
	id   uint64
	addr *net.UDPAddr
	conn *conn.Connection
}

// delayedDatagram is one send held back by the loss/latency/duplicate
// simulation knobs of spec.md §6 until its deadline passes.
type delayedDatagram struct {
	addr   *net.UDPAddr
	data   []byte
	sendAt time.Time
}

// Peer is the scheduler: one instance owns exactly one UDP socket and the
// connections addressed through it.
type Peer struct {
	cfg    *config.Config
	pool   *message.Pool
	logger *zap.Logger

	fragmenter  *fragment.Fragmenter
	reassembler *fragment.Reassembler
	discovery   discovery.Queue
	encryptor   crypto.Encryptor

	sock    socket
	udpConn *net.UDPConn

	conns      sync.Map // string(addr) -> *trackedConn
	numConns   atomic.Int32
	nextConnID atomic.Uint64

	inbound chan *message.IncomingMessage

	started  atomic.Bool
	shutdown atomic.Bool

	delayedMu sync.Mutex
	delayed   []delayedDatagram

	rngMu sync.Mutex
	rng   *randSource

	loopDone chan struct{}
}

// New returns a Peer bound to no socket yet; call Start to bind and begin
// the scheduler loop.
func New(cfg *config.Config, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Peer{
		cfg:         cfg,
		pool:        message.NewPool(),
		logger:      logger,
		fragmenter:  &fragment.Fragmenter{},
		reassembler: fragment.NewReassembler(cfg.FragmentReassemblyTTL),
		inbound:     make(chan *message.IncomingMessage, 256),
		loopDone:    make(chan struct{}),
		rng:         newRandSource(1),
	}
	return p
}

// SetEncryptor installs the pluggable per-datagram encryption hook of
// spec.md §4.H. Must be called before Start.
func (p *Peer) SetEncryptor(e crypto.Encryptor) { p.encryptor = e }

// Start validates and locks the configuration, binds the UDP socket, and
// launches the scheduler goroutine.
func (p *Peer) Start(opts SocketOptions) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Lock()

	udpConn, err := bindSocket(p.cfg, opts)
	if err != nil {
		p.started.Store(false)
		return fmt.Errorf("peer: bind socket: %w", err)
	}
	p.udpConn = udpConn
	p.sock = udpConn

	p.logger.Info("peer started",
		zap.String("local_addr", udpConn.LocalAddr().String()),
		zap.String("app_identifier", p.cfg.AppIdentifier),
		zap.Int("mtu", p.cfg.MaximumTransmissionUnit),
	)

	go p.heartbeatLoop()
	return nil
}

// LocalAddr reports the bound socket address; nil before Start.
func (p *Peer) LocalAddr() net.Addr {
	if p.udpConn == nil {
		return nil
	}
	return p.udpConn.LocalAddr()
}

func (p *Peer) connKey(addr *net.UDPAddr) string { return addr.String() }

func (p *Peer) lookup(addr *net.UDPAddr) (*trackedConn, bool) {
	v, ok := p.conns.Load(p.connKey(addr))
	if !ok {
		return nil, false
	}
	return v.(*trackedConn), true
}

func (p *Peer) track(addr *net.UDPAddr, c *conn.Connection) *trackedConn {
	tc := &trackedConn{id: p.nextConnID.Add(1), addr: addr, conn: c}
	p.conns.Store(p.connKey(addr), tc)
	p.numConns.Add(1)
	return tc
}

func (p *Peer) untrack(addr *net.UDPAddr) {
	if _, ok := p.conns.LoadAndDelete(p.connKey(addr)); ok {
		p.numConns.Add(-1)
	}
}

// Connect begins a local-initiated handshake to remote, per spec.md §4.E's
// None --request_connect--> InitiatedConnect transition. The returned
// Connection reaches Connected asynchronously; watch ReadMessage for a
// KindStatusChanged event, or poll Connection.Status.
func (p *Peer) Connect(remote *net.UDPAddr, localUniqueID int64, hail []byte) (*conn.Connection, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}
	if int(p.numConns.Load()) >= p.cfg.MaximumConnections {
		return nil, ErrConnectionLimitReached
	}
	if tc, ok := p.lookup(remote); ok {
		return tc.conn, nil
	}
	c := conn.New(remote, p.cfg, p.pool, p.logger)
	p.track(remote, c)
	c.RequestConnect(localUniqueID, p.cfg.AppIdentifier, hail)
	return c, nil
}

// Lookup returns the tracked Connection for addr, if any.
func (p *Peer) Lookup(addr *net.UDPAddr) (*conn.Connection, bool) {
	tc, ok := p.lookup(addr)
	if !ok {
		return nil, false
	}
	return tc.conn, true
}

// Send hands msg to the channel matching its message type on the
// connection addressed to target, transparently fragmenting it first if it
// exceeds the connection's current MTU.
func (p *Peer) Send(target *net.UDPAddr, msg *message.OutgoingMessage) error {
	tc, ok := p.lookup(target)
	if !ok {
		msg.Release()
		return ErrNoSuchConnection
	}
	return p.sendToConn(tc, msg)
}

func (p *Peer) sendToConn(tc *trackedConn, msg *message.OutgoingMessage) error {
	method, _, ok := wire.Classify(msg.MessageType)
	if !ok {
		msg.Release()
		return fmt.Errorf("peer: message type %d is not a user data channel", msg.MessageType)
	}

	mtu := tc.conn.CurrentMTU()
	budgetBits := (mtu - wire.FrameHeaderSize) * 8
	if msg.Buffer.BitLength() <= budgetBits {
		return tc.conn.Enqueue(msg)
	}

	if method == wire.MethodUnreliable || method == wire.MethodUnreliableSequenced {
		switch p.cfg.UnreliableSizeBehaviour {
		case config.DropAboveMTU:
			msg.Release()
			return channel.ErrDropped
		case config.IgnoreMTU:
			return tc.conn.Enqueue(msg)
		}
	}

	payload := append([]byte(nil), msg.Buffer.Bytes()...)
	bitLength := msg.Buffer.BitLength()
	msgType := msg.MessageType
	msg.Release()

	chunks, err := p.fragmenter.Split(p.pool, payload, bitLength, msgType, mtu)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := tc.conn.Enqueue(chunk); err != nil {
			return err
		}
	}
	return nil
}

// SendUnconnected queues msg for a single-datagram send to addr with no
// associated connection, per spec.md §4.G.
func (p *Peer) SendUnconnected(addr *net.UDPAddr, msg *message.OutgoingMessage) {
	p.discovery.Send(addr, msg)
}

// NewOutgoing returns a pooled OutgoingMessage ready for the caller to
// write into and pass to Send.
func (p *Peer) NewOutgoing(t wire.MessageType) *message.OutgoingMessage {
	return p.pool.GetOutgoing(t)
}

// ReadMessage blocks until an inbound message is available or timeout
// elapses (timeout <= 0 blocks indefinitely), per spec.md §4.F's
// reset-event-backed reader wake.
func (p *Peer) ReadMessage(timeout time.Duration) (*message.IncomingMessage, error) {
	if timeout <= 0 {
		msg, ok := <-p.inbound
		if !ok {
			return nil, ErrNotStarted
		}
		return msg, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-p.inbound:
		if !ok {
			return nil, ErrNotStarted
		}
		return msg, nil
	case <-timer.C:
		return nil, nil
	}
}

func (p *Peer) pushInbound(msg *message.IncomingMessage) {
	if p.cfg.DisabledMessageTypes&(1<<uint(msg.Kind)) != 0 {
		return
	}
	select {
	case p.inbound <- msg:
	default:
		p.logger.Warn("inbound queue full, dropping message", zap.Int("kind", int(msg.Kind)))
	}
}

// Shutdown requests a graceful close: every tracked connection sends a
// final Disconnect(reason), the scheduler goroutine exits, and the socket
// closes. The returned error is the socket close error, if any, collected
// with multierr; RequestDisconnect reports no per-connection errors.
func (p *Peer) Shutdown(reason string) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	if p.shutdown.Load() {
		return nil
	}

	var errs error
	p.conns.Range(func(_, v any) bool {
		tc := v.(*trackedConn)
		tc.conn.RequestDisconnect(reason)
		return true
	})

	p.shutdown.Store(true)
	<-p.loopDone

	if p.udpConn != nil {
		if err := p.udpConn.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	close(p.inbound)
	return errs
}
