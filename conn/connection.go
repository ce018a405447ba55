package conn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/channel"
	"github.com/kestrelnet/kestrel/config"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// pingRTTAlpha is the EWMA weight given to the running average in the RTT
// update average_rtt = 0.7*avg + 0.3*sample, per spec.md §4.E.
const pingRTTAlpha = 0.7

// mtuProbeStep is how many bytes a successful MTU probe widens current_mtu
// by before the next probe is attempted.
const mtuProbeStep = 128

// Frame is one decoded wire frame ready for dispatch, produced by the peer
// scheduler's datagram parser.
type Frame struct {
	Header  wire.FrameHeader
	Payload *message.IncomingMessage
}

// StatusChange is raised to the user when a connection's Status changes,
// carrying the human-readable reason (if any) behind the transition.
type StatusChange struct {
	Status Status
	Reason string
}

// Connection implements the handshake/liveness state machine of spec.md
// §4.E and owns the per-channel sender/receiver state a live connection
// ticks every heartbeat.
type Connection struct {
	mu sync.Mutex

	RemoteAddr net.Addr
	status     Status

	cfg    *config.Config
	pool   *message.Pool
	logger *zap.Logger

	currentMTU       int
	remoteTimeOffset time.Duration
	averageRTT       time.Duration

	senders   map[wire.MessageType]channel.Sender
	receivers map[wire.MessageType]channel.Receiver
	acks      channel.AckQueue

	localUniqueID  int64
	remoteUniqueID int64
	localHail      []byte
	remoteHail     []byte

	connectRequested     bool
	disconnectRequested  bool
	lastHandshakeSend    time.Time
	handshakeAttempts    int
	pendingHandshakeType wire.MessageType

	pingID           uint8
	pingSentAt       map[uint8]time.Time
	lastPingSent     time.Time
	lastPacketRecv   time.Time
	mtuFailAttempts          int
	lastMTUProbeSent         time.Time
	mtuProbeAwaitingResponse bool

	disconnectReason string
	pendingStatus    []StatusChange

	// Library replies generated while handling Receive, flushed on the
	// next Tick rather than sent inline (Receive runs under the peer
	// scheduler's parse step, Tick under its send step).
	pendingEstablished      *message.OutgoingMessage
	pendingPong             *message.OutgoingMessage
	pendingMTUProbeResponse *message.OutgoingMessage
	pendingDisconnect       *message.OutgoingMessage
}

// New returns a Connection addressed at remote, in state None. Call
// RequestConnect to drive the local-initiated handshake, or Receive with
// an incoming Connect frame to drive the remote-initiated one.
func New(remote net.Addr, cfg *config.Config, pool *message.Pool, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		RemoteAddr: remote,
		status:     None,
		cfg:        cfg,
		pool:       pool,
		logger:     logger,
		currentMTU: cfg.MaximumTransmissionUnit,
		pingSentAt: make(map[uint8]time.Time),
	}
	c.senders, c.receivers = buildChannels(cfg, pool)
	return c
}

// Status reports the connection's current state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CurrentMTU reports the connection's current effective datagram budget.
func (c *Connection) CurrentMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentMTU
}

// AverageRTT reports the EWMA round-trip-time estimate.
func (c *Connection) AverageRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.averageRTT
}

func (c *Connection) setStatus(s Status, reason string) {
	c.status = s
	c.pendingStatus = append(c.pendingStatus, StatusChange{Status: s, Reason: reason})
	c.logger.Debug("connection status changed", zap.Stringer("remote", logAddr{c.RemoteAddr}), zap.Stringer("status", s), zap.String("reason", reason))
}

type logAddr struct{ net.Addr }

func (a logAddr) String() string {
	if a.Addr == nil {
		return "<nil>"
	}
	return a.Addr.String()
}

// DrainStatusChanges returns and clears the StatusChange events raised
// since the last call, for the peer scheduler to forward as
// IncomingMessages of KindStatusChanged.
func (c *Connection) DrainStatusChanges() []StatusChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pendingStatus
	c.pendingStatus = nil
	return out
}

// RequestConnect begins the local-initiated handshake on the next Tick.
func (c *Connection) RequestConnect(localUniqueID int64, appIdentifier string, hail []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectRequested = true
	c.localUniqueID = localUniqueID
	c.localHail = hail
	_ = appIdentifier // stored via cfg.AppIdentifier at encode time
}

// RequestDisconnect begins a graceful local disconnect on the next Tick.
func (c *Connection) RequestDisconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectRequested = true
	c.disconnectReason = reason
}

// Approve admits a connection parked in RespondedAwaitingApproval.
func (c *Connection) Approve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == RespondedAwaitingApproval {
		c.status = RespondedConnect
		c.lastHandshakeSend = time.Time{} // force an immediate send next Tick
	}
}

// Deny rejects a connection parked in RespondedAwaitingApproval.
func (c *Connection) Deny(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == RespondedAwaitingApproval {
		c.setStatus(Disconnected, reason)
	}
}

// Enqueue hands an outbound user message to the channel for its message
// type, returning channel.ErrDropped if the channel's backlog is full.
func (c *Connection) Enqueue(msg *message.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Connected {
		return ErrNotConnected
	}
	s, ok := c.senders[msg.MessageType]
	if !ok {
		return fmt.Errorf("conn: no sender channel for message type %d", msg.MessageType)
	}
	return s.Enqueue(msg)
}

// OutboundFrame is one frame the peer scheduler should pack into a
// datagram this tick.
type OutboundFrame struct {
	Type        wire.MessageType
	Seq         uint16
	IsFragment  bool
	Payload     *message.OutgoingMessage
	IsHandshake bool
}

// Tick drives the handshake, ping/RTT, MTU probe, and all channel timers,
// appending every frame that should be sent this tick to out.
func (c *Connection) Tick(now time.Time, out *[]OutboundFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.status == None && c.connectRequested:
		c.sendConnect(now, out)
	case c.status.handshaking():
		c.tickHandshakeRetransmit(now, out)
	case c.status == Connected:
		c.tickConnected(now, out)
	}

	if c.pendingEstablished != nil {
		*out = append(*out, OutboundFrame{Type: wire.ConnectionEstablished, Payload: c.pendingEstablished, IsHandshake: true})
		c.pendingEstablished = nil
	}
	if c.pendingPong != nil {
		*out = append(*out, OutboundFrame{Type: wire.Pong, Payload: c.pendingPong})
		c.pendingPong = nil
	}
	if c.pendingMTUProbeResponse != nil {
		*out = append(*out, OutboundFrame{Type: wire.MTUProbeResponse, Payload: c.pendingMTUProbeResponse})
		c.pendingMTUProbeResponse = nil
	}
	if c.pendingDisconnect != nil {
		*out = append(*out, OutboundFrame{Type: wire.Disconnect, Payload: c.pendingDisconnect, IsHandshake: true})
		c.pendingDisconnect = nil
	}

	if c.disconnectRequested && c.status != Disconnecting && c.status != Disconnected {
		c.beginDisconnect(now, out)
	}
}

func (c *Connection) sendConnect(now time.Time, out *[]OutboundFrame) {
	msg := c.pool.GetOutgoing(wire.Connect)
	encodeHandshake(msg.Buffer, handshakePayload{
		AppIdentifier: c.cfg.AppIdentifier,
		UniqueID:      c.localUniqueID,
		SentAt:        now,
		Hail:          c.localHail,
	})
	*out = append(*out, OutboundFrame{Type: wire.Connect, Payload: msg, IsHandshake: true})
	c.pendingHandshakeType = wire.Connect
	c.lastHandshakeSend = now
	c.handshakeAttempts = 1
	c.setStatus(InitiatedConnect, "")
}

func (c *Connection) tickHandshakeRetransmit(now time.Time, out *[]OutboundFrame) {
	if c.lastHandshakeSend.IsZero() {
		c.resendHandshake(now, out)
		return
	}
	if now.Sub(c.lastHandshakeSend) < c.cfg.ResendHandshakeInterval {
		return
	}
	if c.handshakeAttempts >= c.cfg.MaximumHandshakeAttempts {
		c.setStatus(Disconnected, ErrHandshakeFailed.Error())
		return
	}
	c.resendHandshake(now, out)
}

func (c *Connection) resendHandshake(now time.Time, out *[]OutboundFrame) {
	var msg *message.OutgoingMessage
	switch c.pendingHandshakeType {
	case wire.Connect:
		msg = c.pool.GetOutgoing(wire.Connect)
		encodeHandshake(msg.Buffer, handshakePayload{AppIdentifier: c.cfg.AppIdentifier, UniqueID: c.localUniqueID, SentAt: now, Hail: c.localHail})
	case wire.ConnectResponse:
		msg = c.pool.GetOutgoing(wire.ConnectResponse)
		encodeHandshake(msg.Buffer, handshakePayload{AppIdentifier: c.cfg.AppIdentifier, UniqueID: c.localUniqueID, SentAt: now, Hail: c.localHail})
	default:
		return
	}
	*out = append(*out, OutboundFrame{Type: c.pendingHandshakeType, Payload: msg, IsHandshake: true})
	c.lastHandshakeSend = now
	c.handshakeAttempts++
}

func (c *Connection) tickConnected(now time.Time, out *[]OutboundFrame) {
	if c.lastPacketRecv.IsZero() {
		c.lastPacketRecv = now
	}
	if now.Sub(c.lastPacketRecv) > c.cfg.ConnectionTimeout {
		c.setStatus(Disconnected, ErrTimeout.Error())
		return
	}

	if c.lastPingSent.IsZero() || now.Sub(c.lastPingSent) >= c.cfg.PingInterval {
		c.sendPing(now, out)
	}

	if c.cfg.AutoExpandMTU {
		c.tickMTUProbe(now, out)
	}

	for t, s := range c.senders {
		s.Tick(now, c.averageRTT, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) {
			*out = append(*out, OutboundFrame{Type: t, Seq: seq, IsFragment: msg.IsFragment(), Payload: msg})
		})
	}

	if ack := c.acks.Flush(c.pool, (c.currentMTU-wire.FrameHeaderSize)*8); ack != nil {
		*out = append(*out, OutboundFrame{Type: wire.Acknowledge, Payload: ack})
	}
}

func (c *Connection) sendPing(now time.Time, out *[]OutboundFrame) {
	id := c.pingID
	c.pingID++
	c.pingSentAt[id] = now
	c.lastPingSent = now

	msg := c.pool.GetOutgoing(wire.Ping)
	msg.Buffer.WriteU8(id)
	*out = append(*out, OutboundFrame{Type: wire.Ping, Payload: msg})
}

func (c *Connection) tickMTUProbe(now time.Time, out *[]OutboundFrame) {
	if c.mtuFailAttempts >= c.cfg.ExpandMTUFailAttempts {
		return
	}
	if !c.lastMTUProbeSent.IsZero() {
		if now.Sub(c.lastMTUProbeSent) < c.cfg.ExpandMTUFrequency {
			return
		}
		if c.mtuProbeAwaitingResponse {
			// Previous probe went unanswered within one full expand_mtu_frequency
			// window; count it as a failed don't-fragment probe.
			c.mtuFailAttempts++
			if c.mtuFailAttempts >= c.cfg.ExpandMTUFailAttempts {
				return
			}
		}
	}
	c.lastMTUProbeSent = now
	c.mtuProbeAwaitingResponse = true
	msg := c.pool.GetOutgoing(wire.MTUProbe)
	msg.Buffer.WriteU32(uint32(c.currentMTU + mtuProbeStep))
	*out = append(*out, OutboundFrame{Type: wire.MTUProbe, Payload: msg})
}

func (c *Connection) beginDisconnect(now time.Time, out *[]OutboundFrame) {
	msg := c.pool.GetOutgoing(wire.Disconnect)
	encodeDisconnect(msg.Buffer, c.disconnectReason)
	*out = append(*out, OutboundFrame{Type: wire.Disconnect, Payload: msg, IsHandshake: true})
	c.setStatus(Disconnecting, c.disconnectReason)
	c.setStatus(Disconnected, c.disconnectReason)
}

// markReceived records that a packet arrived, for the connection_timeout
// liveness check.
func (c *Connection) markReceived(now time.Time) {
	c.lastPacketRecv = now
}
