package conn

import (
	"time"

	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// Receive applies one parsed frame to the connection: library messages
// drive the handshake/ping/ack state machine directly, user data frames
// are routed through the matching channel's dedup/reorder logic. Released
// user messages (possibly several, for an ordered channel releasing
// withheld ones) are returned for the peer scheduler to forward to the
// user's inbound queue.
func (c *Connection) Receive(now time.Time, hdr wire.FrameHeader, payload *message.IncomingMessage) []*message.IncomingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markReceived(now)

	if wire.IsLibrary(hdr.MessageType) {
		c.receiveLibrary(now, hdr.MessageType, payload)
		return nil
	}

	r, ok := c.receivers[hdr.MessageType]
	if !ok {
		c.logger.Warn("received frame for unknown message type", zap.Uint8("type", uint8(hdr.MessageType)))
		return nil
	}
	c.acks.Queue(hdr.MessageType, hdr.Sequence)
	payload.SequenceNumber = hdr.Sequence
	payload.BaseMessageType = hdr.MessageType
	return r.Receive(hdr.Sequence, payload)
}

func (c *Connection) receiveLibrary(now time.Time, t wire.MessageType, payload *message.IncomingMessage) {
	switch t {
	case wire.Connect:
		c.onConnect(now, payload)
	case wire.ConnectResponse:
		c.onConnectResponse(now, payload)
	case wire.ConnectionEstablished:
		c.onConnectionEstablished(now, payload)
	case wire.Disconnect:
		c.onDisconnect(payload)
	case wire.Ping:
		c.onPing(now, payload)
	case wire.Pong:
		c.onPong(now, payload)
	case wire.Acknowledge:
		c.onAcknowledge(payload)
	case wire.MTUProbe:
		c.onMTUProbe(now, payload)
	case wire.MTUProbeResponse:
		c.onMTUProbeResponse(payload)
	default:
		c.logger.Debug("unhandled library message", zap.Uint8("type", uint8(t)))
	}
}

// onConnect handles a remote-initiated handshake: spec.md's
// ReceivedInitiation entry, immediately resolved to RespondedConnect,
// RespondedAwaitingApproval, or Disconnected on app identifier mismatch.
func (c *Connection) onConnect(now time.Time, payload *message.IncomingMessage) {
	if c.status != None {
		return
	}
	c.setStatus(ReceivedInitiation, "")

	p, err := decodeHandshake(payload.Buffer)
	if err != nil {
		c.failHandshake(ErrHandshakeValidationFailed.Error())
		return
	}
	if p.AppIdentifier != c.cfg.AppIdentifier {
		c.failHandshake("Wrong application identifier!")
		return
	}

	c.remoteUniqueID = p.UniqueID
	c.remoteHail = p.Hail
	c.remoteTimeOffset = now.Sub(p.SentAt)

	c.pendingHandshakeType = wire.ConnectResponse
	if c.cfg.RequireConnectionApproval {
		c.setStatus(RespondedAwaitingApproval, "")
		return
	}
	c.setStatus(RespondedConnect, "")
	c.lastHandshakeSend = time.Time{}
}

func (c *Connection) failHandshake(reason string) {
	c.disconnectReason = reason
	msg := c.pool.GetOutgoing(wire.Disconnect)
	encodeDisconnect(msg.Buffer, reason)
	c.pendingDisconnect = msg
	c.setStatus(Disconnected, reason)
}

// onConnectResponse handles the client side: spec.md's
// "InitiatedConnect -- recv ConnectResponse --> Connected", sending
// ConnectionEstablished and transitioning directly.
func (c *Connection) onConnectResponse(now time.Time, payload *message.IncomingMessage) {
	if c.status != InitiatedConnect {
		return
	}
	p, err := decodeHandshake(payload.Buffer)
	if err != nil {
		c.failHandshake(ErrHandshakeValidationFailed.Error())
		return
	}
	if p.AppIdentifier != c.cfg.AppIdentifier {
		c.failHandshake("Wrong application identifier!")
		return
	}
	c.remoteUniqueID = p.UniqueID
	c.remoteHail = p.Hail
	c.remoteTimeOffset = now.Sub(p.SentAt)

	msg := c.pool.GetOutgoing(wire.ConnectionEstablished)
	encodeConnectionEstablished(msg.Buffer, now)
	c.pendingEstablished = msg
	c.setStatus(Connected, "")
	c.lastPacketRecv = now
}

// onConnectionEstablished handles the server side:
// "RespondedConnect -- recv ConnectionEstablished --> Connected".
func (c *Connection) onConnectionEstablished(now time.Time, payload *message.IncomingMessage) {
	if c.status != RespondedConnect {
		return
	}
	remoteNow, err := decodeConnectionEstablished(payload.Buffer)
	if err != nil {
		c.failHandshake(ErrHandshakeValidationFailed.Error())
		return
	}
	c.remoteTimeOffset = now.Sub(remoteNow)
	c.setStatus(Connected, "")
	c.lastPacketRecv = now
}

func (c *Connection) onDisconnect(payload *message.IncomingMessage) {
	reason, _ := decodeDisconnect(payload.Buffer)
	c.setStatus(Disconnected, reason)
}

func (c *Connection) onPing(now time.Time, payload *message.IncomingMessage) {
	id, err := payload.Buffer.ReadU8()
	if err != nil {
		return
	}
	msg := c.pool.GetOutgoing(wire.Pong)
	msg.Buffer.WriteU8(id)
	msg.Buffer.WriteTimeSpan(time.Duration(now.UnixNano()))
	c.pendingPong = msg
}

func (c *Connection) onPong(now time.Time, payload *message.IncomingMessage) {
	id, err := payload.Buffer.ReadU8()
	if err != nil {
		return
	}
	remoteNowTicks, err := payload.Buffer.ReadTimeSpan()
	if err != nil {
		return
	}
	sendTime, ok := c.pingSentAt[id]
	if !ok {
		return
	}
	delete(c.pingSentAt, id)

	sample := now.Sub(sendTime)
	if c.averageRTT == 0 {
		c.averageRTT = sample
	} else {
		c.averageRTT = time.Duration(pingRTTAlpha*float64(c.averageRTT) + (1-pingRTTAlpha)*float64(sample))
	}

	remoteNow := time.Unix(0, remoteNowTicks.Nanoseconds())
	c.remoteTimeOffset = remoteNow.Add(sample / 2).Sub(now)
}

func (c *Connection) onAcknowledge(payload *message.IncomingMessage) {
	for payload.Buffer.Remaining() >= 24 {
		t, err := payload.Buffer.ReadU8()
		if err != nil {
			return
		}
		seq, err := payload.Buffer.ReadU16()
		if err != nil {
			return
		}
		if s, ok := c.senders[wire.MessageType(t)]; ok {
			s.OnAck(seq)
		}
	}
}

func (c *Connection) onMTUProbe(now time.Time, payload *message.IncomingMessage) {
	size, err := payload.Buffer.ReadU32()
	if err != nil {
		return
	}
	msg := c.pool.GetOutgoing(wire.MTUProbeResponse)
	msg.Buffer.WriteU32(size)
	c.pendingMTUProbeResponse = msg
}

func (c *Connection) onMTUProbeResponse(payload *message.IncomingMessage) {
	size, err := payload.Buffer.ReadU32()
	if err != nil {
		return
	}
	c.currentMTU = int(size)
	c.mtuFailAttempts = 0
	c.mtuProbeAwaitingResponse = false
}
