package peer

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/bitio"
	"github.com/kestrelnet/kestrel/conn"
	"github.com/kestrelnet/kestrel/crypto"
	"github.com/kestrelnet/kestrel/discovery"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// readFragmentChunk splits a released fragment chunk's buffer back into
// its FragmentHeader and the raw chunk bytes that follow it.
func readFragmentChunk(msg *message.IncomingMessage) (wire.FragmentHeader, []byte, error) {
	hdr, err := wire.ReadFragmentHeader(msg.Buffer)
	if err != nil {
		return wire.FragmentHeader{}, nil, err
	}
	chunk := make([]byte, msg.Buffer.Remaining()/8)
	if err := msg.Buffer.ReadBits(chunk, len(chunk)*8); err != nil {
		return wire.FragmentHeader{}, nil, err
	}
	return hdr, chunk, nil
}

// socketPollTimeout is the fixed 10ms poll deadline of spec.md §4.F step 7,
// the only blocking point in the scheduler loop besides reader waits.
const socketPollTimeout = 10 * time.Millisecond

// maxHeartbeatRate and minHeartbeatRate bound the throttle of §4.F step 1:
// at most min(250, 1250-num_connections) heartbeats per second.
const maxHeartbeatRate = 250
const minHeartbeatRate = 20

// recvBufferSize is the size of the scratch buffer one ReadFromUDP reads
// into; large enough for any MTU this library permits (max 8191).
const recvBufferSize = 8192

// heartbeatLoop is the single network-thread scheduler: spec.md §4.F's
// eight per-iteration steps, run until Shutdown.
func (p *Peer) heartbeatLoop() {
	defer close(p.loopDone)

	lastHeartbeat := time.Now()
	recvBuf := make([]byte, recvBufferSize)

	for !p.shutdown.Load() {
		now := time.Now()
		delta := now.Sub(lastHeartbeat)
		rate := 1250 - int(p.numConns.Load())
		if rate > maxHeartbeatRate {
			rate = maxHeartbeatRate
		}
		if rate < minHeartbeatRate {
			rate = minHeartbeatRate
		}
		minInterval := time.Second / time.Duration(rate)
		if delta < minInterval {
			time.Sleep(minInterval - delta)
			now = time.Now()
		}
		lastHeartbeat = now

		p.tickConnections(now)           // steps 2 & 4: handshake + connected ticks
		p.flushDelayed(now)              // step 3
		p.reapDisconnected()             // step 5
		p.flushUnconnected(now)          // step 6
		p.pollSocket(now, recvBuf)       // step 7
		p.reassembler.Sweep(now)         // drop fragment groups idle past the TTL
		// step 8 (UPnP discovery responses) has no portable implementation
		// in this library; see DESIGN.md.
	}

	p.finalDisconnect()
}

// tickConnections drains each tracked connection's Tick into outbound
// frames, packs them per-connection into MTU-sized datagrams, and hands
// each datagram to transmit (which applies the loss/duplicate/latency
// simulation knobs before an actual WriteToUDP).
func (p *Peer) tickConnections(now time.Time) {
	p.conns.Range(func(_, v any) bool {
		tc := v.(*trackedConn)

		var frames []conn.OutboundFrame
		tc.conn.Tick(now, &frames)
		for _, change := range tc.conn.DrainStatusChanges() {
			p.pushInbound(&message.IncomingMessage{
				Kind:             message.KindStatusChanged,
				StatusReason:     change.Reason,
				ReceiveTime:      now,
				SenderEndpoint:   tc.addr,
				SenderConnection: tc.id,
			})
		}
		if len(frames) > 0 {
			p.packAndSend(tc.addr, tc.conn.CurrentMTU(), frames, now)
		}
		return true
	})
}

// packAndSend greedily bins frames into datagrams no larger than mtu
// bytes, flushing a datagram whenever the next frame wouldn't fit.
func (p *Peer) packAndSend(addr *net.UDPAddr, mtu int, frames []conn.OutboundFrame, now time.Time) {
	datagram := make([]byte, 0, mtu)
	for _, f := range frames {
		encoded := encodeFrame(f)
		if len(datagram)+len(encoded) > mtu && len(datagram) > 0 {
			p.transmit(addr, datagram, now)
			datagram = make([]byte, 0, mtu)
		}
		datagram = append(datagram, encoded...)
	}
	if len(datagram) > 0 {
		p.transmit(addr, datagram, now)
	}
}

func encodeFrame(f conn.OutboundFrame) []byte {
	hdr := wire.FrameHeader{
		MessageType: f.Type,
		Sequence:    f.Seq,
		IsFragment:  f.IsFragment,
		PayloadBits: uint16(f.Payload.Buffer.BitLength()),
	}
	out := hdr.Encode()
	return append(out, f.Payload.Buffer.Bytes()...)
}

// transmit applies the simulated loss/duplicate/latency knobs of
// spec.md §6 before a real send: a datagram may be silently dropped,
// delayed onto the scheduler's delayed-packet list, or sent twice.
func (p *Peer) transmit(addr *net.UDPAddr, data []byte, now time.Time) {
	if p.chance(p.cfg.SimulatedLoss) {
		return
	}
	latency := p.jitterLatency()
	if latency > 0 {
		p.queueDelayed(addr, data, now.Add(latency))
	} else {
		p.writeDatagram(addr, data)
	}
	if p.chance(p.cfg.SimulatedDuplicates) {
		if latency > 0 {
			p.queueDelayed(addr, append([]byte(nil), data...), now.Add(latency))
		} else {
			p.writeDatagram(addr, data)
		}
	}
}

func (p *Peer) writeDatagram(addr *net.UDPAddr, data []byte) {
	if p.encryptor != nil {
		ciphertext, err := p.encryptor.Encrypt(data)
		if err != nil {
			p.logger.Debug("encrypt datagram failed", zap.Error(err))
			return
		}
		buf := bitio.New()
		crypto.EncodeEncrypted(buf, len(data)*8, ciphertext)
		data = buf.Bytes()
	}
	if _, err := p.sock.WriteToUDP(data, addr); err != nil {
		p.logger.Debug("write datagram failed", zap.String("addr", addr.String()), zap.Error(err))
	}
}

func (p *Peer) queueDelayed(addr *net.UDPAddr, data []byte, sendAt time.Time) {
	p.delayedMu.Lock()
	p.delayed = append(p.delayed, delayedDatagram{addr: addr, data: data, sendAt: sendAt})
	p.delayedMu.Unlock()
}

// flushDelayed sends every delayed datagram whose deadline has passed.
func (p *Peer) flushDelayed(now time.Time) {
	p.delayedMu.Lock()
	var ready []delayedDatagram
	var pending []delayedDatagram
	for _, d := range p.delayed {
		if !now.Before(d.sendAt) {
			ready = append(ready, d)
		} else {
			pending = append(pending, d)
		}
	}
	p.delayed = pending
	p.delayedMu.Unlock()

	for _, d := range ready {
		p.writeDatagram(d.addr, d.data)
	}
}

// reapDisconnected removes tracked connections whose status has become
// Disconnected, per spec.md §4.F step 5.
func (p *Peer) reapDisconnected() {
	p.conns.Range(func(_, v any) bool {
		tc := v.(*trackedConn)
		if tc.conn.Status() == conn.Disconnected {
			p.untrack(tc.addr)
		}
		return true
	})
}

// flushUnconnected drains the discovery queue, one datagram per entry.
func (p *Peer) flushUnconnected(now time.Time) {
	for _, out := range p.discovery.Drain() {
		msg := out.Message()
		hdr := wire.FrameHeader{MessageType: msg.MessageType, PayloadBits: uint16(msg.Buffer.BitLength())}
		data := append(hdr.Encode(), msg.Buffer.Bytes()...)
		p.transmit(out.Addr(), data, now)
		msg.Release()
	}
}

// pollSocket reads every datagram available within a fixed 10ms deadline
// and routes each to the connected or unconnected path.
func (p *Peer) pollSocket(now time.Time, buf []byte) {
	deadline := now.Add(socketPollTimeout)
	for {
		if err := p.sock.SetReadDeadline(deadline); err != nil {
			return
		}
		n, addr, err := p.sock.ReadFromUDP(buf)
		if err != nil {
			return // deadline exceeded or socket closed; end of this poll
		}
		p.handleDatagram(addr, append([]byte(nil), buf[:n]...), time.Now())
	}
}

// handleDatagram parses one datagram into frames and routes each to the
// matching connection's Receive, or the unconnected path if addr has no
// tracked connection.
func (p *Peer) handleDatagram(addr *net.UDPAddr, data []byte, now time.Time) {
	if p.encryptor != nil {
		plainBitLength, ciphertext, err := crypto.DecodeEncrypted(bitio.NewFromBytes(data, len(data)*8))
		if err != nil {
			p.logger.Debug("decode encrypted datagram failed", zap.Error(err))
			return
		}
		plaintext, err := p.encryptor.Decrypt(ciphertext)
		if err != nil {
			p.logger.Debug("decrypt datagram failed", zap.Error(err))
			return
		}
		data = plaintext[:(plainBitLength+7)/8]
	}

	tc, connected := p.lookup(addr)

	for len(data) >= wire.FrameHeaderSize {
		hdr, err := wire.DecodeFrameHeader(data)
		if err != nil {
			return
		}
		data = data[wire.FrameHeaderSize:]
		payloadBytes := (int(hdr.PayloadBits) + 7) / 8
		if payloadBytes > len(data) {
			return
		}
		frameBytes := data[:payloadBytes]
		data = data[payloadBytes:]

		in := p.pool.GetIncoming()
		in.Buffer = bitio.NewFromBytes(append([]byte(nil), frameBytes...), int(hdr.PayloadBits))
		in.IsFragment = hdr.IsFragment
		in.ReceiveTime = now
		in.SenderEndpoint = addr

		if wire.IsLibrary(hdr.MessageType) && !connected && hdr.MessageType != wire.Connect {
			p.routeUnconnected(addr, hdr, in)
			continue
		}

		if !connected {
			if hdr.MessageType != wire.Connect {
				continue
			}
			if !p.cfg.AcceptIncomingConnections {
				continue
			}
			if int(p.numConns.Load()) >= p.cfg.MaximumConnections {
				continue
			}
			c := conn.New(addr, p.cfg, p.pool, p.logger)
			tc = p.track(addr, c)
			connected = true
		}

		in.SenderConnection = tc.id
		released := tc.conn.Receive(now, hdr, in)
		for _, rel := range released {
			p.deliverReleased(addr, tc, hdr.MessageType, rel, now)
		}
	}
}

// deliverReleased completes a fragment group or, for a non-fragment
// release, hands the message straight to the inbound queue.
func (p *Peer) deliverReleased(addr *net.UDPAddr, tc *trackedConn, msgType wire.MessageType, msg *message.IncomingMessage, now time.Time) {
	if !msg.IsFragment {
		msg.Kind = message.KindData
		msg.BaseMessageType = msgType
		msg.SenderEndpoint = addr
		msg.SenderConnection = tc.id
		p.pushInbound(msg)
		return
	}

	fragHdr, chunk, err := readFragmentChunk(msg)
	if err != nil {
		return
	}
	payload, bitLength, done := p.reassembler.Accept(tc.id, fragHdr, chunk, now)
	if !done {
		return
	}
	full := message.NewIncomingMessage(message.KindData, payload, int(bitLength))
	full.BaseMessageType = msgType
	full.SenderEndpoint = addr
	full.SenderConnection = tc.id
	full.ReceiveTime = now
	p.pushInbound(full)
}

// routeUnconnected raises Discovery/DiscoveryResponse/UnconnectedData
// events for a datagram with no associated connection, per spec.md §4.G.
func (p *Peer) routeUnconnected(addr *net.UDPAddr, hdr wire.FrameHeader, msg *message.IncomingMessage) {
	msg.Kind = discovery.Classify(hdr.MessageType)
	msg.BaseMessageType = hdr.MessageType
	msg.SenderEndpoint = addr
	p.pushInbound(msg)
}

// finalDisconnect runs once when the loop is told to stop: every
// connection gets one last Tick so its staged Disconnect frame (from
// RequestDisconnect during Shutdown) actually reaches the wire.
func (p *Peer) finalDisconnect() {
	now := time.Now()
	p.conns.Range(func(_, v any) bool {
		tc := v.(*trackedConn)
		var frames []conn.OutboundFrame
		tc.conn.Tick(now, &frames)
		if len(frames) > 0 {
			p.packAndSend(tc.addr, tc.conn.CurrentMTU(), frames, now)
		}
		return true
	})
}
