// Package discovery implements the unconnected message path: LAN
// discovery request/response and arbitrary out-of-band datagrams that
// aren't tied to a live connection.
package discovery

import (
	"net"
	"sync"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// outboundUnconnected pairs a pending send with the destination the peer
// scheduler has not yet had a chance to drain.
type outboundUnconnected struct {
	addr *net.UDPAddr
	msg  *message.OutgoingMessage
}

// Addr reports the destination of a drained send.
func (o outboundUnconnected) Addr() *net.UDPAddr { return o.addr }

// Message reports the payload of a drained send.
func (o outboundUnconnected) Message() *message.OutgoingMessage { return o.msg }

// Queue holds unconnected messages awaiting a single-datagram send on the
// next scheduler tick, per spec.md §4.G: each queued message is encoded
// into its own datagram, which must fit within the configured MTU.
type Queue struct {
	mu      sync.Mutex
	pending []outboundUnconnected
}

// Send enqueues msg for delivery to addr without an associated connection.
func (q *Queue) Send(addr *net.UDPAddr, msg *message.OutgoingMessage) {
	q.mu.Lock()
	q.pending = append(q.pending, outboundUnconnected{addr: addr, msg: msg})
	q.mu.Unlock()
}

// Drain removes and returns every currently queued send; the scheduler
// calls this once per tick and emits one datagram per entry.
func (q *Queue) Drain() []outboundUnconnected {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}

// Classify maps an unconnected library message type to the IncomingKind
// the peer scheduler raises it as, per spec.md §4.G's raising rules.
func Classify(t wire.MessageType) message.IncomingKind {
	switch t {
	case wire.Discovery:
		return message.KindDiscoveryRequest
	case wire.DiscoveryResponse:
		return message.KindDiscoveryResponse
	default:
		return message.KindUnconnectedData
	}
}
