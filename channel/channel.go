// Package channel implements the five delivery-method behaviors that sit
// between a connection and the wire: per-method send windowing and
// retransmission, per-method receive dedup/reorder, and ack coalescing.
// Channels are exposed as a small capability interface (Sender, Receiver)
// rather than a class hierarchy — each delivery method gets its own struct
// implementing it, and a connection keeps one sender and one receiver per
// message type in maps keyed by message type.
package channel

import (
	"errors"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/seqspace"
	"github.com/kestrelnet/kestrel/wire"
)

// ErrDropped is returned by Enqueue when the channel's bounded backlog of
// not-yet-assigned sends is full. A full send window alone does not cause a
// drop: the message waits in the backlog until the window has room.
var ErrDropped = errors.New("channel: dropped, window full")

// ErrMessageTooLarge is returned by Enqueue for an unreliable channel
// configured to drop rather than fragment oversize messages.
var ErrMessageTooLarge = errors.New("channel: message exceeds mtu")

// ResendReason classifies why a reliable sender retransmitted a stored
// message, for logging.
type ResendReason int

const (
	// ResendDelay means the message's resend timer elapsed with no ack.
	ResendDelay ResendReason = iota
	// ResendHole means a later sequence was acked while this one, the
	// oldest unacked, was not — a likely-lost packet, retransmitted early.
	ResendHole
)

func (r ResendReason) String() string {
	if r == ResendHole {
		return "hole"
	}
	return "delay"
}

// Sender is the capability every outbound channel implements: accept
// application sends, periodically assign sequence numbers and emit frames,
// apply incoming acks, and reset to a blank state on disconnect.
type Sender interface {
	// Enqueue accepts msg for eventual sending, or returns ErrDropped /
	// ErrMessageTooLarge without retaining a reference to msg.
	Enqueue(msg *message.OutgoingMessage) error
	// Tick assigns sequence numbers to queued sends and retransmits stored
	// ones that are overdue, calling emit(seq, msg, isRetransmit) for each
	// frame that should go out this tick.
	Tick(now time.Time, rtt time.Duration, emit func(seq uint16, msg *message.OutgoingMessage, retransmit bool))
	// OnAck applies an acknowledgment for seq. No-op for channels that
	// don't retain sent messages.
	OnAck(seq uint16)
	// Reset clears all queued and in-flight state, releasing any retained
	// messages.
	Reset()
}

// Receiver is the capability every inbound channel implements: apply
// per-method dedup/reorder rules to an arriving sequence number and report
// which messages, if any, are now released to the user in order.
type Receiver interface {
	// Receive applies seq/msg to the channel's dedup and reordering state,
	// returning the messages (possibly more than one, for ordered channels
	// releasing withheld ones) now ready for delivery, in delivery order.
	// A nil/empty result means msg was withheld or dropped as a duplicate.
	Receive(seq uint16, msg *message.IncomingMessage) []*message.IncomingMessage
	// Tick lets a receiver perform time-based housekeeping. Most
	// implementations have none.
	Tick(now time.Time)
}

// WindowSize returns the sequence-number window for a delivery method, per
// the channel table: 128 for the two unreliable methods, 64 for the three
// reliable ones (Stream included, as an alias of ReliableOrdered).
func WindowSize(m wire.DeliveryMethod) int {
	switch m {
	case wire.MethodUnreliable, wire.MethodUnreliableSequenced:
		return 128
	default:
		return 64
	}
}

// NumChannels returns how many parallel channels a delivery method has: 1
// for the two non-multiplexed methods, wire.ChannelsPerMethod otherwise.
func NumChannels(m wire.DeliveryMethod) int {
	switch m {
	case wire.MethodUnreliable, wire.MethodReliableUnordered:
		return 1
	default:
		return wire.ChannelsPerMethod
	}
}

// resendDelay computes how long a reliable sender waits before retransmitting
// a stored message absent a hole-triggered fast retransmit.
func resendDelay(rtt, minResend, jitter time.Duration) time.Duration {
	d := 2*rtt + jitter
	if d < minResend {
		return minResend
	}
	return d
}

// wrap advances a sequence number by one within the N=1024 space.
func wrap(seq uint16) uint16 {
	return seqspace.Wrap(uint32(seq) + 1)
}
