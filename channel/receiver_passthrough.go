package channel

import (
	"time"

	"github.com/kestrelnet/kestrel/message"
)

// PassthroughReceiver implements the receiver side of plain Unreliable:
// no dedup, no reordering, every arrival is released immediately.
type PassthroughReceiver struct{}

// NewPassthroughReceiver returns a receiver that releases every message
// it's given.
func NewPassthroughReceiver() *PassthroughReceiver { return &PassthroughReceiver{} }

// Receive implements Receiver.
func (r *PassthroughReceiver) Receive(seq uint16, msg *message.IncomingMessage) []*message.IncomingMessage {
	return []*message.IncomingMessage{msg}
}

// Tick implements Receiver; passthrough receivers have no time-based
// housekeeping.
func (r *PassthroughReceiver) Tick(now time.Time) {}
