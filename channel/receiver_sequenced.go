package channel

import (
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/seqspace"
)

// SequencedReceiver implements the receiver side of both UnreliableSequenced
// and ReliableSequenced: only messages newer than the last released one are
// delivered; anything at or behind that point is dropped, so the receiver
// never has to buffer out-of-order arrivals.
type SequencedReceiver struct {
	mu           sync.Mutex
	hasReceived  bool
	lastReceived uint16
}

// NewSequencedReceiver returns a fresh sequenced receiver.
func NewSequencedReceiver() *SequencedReceiver {
	return &SequencedReceiver{}
}

// Receive implements Receiver.
func (r *SequencedReceiver) Receive(seq uint16, msg *message.IncomingMessage) []*message.IncomingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasReceived || !seqspace.LT(seq, wrap(r.lastReceived)) {
		r.hasReceived = true
		r.lastReceived = seq
		return []*message.IncomingMessage{msg}
	}
	return nil
}

// Tick implements Receiver; sequenced receivers have no time-based
// housekeeping.
func (r *SequencedReceiver) Tick(now time.Time) {}
