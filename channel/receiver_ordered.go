package channel

import (
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/seqspace"
)

// OrderedReceiver implements the receiver side of ReliableOrdered (and
// Stream): messages arriving ahead of window_start are withheld until the
// gap closes, then released together with every contiguous withheld
// message that follows.
type OrderedReceiver struct {
	mu sync.Mutex

	windowSize  int
	windowStart uint16
	withheld    []*message.IncomingMessage
}

// NewOrderedReceiver returns a receiver with the given window size (64).
func NewOrderedReceiver(windowSize int) *OrderedReceiver {
	return &OrderedReceiver{windowSize: windowSize, withheld: make([]*message.IncomingMessage, windowSize)}
}

// Receive implements Receiver.
func (r *OrderedReceiver) Receive(seq uint16, msg *message.IncomingMessage) []*message.IncomingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seqspace.LT(seq, r.windowStart) {
		return nil // duplicate of an already-released sequence
	}
	if seq == r.windowStart {
		released := []*message.IncomingMessage{msg}
		r.windowStart = wrap(r.windowStart)
		for {
			idx := int(r.windowStart) % r.windowSize
			next := r.withheld[idx]
			if next == nil {
				break
			}
			released = append(released, next)
			r.withheld[idx] = nil
			r.windowStart = wrap(r.windowStart)
		}
		return released
	}
	if relate := seqspace.Relative(seq, r.windowStart); relate > 0 && int(relate) < r.windowSize {
		idx := int(seq) % r.windowSize
		if r.withheld[idx] == nil {
			r.withheld[idx] = msg
		}
	}
	return nil // either withheld above, or window overflow: sender must have abandoned this seq
}

// Tick implements Receiver; the ordered receiver has no time-based
// housekeeping.
func (r *OrderedReceiver) Tick(now time.Time) {}
