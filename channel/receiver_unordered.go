package channel

import (
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
)

// UnorderedReceiver implements the receiver side of ReliableUnordered:
// fresh sequence numbers are released immediately, duplicates (by exact
// sequence value, not just window slot) are dropped.
type UnorderedReceiver struct {
	mu         sync.Mutex
	windowSize int
	seenSeq    []uint16
	seenValid  []bool
}

// NewUnorderedReceiver returns a receiver with the given window size (64).
func NewUnorderedReceiver(windowSize int) *UnorderedReceiver {
	return &UnorderedReceiver{
		windowSize: windowSize,
		seenSeq:    make([]uint16, windowSize),
		seenValid:  make([]bool, windowSize),
	}
}

// Receive implements Receiver.
func (r *UnorderedReceiver) Receive(seq uint16, msg *message.IncomingMessage) []*message.IncomingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(seq) % r.windowSize
	if r.seenValid[idx] && r.seenSeq[idx] == seq {
		return nil
	}
	r.seenValid[idx] = true
	r.seenSeq[idx] = seq
	return []*message.IncomingMessage{msg}
}

// Tick implements Receiver; unordered receivers have no time-based
// housekeeping.
func (r *UnorderedReceiver) Tick(now time.Time) {}
