package channel

import (
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
)

// UnreliableSender implements the sender side of Unreliable and
// UnreliableSequenced: messages are assigned a sequence number and emitted
// on the next tick with no retained buffer and no ack handling: the
// reference is released the moment the frame is handed off.
type UnreliableSender struct {
	mu sync.Mutex

	windowSize int
	pool       *message.Pool

	queued    []*message.OutgoingMessage
	sendStart uint16
}

// NewUnreliableSender returns a sender for the given window size (128 per
// the channel table); its backlog of queued sends is bounded at
// maxQueuedMultiple times that.
func NewUnreliableSender(windowSize int, pool *message.Pool) *UnreliableSender {
	return &UnreliableSender{windowSize: windowSize, pool: pool}
}

// Enqueue implements Sender.
func (s *UnreliableSender) Enqueue(msg *message.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) >= s.windowSize*maxQueuedMultiple {
		return ErrDropped
	}
	s.queued = append(s.queued, msg)
	return nil
}

// Tick implements Sender.
func (s *UnreliableSender) Tick(now time.Time, rtt time.Duration, emit func(seq uint16, msg *message.OutgoingMessage, retransmit bool)) {
	s.mu.Lock()
	pending := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, msg := range pending {
		seq := s.sendStart
		s.sendStart = wrap(s.sendStart)
		emit(seq, msg, false)
		if msg.Release() && s.pool != nil {
			s.pool.PutOutgoing(msg)
		}
	}
}

// OnAck implements Sender; unreliable channels are never acked.
func (s *UnreliableSender) OnAck(seq uint16) {}

// Reset implements Sender.
func (s *UnreliableSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.queued {
		if msg.Release() && s.pool != nil {
			s.pool.PutOutgoing(msg)
		}
	}
	s.queued = nil
	s.sendStart = 0
}
