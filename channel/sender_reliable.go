package channel

import (
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/seqspace"
)

// maxQueuedMultiple bounds queued_sends as a multiple of the window size,
// so a channel with no reader attached cannot grow its backlog without
// bound; the sequence space itself already caps in-flight sends at the
// window.
const maxQueuedMultiple = 4

type storedMessage struct {
	msg         *message.OutgoingMessage
	sendTime    time.Time
	numSent     int
	active      bool
	forceResend bool
}

// ReliableSender implements the sender side of ReliableUnordered,
// ReliableSequenced and ReliableOrdered (and Stream, as an alias): a FIFO
// of queued sends drained into a fixed window of stored, unacked messages,
// retransmitted on a timer or immediately when a later ack reveals a hole.
type ReliableSender struct {
	mu sync.Mutex

	windowSize int
	pool       *message.Pool

	queued []*message.OutgoingMessage
	stored []storedMessage

	windowStart  uint16
	sendStart    uint16
	receivedAcks seqspace.Bitset

	minResend time.Duration
	jitter    time.Duration
}

// NewReliableSender returns a sender with the given window size (64 per
// the channel table) and resend tuning. pool may be nil; if set, fully
// released messages are returned to it.
func NewReliableSender(windowSize int, minResend, jitter time.Duration, pool *message.Pool) *ReliableSender {
	return &ReliableSender{
		windowSize: windowSize,
		pool:       pool,
		stored:     make([]storedMessage, windowSize),
		minResend:  minResend,
		jitter:     jitter,
	}
}

func (s *ReliableSender) allowedSends() int {
	inflight := (int(s.sendStart) - int(s.windowStart) + seqspace.N) % seqspace.N
	allowed := s.windowSize - inflight
	if allowed < 0 {
		return 0
	}
	return allowed
}

// Enqueue implements Sender.
func (s *ReliableSender) Enqueue(msg *message.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) >= s.windowSize*maxQueuedMultiple {
		return ErrDropped
	}
	s.queued = append(s.queued, msg)
	return nil
}

// Tick implements Sender.
func (s *ReliableSender) Tick(now time.Time, rtt time.Duration, emit func(seq uint16, msg *message.OutgoingMessage, retransmit bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.allowedSends() > 0 && len(s.queued) > 0 {
		msg := s.queued[0]
		s.queued = s.queued[1:]

		seq := s.sendStart
		s.sendStart = wrap(s.sendStart)
		idx := int(seq) % s.windowSize
		s.stored[idx] = storedMessage{msg: msg, sendTime: now, numSent: 1, active: true}
		emit(seq, msg, false)
	}

	delay := resendDelay(rtt, s.minResend, s.jitter)
	for i := range s.stored {
		st := &s.stored[i]
		if !st.active {
			continue
		}
		switch {
		case st.forceResend:
			st.forceResend = false
			st.sendTime = now
			st.numSent++
			emit(s.seqForSlot(i), st.msg, true)
		case now.Sub(st.sendTime) > delay:
			st.sendTime = now
			st.numSent++
			emit(s.seqForSlot(i), st.msg, true)
		}
	}
}

// seqForSlot recovers the sequence number currently occupying window slot
// idx; every active slot's sequence number is congruent to idx mod
// windowSize and lies within [windowStart, windowStart+windowSize).
func (s *ReliableSender) seqForSlot(idx int) uint16 {
	for k := 0; k < s.windowSize; k++ {
		cand := seqspace.Wrap(uint32(s.windowStart) + uint32(k))
		if int(cand)%s.windowSize == idx {
			return cand
		}
	}
	return s.windowStart
}

func (s *ReliableSender) releaseSlot(idx int) {
	st := &s.stored[idx]
	if !st.active {
		return
	}
	if st.msg.Release() && s.pool != nil {
		s.pool.PutOutgoing(st.msg)
	}
	*st = storedMessage{}
}

// OnAck implements Sender.
func (s *ReliableSender) OnAck(seq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seqspace.LT(seq, s.windowStart) {
		return // duplicate of an already-retired slot
	}
	if seq == s.windowStart {
		s.releaseSlot(int(s.windowStart) % s.windowSize)
		s.windowStart = wrap(s.windowStart)
		s.receivedAcks.Clear(seq)
		for s.receivedAcks.IsSet(s.windowStart) {
			s.releaseSlot(int(s.windowStart) % s.windowSize)
			s.receivedAcks.Clear(s.windowStart)
			s.windowStart = wrap(s.windowStart)
		}
		return
	}
	if relate := seqspace.Relative(seq, s.windowStart); relate > 0 && relate < s.windowSize {
		s.receivedAcks.Set(seq)
		headIdx := int(s.windowStart) % s.windowSize
		if s.stored[headIdx].active {
			s.stored[headIdx].forceResend = true
		}
	}
}

// Reset implements Sender.
func (s *ReliableSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.queued {
		if msg.Release() && s.pool != nil {
			s.pool.PutOutgoing(msg)
		}
	}
	s.queued = nil
	for i := range s.stored {
		s.releaseSlot(i)
	}
	s.windowStart = 0
	s.sendStart = 0
	s.receivedAcks.Reset()
}
