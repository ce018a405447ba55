package channel

import (
	"testing"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

func newIncoming(n int) *message.IncomingMessage {
	return message.NewIncomingMessage(message.KindData, []byte{byte(n)}, 8)
}

// TestOrderedReceiverReorder exercises S3: sender sends seq [0,1,2,3],
// network delivers [0,2,1,3]; receiver releases [0,1,2,3] in order.
func TestOrderedReceiverReorder(t *testing.T) {
	r := NewOrderedReceiver(64)

	var released []int
	deliver := func(seq uint16, tag int) {
		for _, m := range r.Receive(seq, newIncoming(tag)) {
			released = append(released, int(m.Buffer.Bytes()[0]))
		}
	}

	deliver(0, 0)
	deliver(2, 2)
	deliver(1, 1)
	deliver(3, 3)

	want := []int{0, 1, 2, 3}
	if len(released) != len(want) {
		t.Fatalf("released %v, want %v", released, want)
	}
	for i, v := range want {
		if released[i] != v {
			t.Errorf("released[%d] = %d, want %d", i, released[i], v)
		}
	}
}

func TestOrderedReceiverDropsDuplicate(t *testing.T) {
	r := NewOrderedReceiver(64)
	r.Receive(0, newIncoming(0))
	if got := r.Receive(0, newIncoming(0)); got != nil {
		t.Errorf("duplicate seq 0 was released again: %v", got)
	}
}

func TestSequencedReceiverDropsOlder(t *testing.T) {
	r := NewSequencedReceiver()
	if got := r.Receive(5, newIncoming(5)); len(got) != 1 {
		t.Fatalf("first message not released")
	}
	if got := r.Receive(3, newIncoming(3)); got != nil {
		t.Errorf("older seq 3 released after seq 5: %v", got)
	}
	if got := r.Receive(6, newIncoming(6)); len(got) != 1 {
		t.Errorf("newer seq 6 not released")
	}
}

func TestUnorderedReceiverDedup(t *testing.T) {
	r := NewUnorderedReceiver(64)
	if got := r.Receive(10, newIncoming(10)); len(got) != 1 {
		t.Fatalf("fresh seq not released")
	}
	if got := r.Receive(10, newIncoming(10)); got != nil {
		t.Errorf("duplicate seq released: %v", got)
	}
}

// TestAckWindowSlide exercises S4: window_size=64, seqs 0..63 in flight;
// ack for seq 5 arrives (bit set, window_start unchanged); then acks for
// 0..4 arrive (window_start advances to 6).
func TestAckWindowSlide(t *testing.T) {
	pool := message.NewPool()
	s := NewReliableSender(64, time.Millisecond, 0, pool)

	for i := 0; i < 64; i++ {
		m := pool.GetOutgoing(wire.ReliableUnordered)
		if err := s.Enqueue(m); err != nil {
			t.Fatalf("Enqueue seq %d: %v", i, err)
		}
	}
	s.Tick(time.Now(), time.Millisecond, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) {})

	s.OnAck(5)
	if s.windowStart != 0 {
		t.Errorf("window_start = %d after ack(5), want 0", s.windowStart)
	}
	if !s.receivedAcks.IsSet(5) {
		t.Errorf("bit 5 not set after ack(5)")
	}

	for seq := uint16(0); seq <= 4; seq++ {
		s.OnAck(seq)
	}
	if s.windowStart != 6 {
		t.Errorf("window_start = %d after acking 0..5, want 6", s.windowStart)
	}
}

func TestReliableSenderRetransmitsOnStaleDelay(t *testing.T) {
	pool := message.NewPool()
	s := NewReliableSender(64, time.Millisecond, 0, pool)
	m := pool.GetOutgoing(wire.ReliableUnordered)
	s.Enqueue(m)

	sendCount := 0
	base := time.Now()
	s.Tick(base, 0, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) { sendCount++ })
	if sendCount != 1 {
		t.Fatalf("initial tick sent %d frames, want 1", sendCount)
	}

	s.Tick(base.Add(10*time.Millisecond), 0, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) {
		sendCount++
		if !retransmit {
			t.Error("second send not flagged as retransmit")
		}
	})
	if sendCount != 2 {
		t.Errorf("after stale delay sendCount = %d, want 2", sendCount)
	}
}

func TestReliableSenderHoleTriggersFastRetransmit(t *testing.T) {
	pool := message.NewPool()
	s := NewReliableSender(64, time.Hour, 0, pool) // long delay: only a hole should trigger resend

	m0 := pool.GetOutgoing(wire.ReliableUnordered)
	m1 := pool.GetOutgoing(wire.ReliableUnordered)
	s.Enqueue(m0)
	s.Enqueue(m1)
	s.Tick(time.Now(), 0, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) {})

	s.OnAck(1) // seq 1 acked while seq 0 (the head) is not: a hole

	var sawRetransmitOfHead bool
	s.Tick(time.Now(), 0, func(seq uint16, msg *message.OutgoingMessage, retransmit bool) {
		if seq == 0 && retransmit {
			sawRetransmitOfHead = true
		}
	})
	if !sawRetransmitOfHead {
		t.Error("hole at head did not trigger a fast retransmit")
	}
}

func TestAckQueueFlushRespectsBudget(t *testing.T) {
	pool := message.NewPool()
	var q AckQueue
	for i := 0; i < 100; i++ {
		q.Queue(wire.ReliableUnordered, uint16(i))
	}

	msg := q.Flush(pool, entrySizeBits*10)
	if msg == nil {
		t.Fatal("expected a flushed ack message")
	}
	msg.Buffer.Rewind()
	entries, err := DecodeAcks(msg.Buffer)
	if err != nil {
		t.Fatalf("DecodeAcks: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("flushed %d entries, want 10", len(entries))
	}
	if !q.Pending() {
		t.Error("remaining 90 entries should still be pending")
	}
}
