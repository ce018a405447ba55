package channel

import (
	"sync"

	"github.com/kestrelnet/kestrel/bitio"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// AckEntry is one (channel message type, sequence number) pair awaiting
// coalescing into an Acknowledge frame.
type AckEntry struct {
	Type wire.MessageType
	Seq  uint16
}

// AckQueue buffers acks raised by receiver channels until the connection's
// next heartbeat flushes them into a single Acknowledge library message.
// Acks ride along normal traffic and are never themselves acked.
type AckQueue struct {
	mu      sync.Mutex
	entries []AckEntry
}

// Queue appends an ack to the outbound backlog.
func (q *AckQueue) Queue(t wire.MessageType, seq uint16) {
	q.mu.Lock()
	q.entries = append(q.entries, AckEntry{Type: t, Seq: seq})
	q.mu.Unlock()
}

// Pending reports whether any acks are waiting to be flushed.
func (q *AckQueue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) > 0
}

// entrySizeBits is the fixed on-wire size of one ack entry: one byte for
// the message type, two bytes for the sequence number.
const entrySizeBits = 8 + 16

// Flush drains as many queued acks as fit within maxBits of payload into a
// fresh Acknowledge OutgoingMessage, leaving any overflow queued for the
// next flush. Returns nil if there is nothing to send.
func (q *AckQueue) Flush(pool *message.Pool, maxBits int) *message.OutgoingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	n := maxBits / entrySizeBits
	if n <= 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}

	msg := pool.GetOutgoing(wire.Acknowledge)
	for _, e := range q.entries[:n] {
		msg.Buffer.WriteU8(uint8(e.Type))
		msg.Buffer.WriteU16(e.Seq)
	}
	q.entries = q.entries[n:]
	return msg
}

// DecodeAcks parses an Acknowledge message payload back into entries.
func DecodeAcks(buf *bitio.BitBuffer) ([]AckEntry, error) {
	var entries []AckEntry
	for buf.Remaining() >= entrySizeBits {
		t, err := buf.ReadU8()
		if err != nil {
			return entries, err
		}
		seq, err := buf.ReadU16()
		if err != nil {
			return entries, err
		}
		entries = append(entries, AckEntry{Type: wire.MessageType(t), Seq: seq})
	}
	return entries, nil
}
