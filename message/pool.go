package message

import (
	"sync"

	"github.com/kestrelnet/kestrel/bitio"
	"github.com/kestrelnet/kestrel/wire"
)

// Pool recycles OutgoingMessage and IncomingMessage values. Outgoing
// messages return to the pool once their reference count reaches zero
// (every channel that pinned them has released); incoming messages return
// once the user has finished reading them.
type Pool struct {
	out sync.Pool
	in  sync.Pool
}

// NewPool returns a ready-to-use message pool.
func NewPool() *Pool {
	return &Pool{
		out: sync.Pool{New: func() any { return &OutgoingMessage{} }},
		in:  sync.Pool{New: func() any { return &IncomingMessage{} }},
	}
}

// GetOutgoing returns a zeroed, pinned-once OutgoingMessage for msgType.
func (p *Pool) GetOutgoing(msgType wire.MessageType) *OutgoingMessage {
	m := p.out.Get().(*OutgoingMessage)
	if m.Buffer == nil {
		m.Buffer = bitio.New()
	} else {
		m.Buffer.Reset()
	}
	m.MessageType = msgType
	m.IsSent = false
	m.Group, m.TotalBits, m.ChunkByteSize, m.ChunkNumber = 0, 0, 0, 0
	m.recyclingCount.Store(1)
	return m
}

// PutOutgoing returns m to the pool. Call only after Release() reports the
// reference count reached zero.
func (p *Pool) PutOutgoing(m *OutgoingMessage) { p.out.Put(m) }

// GetIncoming returns a zeroed IncomingMessage.
func (p *Pool) GetIncoming() *IncomingMessage {
	m := p.in.Get().(*IncomingMessage)
	*m = IncomingMessage{}
	return m
}

// PutIncoming returns m to the pool once the user is done reading it.
func (p *Pool) PutIncoming(m *IncomingMessage) { p.in.Put(m) }
