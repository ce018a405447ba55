// Package message defines the two message objects that flow through the
// library: OutgoingMessage, written by user code and pinned by sender
// channels until sent or acked, and IncomingMessage, produced by the peer
// scheduler and handed to user code.
package message

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/kestrelnet/kestrel/bitio"
	"github.com/kestrelnet/kestrel/wire"
)

// IncomingKind classifies what an IncomingMessage represents to the reader,
// independent of its underlying wire message type.
type IncomingKind int

const (
	KindData IncomingKind = iota
	KindStatusChanged
	KindUnconnectedData
	KindDiscoveryRequest
	KindDiscoveryResponse
	KindConnectionApproval
	KindError
)

// OutgoingMessage is a BitBuffer plus the routing metadata sender channels
// and the fragmenter need: which message type it rides on, whether it has
// already been handed to the socket, how many channels still hold a
// reference to it, and (if split) which fragment group/chunk it belongs to.
type OutgoingMessage struct {
	Buffer         *bitio.BitBuffer
	MessageType    wire.MessageType
	IsSent         bool
	recyclingCount atomic.Int32

	// Fragmentation fields; Group == 0 means "not a fragment".
	Group         uint32
	TotalBits     uint32
	ChunkByteSize uint32
	ChunkNumber   uint32
}

// NewOutgoingMessage returns a message ready for writing, with an initial
// reference count of one (the caller's).
func NewOutgoingMessage(t wire.MessageType) *OutgoingMessage {
	m := &OutgoingMessage{Buffer: bitio.New(), MessageType: t}
	m.recyclingCount.Store(1)
	return m
}

// IsFragment reports whether this message is one chunk of a larger split
// message.
func (m *OutgoingMessage) IsFragment() bool { return m.Group != 0 }

// Pin increments the reference count; called by a sender channel when it
// additionally retains the message (e.g. while it sits in the retransmit
// window).
func (m *OutgoingMessage) Pin() { m.recyclingCount.Add(1) }

// Release decrements the reference count and reports whether it reached
// zero (the caller should then return the message to a Pool).
func (m *OutgoingMessage) Release() bool {
	return m.recyclingCount.Add(-1) == 0
}

// IncomingMessage is a BitBuffer plus the metadata the peer scheduler
// attaches on receipt: what kind of event it represents, which channel
// sequence number (if any) it carried, and where it came from.
type IncomingMessage struct {
	Buffer           *bitio.BitBuffer
	Kind             IncomingKind
	BaseMessageType  wire.MessageType
	SequenceNumber   uint16
	IsFragment       bool
	ReceiveTime      time.Time
	SenderEndpoint   net.Addr
	SenderConnection uint64 // 0 if unconnected

	// Populated only for KindStatusChanged.
	StatusReason string
}

// NewIncomingMessage wraps data (already a complete, decoded payload) for
// delivery to user code.
func NewIncomingMessage(kind IncomingKind, data []byte, bitLength int) *IncomingMessage {
	return &IncomingMessage{Buffer: bitio.NewFromBytes(data, bitLength), Kind: kind}
}
