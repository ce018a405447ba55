// Package fragment implements the split/reassemble layer that lets
// oversize outbound messages cross an MTU-limited datagram path: the
// sender splits into MTU-sized chunks tagged with a shared group id, the
// receiver reassembles by (sender, group) until every chunk has arrived.
package fragment

import (
	"fmt"
	"sync"
	"time"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// MaxGroups is the group-id space; ids wrap back to 1 (0 is reserved to
// mean "not a fragment") once exhausted.
const MaxGroups = 65534

// DefaultReassemblyTTL bounds how long a partially-received group is kept
// before being discarded, resolving spec's open question about unbounded
// reassembly memory growth when a sender abandons a transfer mid-send.
const DefaultReassemblyTTL = 30 * time.Second

// Fragmenter assigns outbound fragment groups and splits oversize messages
// into MTU-sized chunks.
type Fragmenter struct {
	mu        sync.Mutex
	nextGroup uint32
}

func (f *Fragmenter) nextGroupID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextGroup++
	if f.nextGroup > MaxGroups {
		f.nextGroup = 1
	}
	return f.nextGroup
}

// headerBytes returns the byte length of the fragment sub-header the given
// field values would encode to.
func headerBytes(h wire.FragmentHeader) int {
	buf := encodeScratch(h)
	return len(buf)
}

// Split divides payload (bitLength valid bits) into chunks that each fit,
// together with the frame header and fragment sub-header, within mtu
// bytes. Returns one OutgoingMessage per chunk, all sharing a freshly
// assigned group id.
func (f *Fragmenter) Split(pool *message.Pool, payload []byte, bitLength int, msgType wire.MessageType, mtu int) ([]*message.OutgoingMessage, error) {
	totalBytes := (bitLength + 7) / 8
	group := f.nextGroupID()
	totalBits := uint32(bitLength)

	chunkByteSize := mtu - wire.FrameHeaderSize - 12 // seed guess; refined below
	for i := 0; i < 4 && chunkByteSize > 0; i++ {
		totalChunks := ceilDiv(totalBytes, chunkByteSize)
		hdr := wire.FragmentHeader{Group: group, TotalBits: totalBits, ChunkByteSize: uint32(chunkByteSize), ChunkNumber: uint32(totalChunks)}
		next := mtu - wire.FrameHeaderSize - headerBytes(hdr)
		if next == chunkByteSize {
			break
		}
		chunkByteSize = next
	}
	if chunkByteSize <= 0 {
		return nil, fmt.Errorf("fragment: mtu %d too small to carry any fragment payload", mtu)
	}

	totalChunks := ceilDiv(totalBytes, chunkByteSize)
	msgs := make([]*message.OutgoingMessage, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		start := i * chunkByteSize
		end := start + chunkByteSize
		if end > totalBytes {
			end = totalBytes
		}
		chunk := payload[start:end]

		m := pool.GetOutgoing(msgType)
		m.Group = group
		m.TotalBits = totalBits
		m.ChunkByteSize = uint32(chunkByteSize)
		m.ChunkNumber = uint32(i)
		hdr := wire.FragmentHeader{Group: group, TotalBits: totalBits, ChunkByteSize: uint32(chunkByteSize), ChunkNumber: uint32(i)}
		hdr.WriteTo(m.Buffer)
		m.Buffer.WriteBits(chunk, 0, len(chunk)*8)
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

type reassemblyKey struct {
	sender uint64
	group  uint32
}

type reassemblyState struct {
	buffer      []byte
	received    *bitVector
	totalChunks int
	totalBits   uint32
	lastUpdate  time.Time
}

// Reassembler reconstructs fragmented messages per (sender, group),
// discarding state for groups that stall for longer than ttl.
type Reassembler struct {
	mu     sync.Mutex
	states map[reassemblyKey]*reassemblyState
	ttl    time.Duration
}

// NewReassembler returns a reassembler with the given TTL; pass 0 for
// DefaultReassemblyTTL.
func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultReassemblyTTL
	}
	return &Reassembler{states: make(map[reassemblyKey]*reassemblyState), ttl: ttl}
}

// Accept processes one arriving chunk. On completion it returns the
// reassembled payload and its original bit length with done=true, removing
// the group's state; otherwise done is false and the chunk has been
// copied into the in-progress buffer (duplicates are recognized and
// ignored).
func (r *Reassembler) Accept(sender uint64, hdr wire.FragmentHeader, chunk []byte, now time.Time) (payload []byte, bitLength uint32, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reassemblyKey{sender: sender, group: hdr.Group}
	state, ok := r.states[key]
	if !ok {
		totalBytes := int((hdr.TotalBits + 7) / 8)
		totalChunks := ceilDiv(totalBytes, int(hdr.ChunkByteSize))
		state = &reassemblyState{
			buffer:      make([]byte, totalBytes),
			received:    newBitVector(totalChunks),
			totalChunks: totalChunks,
			totalBits:   hdr.TotalBits,
		}
		r.states[key] = state
	}
	state.lastUpdate = now

	chunkIdx := int(hdr.ChunkNumber)
	if chunkIdx >= 0 && chunkIdx < state.totalChunks && !state.received.IsSet(chunkIdx) {
		offset := chunkIdx * int(hdr.ChunkByteSize)
		copy(state.buffer[offset:], chunk)
		state.received.Set(chunkIdx)
	}

	if state.received.PopCount() == state.totalChunks {
		delete(r.states, key)
		return state.buffer, state.totalBits, true
	}
	return nil, 0, false
}

// Sweep discards reassembly state for groups that have not received a new
// chunk within the TTL, bounding memory growth from a sender that
// abandoned a transfer mid-send.
func (r *Reassembler) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, state := range r.states {
		if now.Sub(state.lastUpdate) > r.ttl {
			delete(r.states, key)
		}
	}
}

func encodeScratch(h wire.FragmentHeader) []byte {
	buf := scratchBuffer()
	h.WriteTo(buf)
	return buf.Bytes()
}
