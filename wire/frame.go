package wire

import (
	"errors"

	"github.com/kestrelnet/kestrel/bitio"
)

// FrameHeaderSize is the fixed 5-byte header prefixing every frame.
const FrameHeaderSize = 5

// ErrShortFrame is returned when a datagram is too small to hold even one
// frame header; callers must treat this as a malformed, droppable datagram,
// never a fatal condition for the peer.
var ErrShortFrame = errors.New("wire: datagram shorter than a frame header")

// FrameHeader is the 5-byte per-message header described in §4.B:
// message type, a 15-bit sequence number split across two bytes with the
// fragment flag riding in the low bit of the first, and a 16-bit
// little-endian payload bit length.
type FrameHeader struct {
	MessageType MessageType
	Sequence    uint16 // low 15 bits significant
	IsFragment  bool
	PayloadBits uint16
}

// Encode writes the header into a fresh 5-byte slice.
func (h FrameHeader) Encode() []byte {
	buf := make([]byte, FrameHeaderSize)
	buf[0] = byte(h.MessageType)
	flag := byte(0)
	if h.IsFragment {
		flag = 1
	}
	buf[1] = byte(h.Sequence&0x7f)<<1 | flag
	buf[2] = byte((h.Sequence >> 7) & 0xff)
	buf[3] = byte(h.PayloadBits)
	buf[4] = byte(h.PayloadBits >> 8)
	return buf
}

// DecodeFrameHeader reverses Encode.
func DecodeFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, ErrShortFrame
	}
	low := uint16(data[1]) >> 1
	high := uint16(data[2]) << 7
	return FrameHeader{
		MessageType: MessageType(data[0]),
		Sequence:    (low | high) & 0x7fff,
		IsFragment:  data[1]&0x01 != 0,
		PayloadBits: uint16(data[3]) | uint16(data[4])<<8,
	}, nil
}

// FragmentHeader is the sub-header prefixing a fragmented frame's payload,
// written with the bit buffer's VarInt encoding rather than fixed bytes
// (§4.B).
type FragmentHeader struct {
	Group         uint32 // > 0
	TotalBits     uint32
	ChunkByteSize uint32
	ChunkNumber   uint32
}

// WriteTo appends the fragment sub-header to buf.
func (h FragmentHeader) WriteTo(buf *bitio.BitBuffer) {
	buf.WriteVarUint64(uint64(h.Group))
	buf.WriteVarUint64(uint64(h.TotalBits))
	buf.WriteVarUint64(uint64(h.ChunkByteSize))
	buf.WriteVarUint64(uint64(h.ChunkNumber))
}

// ReadFragmentHeader reverses WriteTo.
func ReadFragmentHeader(buf *bitio.BitBuffer) (FragmentHeader, error) {
	group, err := buf.ReadVarUint64()
	if err != nil {
		return FragmentHeader{}, err
	}
	totalBits, err := buf.ReadVarUint64()
	if err != nil {
		return FragmentHeader{}, err
	}
	chunkByteSize, err := buf.ReadVarUint64()
	if err != nil {
		return FragmentHeader{}, err
	}
	chunkNumber, err := buf.ReadVarUint64()
	if err != nil {
		return FragmentHeader{}, err
	}
	return FragmentHeader{
		Group:         uint32(group),
		TotalBits:     uint32(totalBits),
		ChunkByteSize: uint32(chunkByteSize),
		ChunkNumber:   uint32(chunkNumber),
	}, nil
}
