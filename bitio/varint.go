package bitio

// WriteVarUint64 emits 7 bits per byte, little-endian, with the high bit of
// each byte as a continuation flag.
func (b *BitBuffer) WriteVarUint64(v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b.WriteU8(c | 0x80)
		} else {
			b.WriteU8(c)
			return
		}
	}
}

// readVarUint reads a base-128 varint capped at maxBytes bytes, checking
// that the final (overflow) byte carries no more than overflowBits of
// payload. Exhaustion before a terminator (no more bits in the buffer)
// surfaces as ErrNeedMoreData; exceeding maxBytes or an overflow byte with
// extra high bits set surfaces as ErrInvalidData.
func (b *BitBuffer) readVarUint(maxBytes, overflowBits int) (uint64, error) {
	var v uint64
	for i := 0; i < maxBytes; i++ {
		c, err := b.ReadU8()
		if err != nil {
			return 0, ErrNeedMoreData
		}
		isLast := i == maxBytes-1
		payload := c & 0x7f
		if isLast {
			limit := byte((1 << uint(overflowBits)) - 1)
			if payload&^limit != 0 {
				return 0, ErrInvalidData
			}
		}
		v |= uint64(payload) << uint(7*i)
		if c&0x80 == 0 {
			return v, nil
		}
		if isLast {
			return 0, ErrInvalidData
		}
	}
	return 0, ErrInvalidData
}

// WriteVarUint32 is WriteVarUint64 restricted to a 32-bit domain; the wire
// encoding is identical, the distinction only matters for the decoder's
// byte-count and overflow-bit limits.
func (b *BitBuffer) WriteVarUint32(v uint32) { b.WriteVarUint64(uint64(v)) }

// ReadVarUint64 decodes a varint that must terminate within 10 bytes, with
// the 10th (overflow) byte carrying only its low bit (64 = 9*7 + 1).
func (b *BitBuffer) ReadVarUint64() (uint64, error) {
	return b.readVarUint(10, 1)
}

// ReadVarUint32 decodes a varint that must terminate within 5 bytes, with
// the 5th (overflow) byte carrying only its low 4 bits (32 = 4*7 + 4).
func (b *BitBuffer) ReadVarUint32() (uint32, error) {
	v, err := b.readVarUint(5, 4)
	return uint32(v), err
}

// WriteVarInt64 zig-zags v (small magnitudes stay small) and writes the
// result as a VarUint64.
func (b *BitBuffer) WriteVarInt64(v int64) {
	zz := uint64(v<<1) ^ uint64(v>>63)
	b.WriteVarUint64(zz)
}

// ReadVarInt64 reverses WriteVarInt64's zig-zag encoding.
func (b *BitBuffer) ReadVarInt64() (int64, error) {
	zz, err := b.ReadVarUint64()
	if err != nil {
		return 0, err
	}
	return int64(zz>>1) ^ -int64(zz&1), nil
}

// WriteVarInt32 is the 32-bit analog of WriteVarInt64.
func (b *BitBuffer) WriteVarInt32(v int32) {
	zz := uint32(v<<1) ^ uint32(v>>31)
	b.WriteVarUint32(zz)
}

// ReadVarInt32 is the 32-bit analog of ReadVarInt64.
func (b *BitBuffer) ReadVarInt32() (int32, error) {
	zz, err := b.ReadVarUint32()
	if err != nil {
		return 0, err
	}
	return int32(zz>>1) ^ -int32(zz&1), nil
}
