package bitio

import "time"

// tickResolution documents the wire tick resolution of 10^7 per second
// (one tick is 100ns), matching the component contract's TimeSpan type.
const tickResolution = 100 * time.Nanosecond

// WriteTimeSpan writes d as a zig-zag VarInt count of 100ns ticks.
func (b *BitBuffer) WriteTimeSpan(d time.Duration) {
	b.WriteVarInt64(int64(d / tickResolution))
}

// ReadTimeSpan reverses WriteTimeSpan.
func (b *BitBuffer) ReadTimeSpan() (time.Duration, error) {
	ticks, err := b.ReadVarInt64()
	if err != nil {
		return 0, err
	}
	return time.Duration(ticks) * tickResolution, nil
}
