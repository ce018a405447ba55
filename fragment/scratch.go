package fragment

import "github.com/kestrelnet/kestrel/bitio"

// scratchBuffer returns a fresh BitBuffer used only to measure the encoded
// size of a candidate fragment header; never sent over the wire.
func scratchBuffer() *bitio.BitBuffer { return bitio.New() }
