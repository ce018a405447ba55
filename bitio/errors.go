package bitio

import "errors"

// Errors mirror the codec error classes from the component contract: reads
// past the valid bit range, malformed VarInt streams, and VarInt streams
// that end before a terminator byte is seen.
var (
	ErrEndOfMessage = errors.New("bitio: end of message")
	ErrInvalidData  = errors.New("bitio: invalid varint encoding")
	ErrNeedMoreData = errors.New("bitio: varint terminator not found in available data")
)
