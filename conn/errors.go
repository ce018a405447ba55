package conn

import "errors"

var (
	// ErrWrongAppIdentifier is the reason a handshake fails when the
	// remote's app_identifier doesn't match the local one.
	ErrWrongAppIdentifier = errors.New("wrong application identifier")
	// ErrHandshakeValidationFailed covers any other malformed or
	// out-of-sequence handshake payload.
	ErrHandshakeValidationFailed = errors.New("handshake validation failed")
	// ErrTimeout is the reason a connection is dropped after
	// connection_timeout with no packets received.
	ErrTimeout = errors.New("timeout")
	// ErrHandshakeFailed is the reason after exhausting
	// maximum_handshake_attempts with no response.
	ErrHandshakeFailed = errors.New("failed to establish connection")
	// ErrNotConnected is returned by operations that require Status ==
	// Connected.
	ErrNotConnected = errors.New("not connected")
)
