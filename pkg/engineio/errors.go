// Package engineio implements the client side of the engine.io v3
// transport protocol: packet codec, HTTP long-polling transport,
// WebSocket transport with its probe/upgrade handshake, and the
// coordinator that unifies both under a single sender/receiver pair.
package engineio

import "errors"

// Error kinds returned (wrapped) by this package. Use [errors.Is] to test for
// them, e.g. errors.Is(err, ErrInvalidState).
var (
	// ErrInvalidData marks malformed wire data: a bad opcode, bad base64,
	// a malformed length prefix, or an HTTP response outside the 2xx range.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidState marks an operation attempted in the wrong phase of
	// the connection lifecycle, e.g. sending after Close.
	ErrInvalidState = errors.New("invalid state")

	// ErrIO marks a network failure, including a request timeout that
	// exceeded the negotiated ping timeout.
	ErrIO = errors.New("i/o error")

	// ErrUTF8 marks a string that failed UTF-8 decoding.
	ErrUTF8 = errors.New("invalid utf-8")

	// ErrBase64 marks a binary payload that failed base64 decoding.
	ErrBase64 = errors.New("invalid base64")

	// ErrWebSocket wraps a lower-layer WebSocket error.
	ErrWebSocket = errors.New("websocket error")
)
