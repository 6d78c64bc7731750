package session

import "errors"

var (
	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("session is not connected")
	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("session is closed")
	// ErrReconnectExhausted is reported by Err when the reconnect policy
	// gave up and the session closed itself.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("session already connected")
)
