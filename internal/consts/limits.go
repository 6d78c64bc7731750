package consts

import "time"

// Buffer sizes
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize256KB is 256 kilobytes
	BufferSize256KB = 256 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// File transfer
const (
	// ChunkSize is the fixed size of a FILE_CHUNK slice before base64 encoding
	ChunkSize = BufferSize256KB
	// ChunkInterval is the pause between two consecutive chunks (5 chunks/second)
	ChunkInterval = 200 * time.Millisecond
)

// Session timers
const (
	// HeartbeatInterval is the period between HEARTBEAT envelopes while connected
	HeartbeatInterval = 25 * time.Second
	// ReconnectDelay is the fixed wait between a socket close and the next dial
	ReconnectDelay = 1 * time.Second
	// DialTimeout bounds a single WebSocket handshake
	DialTimeout = 10 * time.Second
	// WriteTimeout bounds a single frame write
	WriteTimeout = 10 * time.Second
)

// Mailboxes
const (
	// SessionMailboxSize is the capacity of the socket-owner mailbox
	SessionMailboxSize = 256
	// InboundBufferSize is the capacity of the inbound delivery queue
	InboundBufferSize = 256
)

// NonceBytes is the number of random bytes in an envelope nonce (32 hex chars)
const NonceBytes = 16

// MaxFrameSize is the largest inbound frame accepted from the server.
// A base64 FILE_CHUNK of ChunkSize bytes plus its envelope fits comfortably.
const MaxFrameSize = 2 * BufferSize1MB
