// Package session maintains the client's single WebSocket connection to an
// echochat server and speaks the envelope protocol over it.
//
// # Lifecycle
//
// A Session is created once per run with New and started with Connect. It
// then cycles through these states on its own:
//
//	Disconnected -> Connecting -> Connected -> ReconnectPending -> Connecting -> ...
//
// On every successful dial the session sends USER_HELLO and starts a
// heartbeat ticker. When the socket closes the ticker stops and the
// reconnect policy (fixed one second by default) decides when to dial
// again. Disconnect ends the cycle for good.
//
// # Concurrency
//
// One goroutine owns the socket. Send, heartbeats, reconnect timers and
// close notifications are all messages to that goroutine, so writes never
// interleave. A reader goroutine per socket parses frames and hands them to
// a dispatcher goroutine, which calls the Handler in arrival order. The
// handler may call Send and Disconnect.
//
// # Errors
//
// Nothing the server sends can crash a session. Malformed frames are
// logged, counted in Stats and skipped. Send reports ErrNotConnected while
// there is no open socket and ErrClosed after Disconnect; it never queues.
package session
