// Package relay is a minimal echochat server for local development and
// end-to-end tests. It forwards envelopes unchanged between clients by the
// name each client announced in USER_HELLO; it does not verify signatures,
// store messages or reassemble files.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/echochat/internal/logger"
)

// DefaultAddr is the listen address used by cmd/echochat-relay
const DefaultAddr = "localhost:8080"

// Server is the relay's HTTP server
type Server struct {
	addr       string
	hub        *Hub
	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
}

// NewServer creates a relay listening on addr once started
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr: addr,
		hub:  NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
	}
}

// Handler returns the relay routes: /ws and /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok %d\n", s.hub.ClientCount())
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run()

	go func() {
		logger.Info("Relay listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the WebSocket URL clients dial
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/ws"
}

// Hub returns the routing hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop closes all client connections and shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Stopping relay...")

	s.hub.Stop()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
