package relay

import (
	"sync"

	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/logger"
)

// Error codes sent back to clients in ERROR envelopes
const (
	ErrorCodeUnknownRecipient = "UNKNOWN_RECIPIENT"
	ErrorCodeMalformed        = "MALFORMED"
	ErrorCodeNotAnnounced     = "NOT_ANNOUNCED"
)

type inbound struct {
	from *Client
	env  *envelope.Envelope
	raw  []byte
}

// Hub maintains the set of active clients and routes envelopes between them
type Hub struct {
	clients map[*Client]bool
	names   map[string]*Client
	mu      sync.RWMutex

	route      chan inbound
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		names:      make(map[string]*Client),
		route:      make(chan inbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	logger.Info("Relay hub started")
	defer logger.Info("Relay hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug("Client registered: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			logger.Debug("Client unregistered: %s", client.ID)

		case msg := <-h.route:
			h.handle(msg)

		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if client.name != "" && h.names[client.name] == client {
		delete(h.names, client.name)
	}
	close(client.send)
}

func (h *Hub) handle(msg inbound) {
	env := msg.env

	if env.Type == envelope.TypeUserHello {
		h.announce(msg.from, env)
		return
	}
	if env.To == envelope.ServerAddr {
		// HEARTBEAT and other control envelopes need no reply
		return
	}
	if msg.from.name == "" {
		h.replyError(msg.from, ErrorCodeNotAnnounced, "send USER_HELLO first")
		return
	}

	if env.IsBroadcast() {
		h.mu.Lock()
		for client := range h.clients {
			if client == msg.from || client.name == "" {
				continue
			}
			h.deliverLocked(client, msg.raw)
		}
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	target, ok := h.names[env.To]
	if !ok {
		h.replyErrorLocked(msg.from, ErrorCodeUnknownRecipient, env.To)
		return
	}
	h.deliverLocked(target, msg.raw)
}

func (h *Hub) announce(client *Client, env *envelope.Envelope) {
	name := env.From
	if hello, err := envelope.DecodePayload[envelope.HelloPayload](env); err == nil && hello.Client != "" {
		name = hello.Client
	}
	if name == "" {
		h.replyError(client, ErrorCodeMalformed, "USER_HELLO without client name")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	if client.name != "" && h.names[client.name] == client {
		delete(h.names, client.name)
	}
	if previous, ok := h.names[name]; ok && previous != client {
		logger.Info("Name %s moved from client %s to %s", name, previous.ID, client.ID)
		previous.name = ""
	}
	client.name = name
	h.names[name] = client
	logger.Info("Client %s announced as %s", client.ID, name)
}

// deliverLocked queues raw for client, dropping the client when its buffer
// is full.
func (h *Hub) deliverLocked(client *Client, raw []byte) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- raw:
	default:
		logger.Warn("Client %s send buffer full, disconnecting", client.ID)
		h.removeLocked(client)
	}
}

func (h *Hub) replyError(client *Client, code, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replyErrorLocked(client, code, detail)
}

func (h *Hub) replyErrorLocked(client *Client, code, detail string) {
	env, err := envelope.Build(envelope.TypeError, envelope.ServerAddr, client.name, envelope.ErrorPayload{Code: code, Detail: detail})
	if err != nil {
		logger.Error("Failed to build error envelope: %v", err)
		return
	}
	raw, err := envelope.Marshal(env)
	if err != nil {
		logger.Error("Failed to encode error envelope: %v", err)
		return
	}
	h.deliverLocked(client, raw)
}

// Stop stops the hub and closes every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Register registers a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Route hands an envelope read from client to the hub
func (h *Hub) Route(client *Client, env *envelope.Envelope, raw []byte) {
	select {
	case h.route <- inbound{from: client, env: env, raw: raw}:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasName reports whether name is announced by a connected client
func (h *Hub) HasName(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.names[name]
	return ok
}
