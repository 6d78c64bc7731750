package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/codefionn/echochat/internal/actor"
	"github.com/codefionn/echochat/internal/consts"
	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/logger"
)

// Handler receives every envelope parsed from the socket, in arrival order,
// including control types. Demultiplexing by Type is up to the handler.
type Handler func(env *envelope.Envelope)

// ChannelHandler returns a Handler that forwards envelopes into ch. The
// send blocks, so a slow consumer slows down reading from the socket
// instead of losing messages.
func ChannelHandler(ch chan<- *envelope.Envelope) Handler {
	return func(env *envelope.Envelope) {
		ch <- env
	}
}

// Stats are cumulative counters for a Session.
type Stats struct {
	Connects          int64
	ReconnectAttempts int64
	Sent              int64
	Received          int64
	MalformedFrames   int64
	DroppedSends      int64
}

type counters struct {
	connects          atomic.Int64
	reconnectAttempts atomic.Int64
	sent              atomic.Int64
	received          atomic.Int64
	malformed         atomic.Int64
	droppedSends      atomic.Int64
}

// Session is the client side of one logical connection to a server.
type Session struct {
	url  string
	opts options
	log  *logger.Logger

	identity atomic.Value // string
	state    atomic.Int32 // State
	stats    counters

	// stateChanged is closed and replaced on every state transition.
	stateMu      sync.Mutex
	stateChanged chan struct{}

	mu        sync.Mutex
	ref       *actor.ActorRef
	owner     *owner
	closed    bool
	cause     error
	stopAfter func() bool
	done      chan struct{}
}

// New creates a disconnected session for the WebSocket server at rawURL.
func New(rawURL, identity string, opts ...Option) (*Session, error) {
	if rawURL == "" {
		return nil, errors.New("server url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be ws or wss", rawURL)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = &WebsocketDialer{WriteTimeout: o.writeTimeout}
	}
	if o.log == nil {
		o.log = logger.Global().WithPrefix("session")
	}

	s := &Session{
		url:          rawURL,
		opts:         o,
		log:          o.log,
		done:         make(chan struct{}),
		stateChanged: make(chan struct{}),
	}
	s.identity.Store(identity)
	s.state.Store(int32(StateDisconnected))
	return s, nil
}

// URL returns the server address.
func (s *Session) URL() string {
	return s.url
}

// Identity returns the name used as from on outgoing envelopes.
func (s *Session) Identity() string {
	if v, ok := s.identity.Load().(string); ok {
		return v
	}
	return ""
}

// SetIdentity changes the from field of envelopes sent after the call.
// It does not send a new USER_HELLO; the next reconnect announces it.
func (s *Session) SetIdentity(name string) {
	s.identity.Store(name)
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old == state {
		return
	}
	s.log.Debug("state %s -> %s", old, state)

	s.stateMu.Lock()
	close(s.stateChanged)
	s.stateChanged = make(chan struct{})
	s.stateMu.Unlock()

	if s.opts.stateListener != nil {
		s.opts.stateListener(state)
	}
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Connects:          s.stats.connects.Load(),
		ReconnectAttempts: s.stats.reconnectAttempts.Load(),
		Sent:              s.stats.sent.Load(),
		Received:          s.stats.received.Load(),
		MalformedFrames:   s.stats.malformed.Load(),
		DroppedSends:      s.stats.droppedSends.Load(),
	}
}

// Done is closed when Disconnect is called, when the Connect context is
// cancelled, or when the reconnect policy gives up.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns nil while the session is open. After Done is closed it
// returns ErrClosed, wrapped with ErrReconnectExhausted when the session
// closed itself because the reconnect policy gave up.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// WaitConnected blocks until the session is Connected. It returns ctx's
// error when ctx ends first and Err when the session closes first. Any
// number of goroutines may wait at once.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.stateMu.Lock()
		changed := s.stateChanged
		s.stateMu.Unlock()

		if s.State() == StateConnected {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return s.Err()
		}
	}
}

// Connect starts the session: it dials in the background, and on every
// successful dial sends USER_HELLO and starts heartbeats. Dial failures and
// socket closes are retried per the reconnect policy, never returned. When
// the policy gives up the session closes itself; see Err.
// onMessage may be nil. Cancelling ctx has the same effect as Disconnect.
func (s *Session) Connect(ctx context.Context, onMessage Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.cause
	}
	if s.ref != nil {
		return ErrAlreadyConnected
	}

	o := newOwner(s, onMessage)
	ref := actor.NewActorRef("session", o, consts.SessionMailboxSize, actor.WithLogger(s.log))
	o.ref = ref
	if err := ref.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	s.ref = ref
	s.owner = o
	s.stopAfter = context.AfterFunc(ctx, func() {
		_ = s.Disconnect(context.Background())
	})

	s.log.Info("connecting to %s as %s", s.url, s.Identity())
	return ref.Send(dialMsg{})
}

// Send stamps env with the current identity, a timestamp and a nonce when
// missing, signs it and writes it to the socket. The stamped fields are
// copied back into env on success.
//
// Without an open socket Send returns ErrNotConnected and nothing is queued.
func (s *Session) Send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return errors.New("nil envelope")
	}

	s.mu.Lock()
	ref, closed, cause := s.ref, s.closed, s.cause
	s.mu.Unlock()

	if closed {
		return cause
	}
	if ref == nil || s.State() != StateConnected {
		s.stats.droppedSends.Add(1)
		s.log.Debug("dropping %s: %v", env.Type, ErrNotConnected)
		return ErrNotConnected
	}

	req := sendMsg{ctx: ctx, env: *env, result: make(chan sendResult, 1)}
	if err := ref.SendContext(ctx, req); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return ErrClosed
		}
		return err
	}

	select {
	case res := <-req.result:
		if res.err == nil {
			*env = res.env
		}
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Disconnect cancels the heartbeat, any pending reconnect or dial, closes
// the socket and stops all session goroutines. The session cannot be
// connected again. Calling Disconnect more than once is safe.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.shutdown(ctx, ErrClosed)
}

// shutdown closes the session once, recording cause for Err.
func (s *Session) shutdown(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cause = cause
	ref, o, stopAfter := s.ref, s.owner, s.stopAfter
	close(s.done)
	s.mu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}

	var err error
	if ref != nil {
		err = ref.Stop(ctx)
		if waitErr := o.wait(ctx); err == nil {
			err = waitErr
		}
	}

	s.setState(StateDisconnected)
	s.log.Info("disconnected from %s", s.url)
	return err
}
