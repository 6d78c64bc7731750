package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/echochat/internal/actor"
	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/heartbeat"
	"github.com/codefionn/echochat/internal/logger"
	"github.com/codefionn/echochat/internal/reconnect"
)

type dialMsg struct{}

func (dialMsg) Type() string { return "dial" }

type heartbeatMsg struct{}

func (heartbeatMsg) Type() string { return "heartbeat" }

type connLostMsg struct {
	connID uint64
	err    error
}

func (connLostMsg) Type() string { return "conn_lost" }

type sendResult struct {
	env envelope.Envelope
	err error
}

type sendMsg struct {
	ctx    context.Context
	env    envelope.Envelope
	result chan sendResult
}

func (sendMsg) Type() string { return "send" }

// owner is the actor that exclusively holds the socket.
type owner struct {
	s   *Session
	ref *actor.ActorRef
	log *logger.Logger

	handler   Handler
	inbound   chan *envelope.Envelope
	heartbeat *heartbeat.Manager
	reconnect *reconnect.Controller

	conn   Conn
	connID uint64

	// readers tracks the per-socket reader goroutines.
	readers sync.WaitGroup
}

func newOwner(s *Session, handler Handler) *owner {
	return &owner{
		s:         s,
		log:       s.log,
		handler:   handler,
		inbound:   make(chan *envelope.Envelope, s.opts.inboundBuffer),
		heartbeat: heartbeat.New(s.opts.heartbeatInterval),
		reconnect: reconnect.NewController(s.opts.policy),
	}
}

func (o *owner) ID() string { return "session" }

func (o *owner) Start(ctx context.Context) error {
	go o.dispatch(ctx)
	return nil
}

// Stop runs after the receive loop has exited.
func (o *owner) Stop(ctx context.Context) error {
	o.heartbeat.Stop()
	o.reconnect.Cancel()
	if o.conn != nil {
		_ = o.conn.Close()
		o.conn = nil
	}
	return nil
}

// wait blocks until every reader goroutine has returned.
func (o *owner) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		o.readers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *owner) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case dialMsg:
		o.dial(ctx)
	case heartbeatMsg:
		if o.conn == nil {
			return nil
		}
		env, err := envelope.Build(envelope.TypeHeartbeat, o.s.Identity(), envelope.ServerAddr, envelope.HeartbeatPayload{})
		if err != nil {
			return err
		}
		if err := o.write(env); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
	case connLostMsg:
		o.lost(m.connID, m.err)
	case sendMsg:
		if err := m.ctx.Err(); err != nil {
			m.result <- sendResult{err: err}
			return nil
		}
		env := m.env
		err := o.write(&env)
		m.result <- sendResult{env: env, err: err}
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}
	return nil
}

func (o *owner) dial(ctx context.Context) {
	if o.conn != nil || ctx.Err() != nil {
		return
	}

	o.s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, o.s.opts.dialTimeout)
	conn, err := o.s.opts.dialer.Dial(dialCtx, o.s.url)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.log.Warn("dial %s failed: %v", o.s.url, err)
		o.scheduleReconnect()
		return
	}

	o.connID++
	o.conn = conn
	id := o.connID
	o.readers.Add(1)
	go func() {
		defer o.readers.Done()
		o.readLoop(ctx, conn, id)
	}()

	identity := o.s.Identity()
	hello, err := envelope.Build(envelope.TypeUserHello, identity, envelope.ServerAddr, envelope.HelloPayload{
		Client:    identity,
		PubKey:    o.s.opts.pubKey,
		EncPubKey: o.s.opts.encPubKey,
	})
	if err != nil {
		o.log.Error("failed to build hello: %v", err)
		o.lost(id, err)
		return
	}
	if err := o.write(hello); err != nil {
		o.log.Warn("failed to send hello: %v", err)
		return
	}

	o.heartbeat.Start(func() {
		if err := o.ref.Send(heartbeatMsg{}); err != nil {
			o.log.Debug("heartbeat skipped: %v", err)
		}
	})
	o.reconnect.Reset()
	o.s.stats.connects.Add(1)
	o.s.setState(StateConnected)
	o.log.Info("connected to %s", o.s.url)
}

// write stamps, signs and writes env on the current socket. A write
// failure is treated as a lost connection.
func (o *owner) write(env *envelope.Envelope) error {
	if o.conn == nil {
		o.s.stats.droppedSends.Add(1)
		return ErrNotConnected
	}

	env.From = o.s.Identity()
	if err := envelope.Stamp(env, time.Now()); err != nil {
		return err
	}
	sig, err := o.s.opts.signer.Sign(env)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", env.Type, err)
	}
	env.Sig = sig

	data, err := envelope.Marshal(env)
	if err != nil {
		return err
	}

	if err := o.conn.WriteMessage(data); err != nil {
		o.lost(o.connID, err)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	o.s.stats.sent.Add(1)
	o.log.Debug("sent %s to %s", env.Type, env.To)
	return nil
}

func (o *owner) lost(connID uint64, err error) {
	if o.conn == nil || connID != o.connID {
		return
	}

	o.heartbeat.Stop()
	_ = o.conn.Close()
	o.conn = nil

	o.log.Info("connection to %s closed: %v", o.s.url, err)
	o.scheduleReconnect()
}

func (o *owner) scheduleReconnect() {
	o.s.setState(StateReconnectPending)

	delay, ok := o.reconnect.Schedule(func() {
		if err := o.ref.Send(dialMsg{}); err != nil {
			o.log.Debug("reconnect skipped: %v", err)
		}
	})
	if !ok {
		o.log.Error("giving up on %s after %d attempts", o.s.url, o.reconnect.Attempts())
		o.s.setState(StateDisconnected)
		// shutdown stops this actor and waits for Receive to return.
		go func() {
			_ = o.s.shutdown(context.Background(), fmt.Errorf("%w: %w", ErrClosed, ErrReconnectExhausted))
		}()
		return
	}

	o.s.stats.reconnectAttempts.Add(1)
	o.log.Info("reconnecting to %s in %s", o.s.url, delay)
}

// readLoop parses frames from one socket and queues them for dispatch.
func (o *owner) readLoop(ctx context.Context, conn Conn, connID uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if sendErr := o.ref.SendContext(ctx, connLostMsg{connID: connID, err: err}); sendErr != nil {
				o.log.Debug("reader exiting: %v", err)
			}
			return
		}

		env, err := envelope.Parse(data)
		if err != nil {
			o.s.stats.malformed.Add(1)
			o.log.Warn("dropping inbound frame: %v", err)
			continue
		}
		o.s.stats.received.Add(1)

		select {
		case o.inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch calls the handler for each inbound envelope, one at a time.
func (o *owner) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-o.inbound:
			if o.handler != nil {
				o.handler(env)
			}
		}
	}
}
