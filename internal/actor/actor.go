package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/echochat/internal/logger"
)

// ErrStopped is returned when sending to an actor that has been stopped.
var ErrStopped = errors.New("actor is stopped")

// ErrMailboxFull is returned by Send when the mailbox has no free slot.
var ErrMailboxFull = errors.New("actor mailbox is full")

// Message represents a message sent to an actor
type Message interface {
	Type() string
}

// Actor is a component whose state is only touched by its own run loop.
type Actor interface {
	// Receive processes one message. It is never called concurrently.
	Receive(ctx context.Context, msg Message) error
	// Start is called once before the run loop begins.
	Start(ctx context.Context) error
	// Stop is called once after the run loop has exited.
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ActorRef is a reference to a running actor for sending messages
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	log     *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	stopped bool
}

// ActorRefOption configures an ActorRef.
type ActorRefOption func(*ActorRef)

// WithLogger routes the run loop's error logging to l.
func WithLogger(l *logger.Logger) ActorRefOption {
	return func(ref *ActorRef) {
		if l != nil {
			ref.log = l
		}
	}
}

// NewActorRef creates a reference for actor with the given mailbox capacity.
func NewActorRef(id string, actor Actor, mailboxSize int, opts ...ActorRefOption) *ActorRef {
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		done:    make(chan struct{}),
		log:     logger.Global().WithPrefix("actor:" + id),
	}
	for _, opt := range opts {
		opt(ref)
	}
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Done is closed once Stop has been called.
func (ref *ActorRef) Done() <-chan struct{} {
	return ref.done
}

// Send enqueues msg without blocking.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if ref.stopped {
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("%s: %w", ref.id, ErrMailboxFull)
	}
}

// SendContext enqueues msg, waiting for mailbox space until ctx is done or
// the actor is stopped.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	stopped := ref.stopped
	ref.mu.RUnlock()
	if stopped {
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ref.done:
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	if ref.started {
		ref.mu.Unlock()
		return fmt.Errorf("actor %s already started", ref.id)
	}
	ref.started = true
	ref.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	ref.cancel = cancel

	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop cancels the run loop, waits for the message being processed to
// finish, then calls the actor's Stop. Messages still queued are discarded.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	close(ref.done)
	ref.mu.Unlock()

	if ref.cancel != nil {
		ref.cancel()
	}

	finished := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			if err := ref.actor.Receive(ctx, msg); err != nil {
				// Log error but continue processing
				ref.log.Error("error processing %s: %v", msg.Type(), err)
			}
		}
	}
}
