package session

import (
	"time"

	"github.com/codefionn/echochat/internal/consts"
	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/logger"
	"github.com/codefionn/echochat/internal/reconnect"
)

// Placeholder keys announced in USER_HELLO until a key-exchange
// collaborator provides real ones.
const (
	PlaceholderPubKey    = "dev-pubkey"
	PlaceholderEncPubKey = "dev-enc-pubkey"
)

type options struct {
	dialer            Dialer
	heartbeatInterval time.Duration
	policy            reconnect.Policy
	signer            envelope.Signer
	pubKey            string
	encPubKey         string
	log               *logger.Logger
	stateListener     func(State)
	inboundBuffer     int
	dialTimeout       time.Duration
	writeTimeout      time.Duration
}

func defaultOptions() options {
	return options{
		heartbeatInterval: consts.HeartbeatInterval,
		signer:            envelope.PlaceholderSigner{},
		pubKey:            PlaceholderPubKey,
		encPubKey:         PlaceholderEncPubKey,
		inboundBuffer:     consts.InboundBufferSize,
		dialTimeout:       consts.DialTimeout,
		writeTimeout:      consts.WriteTimeout,
	}
}

// Option configures a Session.
type Option func(*options)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHeartbeat sets the heartbeat period.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.heartbeatInterval = interval
		}
	}
}

// WithReconnectPolicy sets the delay strategy between reconnect attempts.
func WithReconnectPolicy(p reconnect.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithSigner sets the collaborator that fills the sig field.
func WithSigner(s envelope.Signer) Option {
	return func(o *options) {
		if s != nil {
			o.signer = s
		}
	}
}

// WithHelloKeys sets the keys announced in USER_HELLO.
func WithHelloKeys(pubKey, encPubKey string) Option {
	return func(o *options) {
		o.pubKey = pubKey
		o.encPubKey = encPubKey
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStateListener registers fn to be called on every state change. It
// runs on the socket-owner goroutine and must not block.
func WithStateListener(fn func(State)) Option {
	return func(o *options) { o.stateListener = fn }
}

// WithInboundBuffer sets how many parsed frames may wait for the handler
// before the reader stops reading from the socket.
func WithInboundBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.inboundBuffer = n
		}
	}
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write of the default dialer.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}
