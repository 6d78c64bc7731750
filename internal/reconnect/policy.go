// Package reconnect schedules new connection attempts after the transport
// closes. The wait between attempts comes from a backoff policy; the default
// is a fixed one second with no attempt limit.
package reconnect

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codefionn/echochat/internal/consts"
)

// Policy yields the delay before each reconnect attempt. NextBackOff
// returning backoff.Stop means no further attempts.
type Policy = backoff.BackOff

// Default returns the fixed one-second policy.
func Default() Policy {
	return Fixed(consts.ReconnectDelay)
}

// Fixed waits d before every attempt, forever.
func Fixed(d time.Duration) Policy {
	return backoff.NewConstantBackOff(d)
}

// Exponential doubles the delay from initial up to max, without jitter.
func Exponential(initial, max time.Duration) Policy {
	return ExponentialJitter(initial, max, 0)
}

// ExponentialJitter doubles the delay from initial up to max and spreads
// each delay by ±factor (0.5 means anywhere in [d/2, 3d/2]).
func ExponentialJitter(initial, max time.Duration, factor float64) Policy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = factor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// WithMaxAttempts stops p after n attempts. n <= 0 leaves p unlimited.
func WithMaxAttempts(p Policy, n int) Policy {
	if n <= 0 {
		return p
	}
	return backoff.WithMaxRetries(p, uint64(n))
}
