// Package heartbeat emits periodic liveness ticks while a session is
// connected. Heartbeats are one-way: nothing waits for a reply, so a
// half-open socket is only noticed when the transport reports a close.
package heartbeat

import (
	"sync"
	"time"

	"github.com/codefionn/echochat/internal/consts"
)

// Manager runs at most one ticker at a time.
type Manager struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns a stopped manager ticking every interval. A non-positive
// interval uses the protocol default of 25 seconds.
func New(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = consts.HeartbeatInterval
	}
	return &Manager{interval: interval}
}

// Interval returns the tick period.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Start calls tick every interval until Stop. Any ticker started earlier is
// stopped first, so each connection gets a fresh schedule.
func (m *Manager) Start(tick func()) {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.done = stop, done

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Stop may race with a pending tick; it wins.
				select {
				case <-stop:
					return
				default:
				}
				tick()
			}
		}
	}()
}

// Stop cancels the ticker and waits for an in-progress tick to return.
// It is safe to call when not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether a ticker is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}
