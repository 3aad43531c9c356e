// Package session owns the per-device Transport, serializing all I/O to a
// single device and implementing the reconnect/backoff policy. The poll
// engine talks to devices exclusively through a Session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/rs/zerolog"
)

// State is a Device Session's position in the DISCONNECTED/IDLE/BUSY state
// machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "idle"
	StateBusy         State = "busy"
)

// ErrDeviceUnavailable is returned when a Session cannot be opened within
// its backoff window; the poll engine treats it as "skip this device".
var ErrDeviceUnavailable = fmt.Errorf("session: device unavailable")

// Session is the single owner of a Transport for one device, serializing
// access via its own mutex. Not safe to share across engines polling the
// same device concurrently — there should be exactly one Session per alias.
type Session struct {
	alias   string
	newConn func() transport.Transport
	minBack time.Duration
	maxBack time.Duration

	mu                  sync.Mutex
	transport           transport.Transport
	state               State
	consecutiveFailures int
	lastAttempt         time.Time
	backoffDeadline     time.Time
	log                 zerolog.Logger
}

// New constructs a Session for a device. newConn builds a fresh, unopened
// Transport each time the session needs to (re)connect.
func New(alias string, newConn func() transport.Transport, minBackoff, maxBackoff time.Duration, log zerolog.Logger) *Session {
	return &Session{
		alias:   alias,
		newConn: newConn,
		minBack: minBackoff,
		maxBack: maxBackoff,
		state:   StateDisconnected,
		log:     log.With().Str("component", "session").Str("device", alias).Logger(),
	}
}

// State returns the session's current state, safe for concurrent readers
// (e.g. the HTTP API's device-status endpoint).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConsecutiveFailures reports how many connect/IO attempts have failed in a
// row since the last success.
func (s *Session) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// LastAttempt reports the time of the most recent connect/IO attempt.
func (s *Session) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

// WithTransport runs fn against a live, connected Transport, opening or
// reopening it if needed. Returns ErrDeviceUnavailable without calling fn if
// the session is within its backoff window or the reconnect attempt fails.
// On any error returned by fn, the transport is torn down and the session
// moves to DISCONNECTED with backoff advanced — callers must not attempt
// further work against this session in the same tick.
func (s *Session) WithTransport(ctx context.Context, fn func(transport.Transport) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		if time.Now().Before(s.backoffDeadline) {
			return ErrDeviceUnavailable
		}
		if err := s.reconnectLocked(ctx); err != nil {
			return ErrDeviceUnavailable
		}
	}

	s.state = StateBusy
	err := fn(s.transport)
	if err != nil {
		s.log.Warn().Err(err).Msg("transport I/O failed, disconnecting")
		s.failLocked()
		return err
	}
	s.state = StateIdle
	s.consecutiveFailures = 0
	return nil
}

func (s *Session) reconnectLocked(ctx context.Context) error {
	s.lastAttempt = time.Now()
	t := s.newConn()
	if err := t.Open(ctx); err != nil {
		s.log.Warn().Err(err).Msg("connect failed")
		s.failLocked()
		return err
	}
	s.transport = t
	s.state = StateIdle
	s.consecutiveFailures = 0
	s.log.Info().Msg("connected")
	return nil
}

func (s *Session) failLocked() {
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.state = StateDisconnected
	s.consecutiveFailures++
	s.backoffDeadline = time.Now().Add(backoffDuration(s.consecutiveFailures, s.minBack, s.maxBack))
}

// backoffDuration implements exponential backoff doubling from minBackoff,
// capped at maxBackoff: attempt 1 -> minBackoff, attempt 2 -> 2*minBackoff, ...
func backoffDuration(attempt int, minBackoff, maxBackoff time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := minBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Close tears down the underlying transport, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	s.state = StateDisconnected
	return err
}

// Registry is the process-wide alias -> Session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the existing Session for alias, or builds one with
// build if none exists yet.
func (r *Registry) GetOrCreate(alias string, build func() *Session) *Session {
	r.mu.RLock()
	s, ok := r.sessions[alias]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[alias]; ok {
		return s
	}
	s = build()
	r.sessions[alias] = s
	return s
}

// Get returns the existing Session for alias without creating one, for
// read-only status reporting.
func (r *Registry) Get(alias string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[alias]
	return s, ok
}

// Remove closes and forgets the session for alias, used when a device is
// deleted or deactivated.
func (r *Registry) Remove(alias string) {
	r.mu.Lock()
	s, ok := r.sessions[alias]
	delete(r.sessions, alias)
	r.mu.Unlock()
	if ok {
		_ = s.Close()
	}
}

// All returns a snapshot of every tracked session, keyed by alias.
func (r *Registry) All() map[string]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}
