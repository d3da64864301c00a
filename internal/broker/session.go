package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dotpanel/dotpanel/internal/observability"
)

// SessionState is one observer session's lifecycle position.
type SessionState int

const (
	// StateConnecting: joined, waiting for its first snapshot. Live
	// deltas produced before the snapshot are not queued; the snapshot
	// subsumes them.
	StateConnecting SessionState = iota
	// StateSynced: snapshot delivered, incremental deltas flowing.
	StateSynced
	// StateDraining: outbound queue overflowed. Nothing new is queued
	// beyond a single resync marker; a fresh snapshot follows the
	// observer's resume.
	StateDraining
	// StateClosed: terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func validTransition(from, to SessionState) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	switch from {
	case StateConnecting:
		return to == StateSynced
	case StateSynced:
		return to == StateDraining
	case StateDraining:
		return to == StateSynced
	default:
		return false
	}
}

// Session is one observer connection and its synchronization state.
type Session struct {
	ID string

	broker *Broker
	client Client
	logger zerolog.Logger
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	state    SessionState
	queue    []Envelope
	capacity int
	lastAck  uint64
}

func newSession(id string, b *Broker, client Client, capacity int, logger zerolog.Logger) *Session {
	s := &Session{
		ID:       id,
		broker:   b,
		client:   client,
		logger:   logger.With().Str("session", id).Logger(),
		state:    StateConnecting,
		capacity: capacity,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastAck returns the highest envelope seq the observer acknowledged.
func (s *Session) LastAck() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAck
}

// QueueLen returns the number of envelopes awaiting delivery.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) transitionLocked(to SessionState) bool {
	if !validTransition(s.state, to) {
		return false
	}
	s.logger.Debug().Stringer("from", s.state).Stringer("to", to).Msg("session transition")
	s.state = to
	return true
}

// deliver queues one live envelope for a synced session. On overflow the
// session enters Draining and a single resync marker is appended past the
// capacity bound.
func (s *Session) deliver(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSynced:
		if len(s.queue) < s.capacity {
			s.queue = append(s.queue, env)
			s.cond.Signal()
			return
		}
		if s.transitionLocked(StateDraining) {
			observability.IncSessionOverflow()
			s.logger.Warn().Int("queued", len(s.queue)).Msg("queue overflow, draining")
			s.queue = append(s.queue, Envelope{Kind: EnvelopeResync, Seq: env.Seq})
			s.cond.Signal()
		}
	default:
		// Connecting sessions wait for their snapshot; draining sessions
		// get a fresh snapshot on resume; closed sessions get nothing.
	}
}

// sync force-queues a snapshot and moves the session to Synced. Used for
// the initial join and for recovery after draining.
func (s *Session) sync(snap Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateSynced {
		return
	}
	if s.transitionLocked(StateSynced) {
		s.queue = append(s.queue, snap)
		s.cond.Signal()
	}
}

func (s *Session) ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastAck {
		s.lastAck = seq
	}
}

// resumable reports whether a resume control is legal right now.
func (s *Session) resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDraining
}

func (s *Session) close() {
	s.mu.Lock()
	s.transitionLocked(StateClosed)
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.client.Close()
}

// drainLoop delivers queued envelopes to the observer in order. It is the
// only reader of the queue; cancelling it never touches other sessions.
func (s *Session) drainLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state != StateClosed {
			s.cond.Wait()
		}
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.client.Send(ctx, env); err != nil {
			s.logger.Debug().Err(err).Msg("send failed, closing session")
			s.broker.remove(s.ID)
			return
		}
	}
}

// controlLoop consumes observer control messages until disconnect.
func (s *Session) controlLoop() {
	for ctl := range s.client.Receive() {
		switch ctl.Kind {
		case ControlCommand:
			s.broker.submitCommand(s.ID, ctl.Command)
		case ControlAck:
			s.ack(ctl.Seq)
		case ControlResume:
			if s.resumable() {
				s.broker.requestSync(s.ID)
			}
		case ControlInvalid:
			s.logger.Warn().Err(ctl.Err).Msg("observer protocol violation")
			s.broker.remove(s.ID)
			return
		}
	}
	s.broker.remove(s.ID)
}

func generateSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
