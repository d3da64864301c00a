package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dotpanel/dotpanel/internal/coproc"
	"github.com/dotpanel/dotpanel/internal/observability"
	"github.com/dotpanel/dotpanel/internal/protocol"
)

// Config tunes the broker. Zero values fall back to defaults.
type Config struct {
	// QueueCapacity bounds each session's outbound queue. Exceeding it
	// pushes the session into Draining.
	QueueCapacity int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	return c
}

// Broker fans coprocessor deltas and events out to observer sessions and
// feeds observer-injected commands into the simulation's apply queue.
//
// Session registration and removal take only the broker's own lock; they
// are never serialized behind the apply point.
type Broker struct {
	cfg     Config
	logger  zerolog.Logger
	applier Applier

	mu       sync.RWMutex
	sessions map[string]*Session
	lastSeq  uint64
}

func New(cfg Config, logger zerolog.Logger) *Broker {
	return &Broker{
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "broker").Logger(),
		sessions: make(map[string]*Session),
	}
}

// SetApplier wires the simulation loop in. Must be called before Join.
func (b *Broker) SetApplier(a Applier) {
	b.applier = a
}

// Join registers a new observer session and requests its initial
// snapshot through the apply queue, so the snapshot lands at an exact
// sequence point relative to live deltas.
func (b *Broker) Join(ctx context.Context, client Client) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	s := newSession(id, b, client, b.cfg.QueueCapacity, b.logger)

	sessionCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	b.mu.Lock()
	b.sessions[id] = s
	active := len(b.sessions)
	b.mu.Unlock()
	observability.SetSessionsActive(active)

	go s.drainLoop(sessionCtx)
	go s.controlLoop()

	b.logger.Info().Str("session", id).Int("active", active).Msg("observer joined")
	b.applier.RequestSync(id)
	return s, nil
}

// Publish broadcasts one apply step's outputs to all sessions in
// production order: the delta first, then its events. Called only from
// the simulation loop.
func (b *Broker) Publish(delta *coproc.Delta, events []protocol.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if delta != nil {
		b.lastSeq = delta.Seq
		kind := EnvelopeDelta
		if delta.Snapshot != nil {
			kind = EnvelopeSnapshot
		}
		b.broadcastLocked(Envelope{Kind: kind, Seq: delta.Seq, Payload: delta})
	}
	for _, ev := range events {
		b.broadcastLocked(Envelope{
			Kind: EnvelopeEvent,
			Seq:  b.lastSeq,
			Payload: EventPayload{
				Type:  ev.Kind().String(),
				Event: ev,
			},
		})
	}
}

func (b *Broker) broadcastLocked(env Envelope) {
	observability.IncBroadcast(env.Kind)
	for _, s := range b.sessions {
		s.deliver(env)
	}
}

// Sync delivers a fresh snapshot to one session and marks it Synced.
// Called only from the simulation loop, in sequence with Publish.
func (b *Broker) Sync(sessionID string, snap *coproc.Delta) {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	if ok {
		b.lastSeq = snap.Seq
	}
	b.mu.RUnlock()
	if !ok {
		return
	}
	s.sync(Envelope{Kind: EnvelopeSnapshot, Seq: snap.Seq, Payload: snap})
}

// Sessions returns the number of registered sessions.
func (b *Broker) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Close tears down every session.
func (b *Broker) Close() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	observability.SetSessionsActive(0)
}

func (b *Broker) remove(sessionID string) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	active := len(b.sessions)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	observability.SetSessionsActive(active)
	b.logger.Info().Str("session", sessionID).Int("active", active).Msg("observer left")
}

func (b *Broker) submitCommand(sessionID string, cmd protocol.Message) {
	if cmd == nil {
		return
	}
	b.applier.SubmitObserver(sessionID, cmd)
}

func (b *Broker) requestSync(sessionID string) {
	b.applier.RequestSync(sessionID)
}
