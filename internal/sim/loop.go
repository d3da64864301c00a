// Package sim runs the simulated coprocessor behind a single apply point.
//
// One goroutine owns the device. Transport commands, observer-injected
// commands and snapshot requests all land on one first-come queue and
// are applied in arrival order; nothing else touches device state.
package sim

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dotpanel/dotpanel/internal/coproc"
	"github.com/dotpanel/dotpanel/internal/observability"
	"github.com/dotpanel/dotpanel/internal/protocol"
)

// Publisher receives the apply loop's outputs. Implemented by the
// session broker.
type Publisher interface {
	Publish(delta *coproc.Delta, events []protocol.Message)
	Sync(sessionID string, snap *coproc.Delta)
}

// EventWriter carries events back over the serial link to the host.
// Implemented by the transport adapter.
type EventWriter interface {
	Send(msg protocol.Message) bool
}

// Config tunes the apply loop. Zero values fall back to defaults.
type Config struct {
	// QueueSize bounds the pending command queue. Submitters block when
	// it is full, which is the natural backpressure toward the
	// transport reader.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	return c
}

type requestKind int

const (
	reqTransport requestKind = iota
	reqObserver
	reqSync
)

func (k requestKind) origin() string {
	if k == reqObserver {
		return "observer"
	}
	return "transport"
}

type request struct {
	kind    requestKind
	session string
	msg     protocol.Message
}

// Loop is the single apply point for one simulated coprocessor.
type Loop struct {
	cfg       Config
	device    *coproc.Device
	logger    zerolog.Logger
	queue     chan request
	publisher Publisher
	events    EventWriter
}

func NewLoop(cfg Config, device *coproc.Device, logger zerolog.Logger) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:    cfg,
		device: device,
		logger: logger.With().Str("component", "sim").Logger(),
		queue:  make(chan request, cfg.QueueSize),
	}
}

// SetPublisher wires the broker in. Must be called before Run.
func (l *Loop) SetPublisher(p Publisher) { l.publisher = p }

// SetEventWriter wires the transport's write side in. Optional; without
// it events reach observers only.
func (l *Loop) SetEventWriter(w EventWriter) { l.events = w }

// SubmitTransport enqueues a command decoded from the serial link.
// Blocks while the queue is full.
func (l *Loop) SubmitTransport(msg protocol.Message) {
	l.queue <- request{kind: reqTransport, msg: msg}
}

// SubmitObserver enqueues an observer-injected command. Part of the
// broker's Applier contract.
func (l *Loop) SubmitObserver(sessionID string, cmd protocol.Message) {
	l.queue <- request{kind: reqObserver, session: sessionID, msg: cmd}
}

// RequestSync enqueues a snapshot request for one session. The snapshot
// is taken at the loop's current sequence point, so the session sees no
// gap between it and subsequent deltas.
func (l *Loop) RequestSync(sessionID string) {
	l.queue <- request{kind: reqSync, session: sessionID}
}

// Run consumes the queue until ctx is cancelled. Commands already queued
// when ctx ends are dropped.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().
		Int("width", l.device.Width()).
		Int("height", l.device.Height()).
		Bool("rgb", l.device.Rgb()).
		Msg("apply loop running")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("apply loop stopped")
			return
		case req := <-l.queue:
			l.handle(req)
		}
	}
}

func (l *Loop) handle(req request) {
	if req.kind == reqSync {
		l.logger.Debug().Str("session", req.session).Msg("snapshot request")
		l.publisher.Sync(req.session, l.device.Snapshot())
		return
	}

	events, delta := l.device.Apply(req.msg)
	observability.IncCommandApplied(req.msg.Kind().String(), req.kind.origin())
	for _, ev := range events {
		if f, ok := ev.(protocol.Fault); ok {
			observability.IncFault(f.Code.String())
			l.logger.Warn().
				Stringer("command", req.msg.Kind()).
				Stringer("code", f.Code).
				Str("detail", f.Detail).
				Msg("command faulted")
		}
		if l.events != nil {
			l.events.Send(ev)
		}
	}
	if delta != nil || len(events) > 0 {
		l.publisher.Publish(delta, events)
	}
}
