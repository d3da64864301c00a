package transport

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotpanel/dotpanel/internal/framing"
	"github.com/dotpanel/dotpanel/internal/observability"
	"github.com/dotpanel/dotpanel/internal/protocol"
)

var ErrDisconnected = errors.New("transport: endpoint disconnected")

// Dialer opens the serial-like endpoint. The adapter redials it after
// endpoint loss; coprocessor state is owned elsewhere and survives.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Config tunes the adapter. Zero values fall back to defaults.
type Config struct {
	MaxFrameSize  int
	WriteQueueCap int
	Backoff       BackoffConfig
}

func (c Config) withDefaults() Config {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = framing.DefaultMaxFrameSize
	}
	if c.WriteQueueCap <= 0 {
		c.WriteQueueCap = 64
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Adapter bridges one raw byte endpoint to framed protocol messages.
// The read side feeds decoded commands to submit in stream order; the
// write side drains the outbound event queue. Framing and protocol
// errors are counted and logged, never fatal; endpoint loss triggers a
// redial with backoff.
type Adapter struct {
	cfg      Config
	dial     Dialer
	submit   func(protocol.Message)
	onStatus func(up bool)
	out      chan protocol.Message
	logger   zerolog.Logger
	rng      *rand.Rand
}

func NewAdapter(dial Dialer, submit func(protocol.Message), cfg Config, logger zerolog.Logger) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		cfg:    cfg,
		dial:   dial,
		submit: submit,
		out:    make(chan protocol.Message, cfg.WriteQueueCap),
		logger: logger.With().Str("component", "transport").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnStatus registers a callback invoked on up/down transitions. Must be
// set before Run.
func (a *Adapter) OnStatus(fn func(up bool)) {
	a.onStatus = fn
}

// Send queues one event for the host. It never blocks; when the queue is
// full (endpoint down or slow) the event is dropped and counted.
func (a *Adapter) Send(msg protocol.Message) bool {
	select {
	case a.out <- msg:
		return true
	default:
		observability.IncTransportDropped()
		a.logger.Warn().Str("kind", msg.Kind().String()).Msg("outbound event dropped, queue full")
		return false
	}
}

// Run dials and services the endpoint until ctx is cancelled. Each
// endpoint loss is reported as a down transition and followed by a
// redial with exponential backoff.
func (a *Adapter) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		ep, err := a.dial(ctx)
		if err != nil {
			attempt++
			delay := NextBackoffDelay(a.cfg.Backoff, attempt, a.rng)
			a.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("endpoint dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		a.setStatus(true)
		a.logger.Info().Msg("endpoint connected")

		err = a.serve(ctx, ep)
		a.setStatus(false)
		if ctx.Err() != nil {
			return
		}
		a.logger.Warn().Err(err).Msg("endpoint lost, reconnecting")
	}
}

// serve pumps one endpoint until it fails or ctx is cancelled.
func (a *Adapter) serve(ctx context.Context, ep io.ReadWriteCloser) error {
	defer ep.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- a.readLoop(ep)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case msg := <-a.out:
			if err := a.writeMessage(ep, msg); err != nil {
				// Drain the read goroutine; closing ep unblocks it.
				ep.Close()
				<-readErr
				return err
			}
		}
	}
}

func (a *Adapter) readLoop(ep io.Reader) error {
	dec := framing.NewDecoder(a.cfg.MaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := ep.Read(buf)
		if n > 0 {
			for _, res := range dec.Feed(buf[:n]) {
				a.handleResult(res)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrDisconnected
			}
			return err
		}
	}
}

func (a *Adapter) handleResult(res framing.Result) {
	if res.Err != nil {
		observability.IncFramingError(res.Err)
		a.logger.Warn().Err(res.Err).Msg("frame discarded")
		return
	}
	observability.IncFrameDecoded()

	msg, err := protocol.Parse(res.Frame)
	if err != nil {
		observability.IncProtocolError()
		a.logger.Warn().Err(err).Msg("message discarded")
		return
	}
	if kind := msg.Kind(); kind.IsEvent() {
		if _, ok := msg.(protocol.Unrecognized); !ok {
			a.logger.Warn().Str("kind", kind.String()).Msg("event received from host side, dropped")
			return
		}
	}
	a.submit(msg)
}

func (a *Adapter) writeMessage(ep io.Writer, msg protocol.Message) error {
	payload, err := protocol.Serialize(msg)
	if err != nil {
		a.logger.Error().Err(err).Str("kind", msg.Kind().String()).Msg("event serialization failed, dropped")
		return nil
	}
	if _, err := ep.Write(framing.Encode(payload)); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) setStatus(up bool) {
	observability.SetTransportUp(up)
	if a.onStatus != nil {
		a.onStatus(up)
	}
}
