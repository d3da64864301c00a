package observer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dotpanel/dotpanel/internal/broker"
)

// wsClient adapts one websocket connection to the broker's Client
// interface. Websockets carry message boundaries natively, so envelopes
// and controls travel as single JSON messages without extra framing.
type wsClient struct {
	conn      *websocket.Conn
	logger    zerolog.Logger
	controls  chan broker.Control
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(conn *websocket.Conn, logger zerolog.Logger) *wsClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		conn:     conn,
		logger:   logger,
		controls: make(chan broker.Control, 16),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsClient) Send(ctx context.Context, env broker.Envelope) error {
	return wsjson.Write(ctx, c.conn, env)
}

func (c *wsClient) Receive() <-chan broker.Control { return c.controls }

func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}

// Done is closed once the read loop has finished; the accept handler
// waits on it so the request context outlives the session.
func (c *wsClient) Done() <-chan struct{} { return c.done }

// readLoop decodes inbound messages until disconnect. An undecodable
// message surfaces as a single ControlInvalid; the broker closes the
// session for protocol violation.
func (c *wsClient) readLoop() {
	defer func() {
		close(c.controls)
		close(c.done)
		c.Close()
	}()

	for {
		var msg inbound
		if err := wsjson.Read(c.ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			clean := status == websocket.StatusNormalClosure ||
				status == websocket.StatusGoingAway ||
				c.ctx.Err() != nil
			if !clean {
				c.logger.Debug().Err(err).Msg("observer read failed")
			}
			return
		}
		ctl, err := controlFrom(msg)
		if err != nil {
			c.controls <- broker.Control{Kind: broker.ControlInvalid, Err: err}
			return
		}
		c.controls <- ctl
	}
}
