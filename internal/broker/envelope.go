package broker

import (
	"context"
	"errors"

	"github.com/dotpanel/dotpanel/internal/protocol"
)

// Envelope kinds sent broker -> observer.
const (
	EnvelopeSnapshot = "snapshot"
	EnvelopeDelta    = "delta"
	EnvelopeEvent    = "event"
	EnvelopeResync   = "resync_required"
)

var (
	ErrQueueOverflow     = errors.New("broker: session queue overflow")
	ErrProtocolViolation = errors.New("broker: observer protocol violation")
)

// Envelope is one outbound observer message. Seq carries the device delta
// sequence the message belongs to; a Synced session never observes a gap.
type Envelope struct {
	Kind    string `json:"kind"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// EventPayload is the envelope payload for broadcast coprocessor events.
type EventPayload struct {
	Type  string           `json:"type"`
	Event protocol.Message `json:"event"`
}

// ControlKind tags one decoded observer-to-broker message.
type ControlKind int

const (
	// ControlCommand injects a coprocessor command. It is validated by
	// the same protocol rules as transport-origin commands before it
	// reaches the broker.
	ControlCommand ControlKind = iota
	// ControlAck reports the highest envelope seq the observer has
	// processed.
	ControlAck
	// ControlResume acknowledges a resync marker after the observer
	// drained its queue.
	ControlResume
	// ControlInvalid reports an undecodable observer message; the
	// session is closed for protocol violation.
	ControlInvalid
)

// Control is one inbound observer message, decoded by the observer layer.
type Control struct {
	Kind    ControlKind
	Seq     uint64
	Command protocol.Message
	Err     error
}

// Client is one connected observer, as the broker sees it. The observer
// layer adapts its websocket connection to this interface.
type Client interface {
	// Send delivers one envelope. An error means the connection is gone.
	Send(ctx context.Context, env Envelope) error
	// Receive yields decoded control messages. The channel closes when
	// the observer disconnects.
	Receive() <-chan Control
	Close() error
}

// Applier is the broker's handle to the simulation loop's first-come
// command queue. Observer-injected commands and sync requests are
// serialized against transport commands at that single point.
type Applier interface {
	SubmitObserver(sessionID string, cmd protocol.Message)
	RequestSync(sessionID string)
}
