// Package observer exposes the session broker to browser clients over
// websockets. Outbound messages are broker envelopes; inbound messages
// use the same kind/seq/payload shape and decode into broker controls.
package observer

import (
	"encoding/json"
	"fmt"

	"github.com/dotpanel/dotpanel/internal/broker"
	"github.com/dotpanel/dotpanel/internal/protocol"
)

// Inbound observer message kinds.
const (
	inboundCommand = "command"
	inboundAck     = "ack"
	inboundResume  = "resume"
)

type inbound struct {
	Kind    string          `json:"kind"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// controlFrom maps one decoded inbound message onto a broker control.
func controlFrom(msg inbound) (broker.Control, error) {
	switch msg.Kind {
	case inboundCommand:
		cmd, err := commandFromJSON(msg.Payload)
		if err != nil {
			return broker.Control{}, err
		}
		return broker.Control{Kind: broker.ControlCommand, Command: cmd}, nil
	case inboundAck:
		return broker.Control{Kind: broker.ControlAck, Seq: msg.Seq}, nil
	case inboundResume:
		return broker.Control{Kind: broker.ControlResume}, nil
	default:
		return broker.Control{}, fmt.Errorf("%w: unknown kind %q", broker.ErrProtocolViolation, msg.Kind)
	}
}

// commandFromJSON decodes a command payload. The payload carries a
// "type" tag naming the command kind plus that kind's fields; decoded
// commands pass the same validation as wire-parsed ones before they
// reach the apply queue.
func commandFromJSON(raw json.RawMessage) (protocol.Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: command without payload", broker.ErrProtocolViolation)
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrProtocolViolation, err)
	}

	var cmd protocol.Message
	switch tag.Type {
	case protocol.KindPing.String():
		cmd = decodeInto[protocol.Ping](raw)
	case protocol.KindSetLedState.String():
		cmd = decodeInto[protocol.SetLedState](raw)
	case protocol.KindSetRgbState.String():
		cmd = decodeInto[protocol.SetRgbState](raw)
	case protocol.KindSetCell.String():
		cmd = decodeInto[protocol.SetCell](raw)
	case protocol.KindWriteRegion.String():
		cmd = decodeInto[protocol.WriteRegion](raw)
	case protocol.KindUpdateRow.String():
		cmd = decodeInto[protocol.UpdateRow](raw)
	case protocol.KindUpdateRowRgb.String():
		cmd = decodeInto[protocol.UpdateRowRgb](raw)
	case protocol.KindSetMonocolorPalette.String():
		cmd = decodeInto[protocol.SetMonocolorPalette](raw)
	case protocol.KindCommitRender.String():
		cmd = decodeInto[protocol.CommitRender](raw)
	case protocol.KindClear.String():
		cmd = decodeInto[protocol.Clear](raw)
	case protocol.KindReset.String():
		cmd = decodeInto[protocol.Reset](raw)
	case protocol.KindGetDisplayInfo.String():
		cmd = decodeInto[protocol.GetDisplayInfo](raw)
	case protocol.KindQueryStatus.String():
		cmd = decodeInto[protocol.QueryStatus](raw)
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", broker.ErrProtocolViolation, tag.Type)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: malformed %q payload", broker.ErrProtocolViolation, tag.Type)
	}
	// Reject payloads a wire parse would refuse, e.g. a row update whose
	// declared count disagrees with its bits.
	if _, err := protocol.Serialize(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrProtocolViolation, err)
	}
	return cmd, nil
}

func decodeInto[T protocol.Message](raw json.RawMessage) protocol.Message {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
