package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Serialize encodes a typed Message into a de-framed payload, the inverse
// of Parse. Parse(Serialize(m)) == m for every constructible message.
func Serialize(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Ping:
		return []byte{byte(KindPing)}, nil

	case SetLedState:
		return []byte{byte(KindSetLedState), boolByte(m.On)}, nil

	case SetRgbState:
		return []byte{byte(KindSetRgbState), m.R, m.G, m.B}, nil

	case SetCell:
		out := make([]byte, 6)
		out[0] = byte(KindSetCell)
		binary.BigEndian.PutUint16(out[1:3], m.Row)
		binary.BigEndian.PutUint16(out[3:5], m.Col)
		out[5] = boolByte(m.On)
		return out, nil

	case WriteRegion:
		if want := BitmapLen(int(m.Width) * int(m.Height)); len(m.Bitmap) != want {
			return nil, invalidf(KindWriteRegion, "bitmap length %d for %dx%d region, want %d", len(m.Bitmap), m.Width, m.Height, want)
		}
		if len(m.Bitmap) > math.MaxUint16 {
			return nil, invalidf(KindWriteRegion, "bitmap length %d exceeds u16", len(m.Bitmap))
		}
		out := make([]byte, 11, 11+len(m.Bitmap))
		out[0] = byte(KindWriteRegion)
		binary.BigEndian.PutUint16(out[1:3], m.X)
		binary.BigEndian.PutUint16(out[3:5], m.Y)
		binary.BigEndian.PutUint16(out[5:7], m.Width)
		binary.BigEndian.PutUint16(out[7:9], m.Height)
		binary.BigEndian.PutUint16(out[9:11], uint16(len(m.Bitmap)))
		return append(out, m.Bitmap...), nil

	case UpdateRow:
		if want := BitmapLen(int(m.Count)); len(m.Bits) != want {
			return nil, invalidf(KindUpdateRow, "bits length %d for %d cells, want %d", len(m.Bits), m.Count, want)
		}
		out := make([]byte, 4, 4+len(m.Bits))
		out[0] = byte(KindUpdateRow)
		out[1] = m.Row
		binary.BigEndian.PutUint16(out[2:4], m.Count)
		return append(out, m.Bits...), nil

	case UpdateRowRgb:
		if len(m.Pixels) > math.MaxUint16 {
			return nil, invalidf(KindUpdateRowRgb, "pixel count %d exceeds u16", len(m.Pixels))
		}
		out := make([]byte, 4+len(m.Pixels)*2)
		out[0] = byte(KindUpdateRowRgb)
		out[1] = m.Row
		binary.BigEndian.PutUint16(out[2:4], uint16(len(m.Pixels)))
		for i, px := range m.Pixels {
			binary.BigEndian.PutUint16(out[4+i*2:6+i*2], px)
		}
		return out, nil

	case SetMonocolorPalette:
		out := make([]byte, 5)
		out[0] = byte(KindSetMonocolorPalette)
		binary.BigEndian.PutUint16(out[1:3], m.On)
		binary.BigEndian.PutUint16(out[3:5], m.Off)
		return out, nil

	case CommitRender:
		return []byte{byte(KindCommitRender)}, nil

	case Clear:
		return []byte{byte(KindClear)}, nil

	case Reset:
		return []byte{byte(KindReset)}, nil

	case GetDisplayInfo:
		return []byte{byte(KindGetDisplayInfo)}, nil

	case QueryStatus:
		return []byte{byte(KindQueryStatus)}, nil

	case Ack:
		return []byte{byte(KindAck), byte(m.Command), m.Status}, nil

	case Fault:
		if m.Code < FaultOutOfRange || m.Code > FaultUnsupported {
			return nil, invalidf(KindFault, "fault code %d out of range", m.Code)
		}
		if len(m.Detail) > math.MaxUint16 {
			return nil, invalidf(KindFault, "detail length %d exceeds u16", len(m.Detail))
		}
		out := make([]byte, 4, 4+len(m.Detail))
		out[0] = byte(KindFault)
		out[1] = byte(m.Code)
		binary.BigEndian.PutUint16(out[2:4], uint16(len(m.Detail)))
		return append(out, m.Detail...), nil

	case StatusReport:
		out := make([]byte, 14)
		out[0] = byte(KindStatusReport)
		binary.BigEndian.PutUint16(out[1:3], m.Width)
		binary.BigEndian.PutUint16(out[3:5], m.Height)
		out[5] = boolByte(m.Rgb)
		binary.BigEndian.PutUint32(out[6:10], m.Checksum)
		binary.BigEndian.PutUint32(out[10:14], m.Commits)
		return out, nil

	case DisplayInfo:
		if m.Pixel != PixelMono && m.Pixel != PixelRgb555 {
			return nil, invalidf(KindDisplayInfo, "pixel format %d out of range", m.Pixel)
		}
		out := make([]byte, 6)
		out[0] = byte(KindDisplayInfo)
		binary.BigEndian.PutUint16(out[1:3], m.Width)
		binary.BigEndian.PutUint16(out[3:5], m.Height)
		out[5] = byte(m.Pixel)
		return out, nil

	case ButtonPress:
		return []byte{byte(KindButtonPress)}, nil

	case Unrecognized:
		out := make([]byte, 1, 1+len(m.Payload))
		out[0] = m.RawKind
		return append(out, m.Payload...), nil

	default:
		return nil, fmt.Errorf("%w: unsupported message type %T", ErrInvalid, msg)
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
