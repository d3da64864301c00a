package protocol

import (
	"encoding/binary"
	"fmt"
)

// Parse decodes one de-framed payload into a typed Message.
//
// A known discriminant with a payload that fails validation returns
// ErrInvalid wrapped with a reason; the caller drops the frame and
// continues. An unknown discriminant returns Unrecognized with the payload
// preserved byte-for-byte.
func Parse(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmpty
	}
	kind := Kind(frame[0])
	body := frame[1:]

	switch kind {
	case KindPing:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return Ping{}, nil

	case KindSetLedState:
		if err := wantLen(kind, body, 1); err != nil {
			return nil, err
		}
		on, err := parseBool(kind, body[0])
		if err != nil {
			return nil, err
		}
		return SetLedState{On: on}, nil

	case KindSetRgbState:
		if err := wantLen(kind, body, 3); err != nil {
			return nil, err
		}
		return SetRgbState{R: body[0], G: body[1], B: body[2]}, nil

	case KindSetCell:
		if err := wantLen(kind, body, 5); err != nil {
			return nil, err
		}
		on, err := parseBool(kind, body[4])
		if err != nil {
			return nil, err
		}
		return SetCell{
			Row: binary.BigEndian.Uint16(body[0:2]),
			Col: binary.BigEndian.Uint16(body[2:4]),
			On:  on,
		}, nil

	case KindWriteRegion:
		if len(body) < 10 {
			return nil, invalidf(kind, "short header: %d bytes", len(body))
		}
		m := WriteRegion{
			X:      binary.BigEndian.Uint16(body[0:2]),
			Y:      binary.BigEndian.Uint16(body[2:4]),
			Width:  binary.BigEndian.Uint16(body[4:6]),
			Height: binary.BigEndian.Uint16(body[6:8]),
		}
		declared := int(binary.BigEndian.Uint16(body[8:10]))
		rest := body[10:]
		if len(rest) != declared {
			return nil, invalidf(kind, "bitmap length %d does not match declared %d", len(rest), declared)
		}
		if want := BitmapLen(int(m.Width) * int(m.Height)); declared != want {
			return nil, invalidf(kind, "bitmap length %d for %dx%d region, want %d", declared, m.Width, m.Height, want)
		}
		m.Bitmap = cloneBytes(rest)
		return m, nil

	case KindUpdateRow:
		if len(body) < 3 {
			return nil, invalidf(kind, "short header: %d bytes", len(body))
		}
		m := UpdateRow{Row: body[0], Count: binary.BigEndian.Uint16(body[1:3])}
		rest := body[3:]
		if want := BitmapLen(int(m.Count)); len(rest) != want {
			return nil, invalidf(kind, "bits length %d for %d cells, want %d", len(rest), m.Count, want)
		}
		m.Bits = cloneBytes(rest)
		return m, nil

	case KindUpdateRowRgb:
		if len(body) < 3 {
			return nil, invalidf(kind, "short header: %d bytes", len(body))
		}
		row := body[0]
		count := int(binary.BigEndian.Uint16(body[1:3]))
		rest := body[3:]
		if len(rest) != count*2 {
			return nil, invalidf(kind, "pixel data length %d for %d cells, want %d", len(rest), count, count*2)
		}
		pixels := make([]uint16, count)
		for i := range pixels {
			pixels[i] = binary.BigEndian.Uint16(rest[i*2 : i*2+2])
		}
		return UpdateRowRgb{Row: row, Pixels: pixels}, nil

	case KindSetMonocolorPalette:
		if err := wantLen(kind, body, 4); err != nil {
			return nil, err
		}
		return SetMonocolorPalette{
			On:  binary.BigEndian.Uint16(body[0:2]),
			Off: binary.BigEndian.Uint16(body[2:4]),
		}, nil

	case KindCommitRender:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return CommitRender{}, nil

	case KindClear:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return Clear{}, nil

	case KindReset:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return Reset{}, nil

	case KindGetDisplayInfo:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return GetDisplayInfo{}, nil

	case KindQueryStatus:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return QueryStatus{}, nil

	case KindAck:
		if err := wantLen(kind, body, 2); err != nil {
			return nil, err
		}
		return Ack{Command: Kind(body[0]), Status: body[1]}, nil

	case KindFault:
		if len(body) < 3 {
			return nil, invalidf(kind, "short header: %d bytes", len(body))
		}
		code := FaultCode(body[0])
		if code < FaultOutOfRange || code > FaultUnsupported {
			return nil, invalidf(kind, "fault code %d out of range", code)
		}
		declared := int(binary.BigEndian.Uint16(body[1:3]))
		rest := body[3:]
		if len(rest) != declared {
			return nil, invalidf(kind, "detail length %d does not match declared %d", len(rest), declared)
		}
		return Fault{Code: code, Detail: string(rest)}, nil

	case KindStatusReport:
		if err := wantLen(kind, body, 13); err != nil {
			return nil, err
		}
		rgb, err := parseBool(kind, body[4])
		if err != nil {
			return nil, err
		}
		return StatusReport{
			Width:    binary.BigEndian.Uint16(body[0:2]),
			Height:   binary.BigEndian.Uint16(body[2:4]),
			Rgb:      rgb,
			Checksum: binary.BigEndian.Uint32(body[5:9]),
			Commits:  binary.BigEndian.Uint32(body[9:13]),
		}, nil

	case KindDisplayInfo:
		if err := wantLen(kind, body, 5); err != nil {
			return nil, err
		}
		pf := PixelFormat(body[4])
		if pf != PixelMono && pf != PixelRgb555 {
			return nil, invalidf(kind, "pixel format %d out of range", pf)
		}
		return DisplayInfo{
			Width:  binary.BigEndian.Uint16(body[0:2]),
			Height: binary.BigEndian.Uint16(body[2:4]),
			Pixel:  pf,
		}, nil

	case KindButtonPress:
		if err := wantLen(kind, body, 0); err != nil {
			return nil, err
		}
		return ButtonPress{}, nil

	default:
		return Unrecognized{RawKind: uint8(kind), Payload: cloneBytes(body)}, nil
	}
}

func wantLen(kind Kind, body []byte, want int) error {
	if len(body) != want {
		return invalidf(kind, "payload length %d, want %d", len(body), want)
	}
	return nil
}

func parseBool(kind Kind, b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, invalidf(kind, "bool byte %#02x", b)
	}
}

func invalidf(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, kind, fmt.Sprintf(format, args...))
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
