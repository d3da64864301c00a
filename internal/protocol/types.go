package protocol

// Kind is the one-byte message discriminant.
type Kind uint8

// Command kinds.
const (
	KindPing                Kind = 0x01
	KindSetLedState         Kind = 0x02
	KindSetRgbState         Kind = 0x03
	KindSetCell             Kind = 0x04
	KindWriteRegion         Kind = 0x05
	KindUpdateRow           Kind = 0x06
	KindUpdateRowRgb        Kind = 0x07
	KindSetMonocolorPalette Kind = 0x08
	KindCommitRender        Kind = 0x09
	KindClear               Kind = 0x0A
	KindReset               Kind = 0x0B
	KindGetDisplayInfo      Kind = 0x0C
	KindQueryStatus         Kind = 0x0D
)

// Event kinds.
const (
	KindAck          Kind = 0x80
	KindFault        Kind = 0x81
	KindStatusReport Kind = 0x82
	KindDisplayInfo  Kind = 0x83
	KindButtonPress  Kind = 0x84
)

// IsCommand reports whether k is in the host-to-coprocessor range.
func (k Kind) IsCommand() bool { return k < 0x80 }

// IsEvent reports whether k is in the coprocessor-to-host range.
func (k Kind) IsEvent() bool { return k >= 0x80 }

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindSetLedState:
		return "set_led_state"
	case KindSetRgbState:
		return "set_rgb_state"
	case KindSetCell:
		return "set_cell"
	case KindWriteRegion:
		return "write_region"
	case KindUpdateRow:
		return "update_row"
	case KindUpdateRowRgb:
		return "update_row_rgb"
	case KindSetMonocolorPalette:
		return "set_monocolor_palette"
	case KindCommitRender:
		return "commit_render"
	case KindClear:
		return "clear"
	case KindReset:
		return "reset"
	case KindGetDisplayInfo:
		return "get_display_info"
	case KindQueryStatus:
		return "query_status"
	case KindAck:
		return "ack"
	case KindFault:
		return "fault"
	case KindStatusReport:
		return "status_report"
	case KindDisplayInfo:
		return "display_info"
	case KindButtonPress:
		return "button_press"
	default:
		return "unrecognized"
	}
}

// FaultCode identifies why a command was refused.
type FaultCode uint8

const (
	FaultOutOfRange  FaultCode = 1
	FaultIllegalMode FaultCode = 2
	FaultBadLength   FaultCode = 3
	FaultUnsupported FaultCode = 4
)

func (c FaultCode) String() string {
	switch c {
	case FaultOutOfRange:
		return "out_of_range"
	case FaultIllegalMode:
		return "illegal_mode"
	case FaultBadLength:
		return "bad_length"
	case FaultUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// PixelFormat describes the panel's cell representation.
type PixelFormat uint8

const (
	PixelMono   PixelFormat = 1
	PixelRgb555 PixelFormat = 2
)

// Message is one decoded wire message, command or event.
type Message interface {
	Kind() Kind
}

// Ping is a host keep-alive probe.
type Ping struct{}

// SetLedState drives the status LED.
type SetLedState struct {
	On bool `json:"on"`
}

// SetRgbState drives the RGB status LED.
type SetRgbState struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// SetCell stages one cell in the staging buffer.
type SetCell struct {
	Row uint16 `json:"row"`
	Col uint16 `json:"col"`
	On  bool   `json:"on"`
}

// WriteRegion stages a rectangular bitmap. Bitmap is packed 1bpp,
// LSB-first, row-major within the region.
type WriteRegion struct {
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
	Bitmap []byte `json:"bitmap"`
}

// UpdateRow stages one full row of mono cells. Bits is packed 1bpp,
// LSB-first; Count is the number of cells it carries.
type UpdateRow struct {
	Row   uint8  `json:"row"`
	Count uint16 `json:"count"`
	Bits  []byte `json:"bits"`
}

// UpdateRowRgb stages one full row of RGB555 cells.
type UpdateRowRgb struct {
	Row    uint8    `json:"row"`
	Pixels []uint16 `json:"pixels"`
}

// SetMonocolorPalette maps mono writes onto an RGB panel.
type SetMonocolorPalette struct {
	On  uint16 `json:"on"`
	Off uint16 `json:"off"`
}

// CommitRender publishes all staged rows to the visible buffer.
type CommitRender struct{}

// Clear blanks the staging and visible buffers.
type Clear struct{}

// Reset restores the coprocessor to its power-on state.
type Reset struct{}

// GetDisplayInfo asks for panel geometry.
type GetDisplayInfo struct{}

// QueryStatus asks for a status report without mutating state.
type QueryStatus struct{}

// Ack confirms a command was applied.
type Ack struct {
	Command Kind  `json:"command"`
	Status  uint8 `json:"status"`
}

// Fault reports a refused command. The coprocessor stays usable.
type Fault struct {
	Code   FaultCode `json:"code"`
	Detail string    `json:"detail"`
}

// StatusReport describes current visible-buffer state.
type StatusReport struct {
	Width    uint16 `json:"width"`
	Height   uint16 `json:"height"`
	Rgb      bool   `json:"rgb"`
	Checksum uint32 `json:"checksum"`
	Commits  uint32 `json:"commits"`
}

// DisplayInfo describes panel geometry and pixel representation.
type DisplayInfo struct {
	Width  uint16      `json:"width"`
	Height uint16      `json:"height"`
	Pixel  PixelFormat `json:"pixel"`
}

// ButtonPress reports the panel's user button.
type ButtonPress struct{}

// Unrecognized preserves a message with an unknown discriminant so future
// kinds survive a round trip instead of failing the stream.
type Unrecognized struct {
	RawKind uint8  `json:"raw_kind"`
	Payload []byte `json:"payload"`
}

func (Ping) Kind() Kind                { return KindPing }
func (SetLedState) Kind() Kind         { return KindSetLedState }
func (SetRgbState) Kind() Kind         { return KindSetRgbState }
func (SetCell) Kind() Kind             { return KindSetCell }
func (WriteRegion) Kind() Kind         { return KindWriteRegion }
func (UpdateRow) Kind() Kind           { return KindUpdateRow }
func (UpdateRowRgb) Kind() Kind        { return KindUpdateRowRgb }
func (SetMonocolorPalette) Kind() Kind { return KindSetMonocolorPalette }
func (CommitRender) Kind() Kind        { return KindCommitRender }
func (Clear) Kind() Kind               { return KindClear }
func (Reset) Kind() Kind               { return KindReset }
func (GetDisplayInfo) Kind() Kind      { return KindGetDisplayInfo }
func (QueryStatus) Kind() Kind         { return KindQueryStatus }
func (Ack) Kind() Kind                 { return KindAck }
func (Fault) Kind() Kind               { return KindFault }
func (StatusReport) Kind() Kind        { return KindStatusReport }
func (DisplayInfo) Kind() Kind         { return KindDisplayInfo }
func (ButtonPress) Kind() Kind         { return KindButtonPress }
func (u Unrecognized) Kind() Kind      { return Kind(u.RawKind) }

// BitmapLen returns the packed byte length for n 1bpp cells.
func BitmapLen(n int) int {
	return (n + 7) / 8
}
