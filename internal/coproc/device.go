package coproc

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/dotpanel/dotpanel/internal/protocol"
)

// Config fixes the simulated panel's geometry and power-on registers.
type Config struct {
	Width      int
	Height     int
	Rgb        bool
	PaletteOn  uint16
	PaletteOff uint16
}

// DefaultPaletteOn is pure red in RGB555, matching common firmware
// defaults for a mono-on-RGB panel.
const DefaultPaletteOn uint16 = 0x7C00

func (c Config) withDefaults() Config {
	if c.Width == 0 {
		c.Width = 32
	}
	if c.Height == 0 {
		c.Height = 16
	}
	if c.Rgb && c.PaletteOn == 0 {
		c.PaletteOn = DefaultPaletteOn
	}
	return c
}

// Device is the simulated coprocessor. It owns all device state; Apply is
// the only mutation path and must be called from one goroutine.
//
// Rendering is staged: cell and row writes land in a staging buffer and
// become visible, one delta, when CommitRender arrives. Clear and Reset
// publish immediately with a snapshot delta.
type Device struct {
	cfg     Config
	staged  *ScreenBuffer
	visible *ScreenBuffer
	dirty   map[int]struct{}
	palette PaletteChange
	led     bool
	rgbLed  [3]uint8
	commits uint32
	seq     uint64
}

func NewDevice(cfg Config) *Device {
	cfg = cfg.withDefaults()
	d := &Device{cfg: cfg}
	d.reset()
	return d
}

func (d *Device) reset() {
	d.staged = NewScreenBuffer(d.cfg.Width, d.cfg.Height)
	d.visible = NewScreenBuffer(d.cfg.Width, d.cfg.Height)
	d.dirty = make(map[int]struct{})
	d.palette = PaletteChange{On: d.cfg.PaletteOn, Off: d.cfg.PaletteOff}
	d.led = false
	d.rgbLed = [3]uint8{}
	d.commits = 0
}

func (d *Device) Width() int  { return d.cfg.Width }
func (d *Device) Height() int { return d.cfg.Height }
func (d *Device) Rgb() bool   { return d.cfg.Rgb }

// Seq returns the sequence number of the last produced delta.
func (d *Device) Seq() uint64 { return d.seq }

// Snapshot captures the full visible state at the current sequence point,
// for syncing a newly joined or resyncing observer.
func (d *Device) Snapshot() *Delta {
	return &Delta{Seq: d.seq, Snapshot: d.snapshot()}
}

func (d *Device) snapshot() *Snapshot {
	return &Snapshot{
		Width:      d.cfg.Width,
		Height:     d.cfg.Height,
		Rgb:        d.cfg.Rgb,
		Cells:      d.visible.Cells(),
		PaletteOn:  d.palette.On,
		PaletteOff: d.palette.Off,
		Led:        d.led,
		RgbLed:     d.rgbLed,
		Commits:    d.commits,
	}
}

// Checksum is CRC-32 (IEEE) over the visible cells, big-endian.
func (d *Device) Checksum() uint32 {
	buf := make([]byte, len(d.visible.cells)*2)
	for i, c := range d.visible.cells {
		binary.BigEndian.PutUint16(buf[i*2:], c)
	}
	return crc32.ChecksumIEEE(buf)
}

// Apply applies one command and returns the resulting events and, when
// visible state changed, a delta. It is deterministic: identical command
// sequences from identical initial state produce identical outputs.
//
// Faults never stop the device; a refused command yields exactly one
// fault event and leaves state untouched.
func (d *Device) Apply(cmd protocol.Message) ([]protocol.Message, *Delta) {
	switch m := cmd.(type) {
	case protocol.Ping:
		return ack(m), nil

	case protocol.SetLedState:
		d.led = m.On
		led := m.On
		return ack(m), d.nextDelta(Delta{Led: &led})

	case protocol.SetRgbState:
		d.rgbLed = [3]uint8{m.R, m.G, m.B}
		rgb := d.rgbLed
		return ack(m), d.nextDelta(Delta{RgbLed: &rgb})

	case protocol.SetCell:
		row, col := int(m.Row), int(m.Col)
		if !d.staged.InBounds(row, col) {
			return fault(protocol.FaultOutOfRange, fmt.Sprintf("cell (%d,%d) outside %dx%d panel", row, col, d.cfg.Width, d.cfg.Height)), nil
		}
		d.staged.Set(row, col, d.cellValue(m.On))
		d.dirty[row] = struct{}{}
		return ack(m), nil

	case protocol.WriteRegion:
		return d.applyWriteRegion(m), nil

	case protocol.UpdateRow:
		return d.applyUpdateRow(m), nil

	case protocol.UpdateRowRgb:
		return d.applyUpdateRowRgb(m), nil

	case protocol.SetMonocolorPalette:
		if !d.cfg.Rgb {
			return fault(protocol.FaultIllegalMode, "palette register not present on mono panel"), nil
		}
		d.palette = PaletteChange{On: m.On, Off: m.Off}
		p := d.palette
		return ack(m), d.nextDelta(Delta{Palette: &p})

	case protocol.CommitRender:
		return d.applyCommit(m)

	case protocol.Clear:
		d.staged.Fill(d.cellValue(false))
		d.visible.Fill(d.cellValue(false))
		d.dirty = make(map[int]struct{})
		return ack(m), d.nextDelta(Delta{Snapshot: d.snapshot()})

	case protocol.Reset:
		d.reset()
		return ack(m), d.nextDelta(Delta{Snapshot: d.snapshot()})

	case protocol.GetDisplayInfo:
		pf := protocol.PixelMono
		if d.cfg.Rgb {
			pf = protocol.PixelRgb555
		}
		return []protocol.Message{protocol.DisplayInfo{
			Width:  uint16(d.cfg.Width),
			Height: uint16(d.cfg.Height),
			Pixel:  pf,
		}}, nil

	case protocol.QueryStatus:
		return []protocol.Message{protocol.StatusReport{
			Width:    uint16(d.cfg.Width),
			Height:   uint16(d.cfg.Height),
			Rgb:      d.cfg.Rgb,
			Checksum: d.Checksum(),
			Commits:  d.commits,
		}}, nil

	default:
		return fault(protocol.FaultUnsupported, fmt.Sprintf("kind %#02x is not a command", uint8(cmd.Kind()))), nil
	}
}

func (d *Device) applyWriteRegion(m protocol.WriteRegion) []protocol.Message {
	x, y := int(m.X), int(m.Y)
	w, h := int(m.Width), int(m.Height)
	if w == 0 || h == 0 {
		return fault(protocol.FaultBadLength, "empty region")
	}
	if x+w > d.cfg.Width || y+h > d.cfg.Height {
		return fault(protocol.FaultOutOfRange, fmt.Sprintf("region %dx%d at (%d,%d) outside %dx%d panel", w, h, x, y, d.cfg.Width, d.cfg.Height))
	}
	if len(m.Bitmap) != protocol.BitmapLen(w*h) {
		return fault(protocol.FaultBadLength, fmt.Sprintf("bitmap %d bytes for %dx%d region", len(m.Bitmap), w, h))
	}
	for row := y; row < y+h; row++ {
		for col := x; col < x+w; col++ {
			idx := (col - x) + w*(row-y)
			on := m.Bitmap[idx/8]&(1<<(idx%8)) != 0
			d.staged.Set(row, col, d.cellValue(on))
		}
		d.dirty[row] = struct{}{}
	}
	return ack(m)
}

func (d *Device) applyUpdateRow(m protocol.UpdateRow) []protocol.Message {
	row := int(m.Row)
	if row >= d.cfg.Height {
		return fault(protocol.FaultOutOfRange, fmt.Sprintf("row %d outside height %d", row, d.cfg.Height))
	}
	if int(m.Count) != d.cfg.Width {
		return fault(protocol.FaultBadLength, fmt.Sprintf("row carries %d cells, panel width is %d", m.Count, d.cfg.Width))
	}
	if len(m.Bits) != protocol.BitmapLen(int(m.Count)) {
		return fault(protocol.FaultBadLength, fmt.Sprintf("bits %d bytes for %d cells", len(m.Bits), m.Count))
	}
	for col := 0; col < d.cfg.Width; col++ {
		on := m.Bits[col/8]&(1<<(col%8)) != 0
		d.staged.Set(row, col, d.cellValue(on))
	}
	d.dirty[row] = struct{}{}
	return ack(m)
}

func (d *Device) applyUpdateRowRgb(m protocol.UpdateRowRgb) []protocol.Message {
	if !d.cfg.Rgb {
		return fault(protocol.FaultIllegalMode, "rgb row write on mono panel")
	}
	row := int(m.Row)
	if row >= d.cfg.Height {
		return fault(protocol.FaultOutOfRange, fmt.Sprintf("row %d outside height %d", row, d.cfg.Height))
	}
	if len(m.Pixels) != d.cfg.Width {
		return fault(protocol.FaultBadLength, fmt.Sprintf("row carries %d cells, panel width is %d", len(m.Pixels), d.cfg.Width))
	}
	for col, px := range m.Pixels {
		d.staged.Set(row, col, px)
	}
	d.dirty[row] = struct{}{}
	return ack(m)
}

func (d *Device) applyCommit(m protocol.CommitRender) ([]protocol.Message, *Delta) {
	if len(d.dirty) == 0 {
		return ack(m), nil
	}
	rows := make([]int, 0, len(d.dirty))
	for row := range d.dirty {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	updates := make([]RowUpdate, 0, len(rows))
	for _, row := range rows {
		d.visible.CopyRow(row, d.staged)
		updates = append(updates, RowUpdate{Row: row, Cells: d.visible.Row(row)})
	}
	d.dirty = make(map[int]struct{})
	d.commits++
	return ack(m), d.nextDelta(Delta{Rows: updates})
}

// nextDelta stamps a delta with the next sequence number.
func (d *Device) nextDelta(delta Delta) *Delta {
	d.seq++
	delta.Seq = d.seq
	if delta.Snapshot != nil {
		if len(delta.Snapshot.Cells) != d.cfg.Width*d.cfg.Height {
			panic(fmt.Sprintf("coproc: snapshot carries %d cells for %dx%d panel", len(delta.Snapshot.Cells), d.cfg.Width, d.cfg.Height))
		}
	}
	return &delta
}

func (d *Device) cellValue(on bool) uint16 {
	if !d.cfg.Rgb {
		if on {
			return 1
		}
		return 0
	}
	if on {
		return d.palette.On
	}
	return d.palette.Off
}

func ack(cmd protocol.Message) []protocol.Message {
	return []protocol.Message{protocol.Ack{Command: cmd.Kind()}}
}

func fault(code protocol.FaultCode, detail string) []protocol.Message {
	return []protocol.Message{protocol.Fault{Code: code, Detail: detail}}
}
