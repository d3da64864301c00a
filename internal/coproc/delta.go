package coproc

// Snapshot is the full visible state of the coprocessor at one sequence
// point. A newly joined observer receives one before any incremental
// deltas.
type Snapshot struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Rgb        bool     `json:"rgb"`
	Cells      []uint16 `json:"cells"`
	PaletteOn  uint16   `json:"palette_on"`
	PaletteOff uint16   `json:"palette_off"`
	Led        bool     `json:"led"`
	RgbLed     [3]uint8 `json:"rgb_led"`
	Commits    uint32   `json:"commits"`
}

// RowUpdate carries the committed cells of one row.
type RowUpdate struct {
	Row   int      `json:"row"`
	Cells []uint16 `json:"cells"`
}

// PaletteChange carries a mono-palette register update.
type PaletteChange struct {
	On  uint16 `json:"on"`
	Off uint16 `json:"off"`
}

// Delta describes one visible state change. Exactly one of the content
// fields is set for incremental deltas; Snapshot subsumes the rest.
// Applying every delta since sequence zero to an empty View reproduces
// the live state exactly.
type Delta struct {
	Seq      uint64         `json:"seq"`
	Snapshot *Snapshot      `json:"snapshot,omitempty"`
	Rows     []RowUpdate    `json:"rows,omitempty"`
	Led      *bool          `json:"led,omitempty"`
	RgbLed   *[3]uint8      `json:"rgb_led,omitempty"`
	Palette  *PaletteChange `json:"palette,omitempty"`
}

// View is an observer-side replica built purely from deltas. It is the
// replay model: a View fed the full delta stream matches the device's
// visible state bit-for-bit.
type View struct {
	Seq        uint64
	Width      int
	Height     int
	Rgb        bool
	Cells      []uint16
	PaletteOn  uint16
	PaletteOff uint16
	Led        bool
	RgbLed     [3]uint8
	Commits    uint32
}

func NewView() *View {
	return &View{}
}

// Apply folds one delta into the view. Row updates before the first
// snapshot are dropped; a session always receives a snapshot first.
func (v *View) Apply(d Delta) {
	if d.Snapshot != nil {
		s := d.Snapshot
		v.Width = s.Width
		v.Height = s.Height
		v.Rgb = s.Rgb
		v.Cells = make([]uint16, len(s.Cells))
		copy(v.Cells, s.Cells)
		v.PaletteOn = s.PaletteOn
		v.PaletteOff = s.PaletteOff
		v.Led = s.Led
		v.RgbLed = s.RgbLed
		v.Commits = s.Commits
	}
	if v.Width > 0 {
		for _, row := range d.Rows {
			if row.Row < 0 || row.Row >= v.Height || len(row.Cells) != v.Width {
				continue
			}
			copy(v.Cells[row.Row*v.Width:(row.Row+1)*v.Width], row.Cells)
		}
		if len(d.Rows) > 0 {
			v.Commits++
		}
	}
	if d.Led != nil {
		v.Led = *d.Led
	}
	if d.RgbLed != nil {
		v.RgbLed = *d.RgbLed
	}
	if d.Palette != nil {
		v.PaletteOn = d.Palette.On
		v.PaletteOff = d.Palette.Off
	}
	v.Seq = d.Seq
}

// Cell returns the view's committed value at (row, col).
func (v *View) Cell(row, col int) uint16 {
	if row < 0 || row >= v.Height || col < 0 || col >= v.Width {
		return 0
	}
	return v.Cells[row*v.Width+col]
}
