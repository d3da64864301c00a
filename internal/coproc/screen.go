package coproc

import "fmt"

// ScreenBuffer is one width×height cell grid. Mono panels store 0/1 per
// cell; RGB panels store RGB555 values. Cells are row-major.
type ScreenBuffer struct {
	width  int
	height int
	cells  []uint16
}

func NewScreenBuffer(width, height int) *ScreenBuffer {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("coproc: invalid screen dimensions %dx%d", width, height))
	}
	return &ScreenBuffer{
		width:  width,
		height: height,
		cells:  make([]uint16, width*height),
	}
}

func (s *ScreenBuffer) Width() int  { return s.width }
func (s *ScreenBuffer) Height() int { return s.height }

func (s *ScreenBuffer) InBounds(row, col int) bool {
	return row >= 0 && row < s.height && col >= 0 && col < s.width
}

func (s *ScreenBuffer) Set(row, col int, v uint16) {
	if !s.InBounds(row, col) {
		panic(fmt.Sprintf("coproc: set (%d,%d) outside %dx%d buffer", row, col, s.width, s.height))
	}
	s.cells[row*s.width+col] = v
}

func (s *ScreenBuffer) Get(row, col int) uint16 {
	if !s.InBounds(row, col) {
		panic(fmt.Sprintf("coproc: get (%d,%d) outside %dx%d buffer", row, col, s.width, s.height))
	}
	return s.cells[row*s.width+col]
}

// Row returns a copy of one row's cells.
func (s *ScreenBuffer) Row(row int) []uint16 {
	if row < 0 || row >= s.height {
		panic(fmt.Sprintf("coproc: row %d outside height %d", row, s.height))
	}
	out := make([]uint16, s.width)
	copy(out, s.cells[row*s.width:(row+1)*s.width])
	return out
}

// CopyRow copies one row from src at the same index.
func (s *ScreenBuffer) CopyRow(row int, src *ScreenBuffer) {
	if s.width != src.width || s.height != src.height {
		panic(fmt.Sprintf("coproc: copy between mismatched buffers %dx%d and %dx%d", s.width, s.height, src.width, src.height))
	}
	copy(s.cells[row*s.width:(row+1)*s.width], src.cells[row*s.width:(row+1)*s.width])
}

// Cells returns a copy of the whole grid, row-major.
func (s *ScreenBuffer) Cells() []uint16 {
	out := make([]uint16, len(s.cells))
	copy(out, s.cells)
	return out
}

func (s *ScreenBuffer) Fill(v uint16) {
	for i := range s.cells {
		s.cells[i] = v
	}
}
