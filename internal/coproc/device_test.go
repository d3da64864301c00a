package coproc

import (
	"reflect"
	"testing"

	"github.com/dotpanel/dotpanel/internal/protocol"
	"github.com/dotpanel/dotpanel/internal/testutil/testlog"
)

func monoDevice() *Device {
	return NewDevice(Config{Width: 8, Height: 4})
}

func rgbDevice() *Device {
	return NewDevice(Config{Width: 8, Height: 4, Rgb: true})
}

func mustAck(t *testing.T, events []protocol.Message, cmd protocol.Kind) {
	t.Helper()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %#v", len(events), events)
	}
	a, ok := events[0].(protocol.Ack)
	if !ok {
		t.Fatalf("expected Ack, got %#v", events[0])
	}
	if a.Command != cmd {
		t.Fatalf("ack for %s, want %s", a.Command, cmd)
	}
}

func mustFault(t *testing.T, events []protocol.Message, code protocol.FaultCode) protocol.Fault {
	t.Helper()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 fault event, got %d: %#v", len(events), events)
	}
	f, ok := events[0].(protocol.Fault)
	if !ok {
		t.Fatalf("expected Fault, got %#v", events[0])
	}
	if f.Code != code {
		t.Fatalf("fault code %s, want %s", f.Code, code)
	}
	return f
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()

	events, delta := dev.Apply(protocol.SetCell{Row: 1, Col: 2, On: true})
	mustAck(t, events, protocol.KindSetCell)
	if delta != nil {
		t.Fatalf("staging produced a delta: %#v", delta)
	}
	if got := dev.Snapshot().Snapshot.Cells[1*8+2]; got != 0 {
		t.Fatalf("staged write already visible: %d", got)
	}

	events, delta = dev.Apply(protocol.CommitRender{})
	mustAck(t, events, protocol.KindCommitRender)
	if delta == nil || len(delta.Rows) != 1 || delta.Rows[0].Row != 1 {
		t.Fatalf("commit delta wrong: %#v", delta)
	}
	if got := dev.Snapshot().Snapshot.Cells[1*8+2]; got != 1 {
		t.Fatalf("committed cell not visible: %d", got)
	}
}

func TestCommitWithoutStagedRowsIsNoop(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()
	events, delta := dev.Apply(protocol.CommitRender{})
	mustAck(t, events, protocol.KindCommitRender)
	if delta != nil {
		t.Fatalf("empty commit produced a delta: %#v", delta)
	}
	if dev.Seq() != 0 {
		t.Fatalf("empty commit advanced seq to %d", dev.Seq())
	}
}

func TestWriteRegionScenario(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()

	events, _ := dev.Apply(protocol.WriteRegion{X: 0, Y: 0, Width: 2, Height: 2, Bitmap: []byte{0x0F}})
	mustAck(t, events, protocol.KindWriteRegion)
	events, delta := dev.Apply(protocol.CommitRender{})
	mustAck(t, events, protocol.KindCommitRender)
	if delta == nil || len(delta.Rows) != 2 {
		t.Fatalf("expected 2-row delta, got %#v", delta)
	}

	events, _ = dev.Apply(protocol.QueryStatus{})
	status, ok := events[0].(protocol.StatusReport)
	if !ok {
		t.Fatalf("expected StatusReport, got %#v", events[0])
	}
	if status.Checksum != dev.Checksum() || status.Commits != 1 {
		t.Fatalf("unexpected status: %#v", status)
	}

	// A freshly joined observer sees the same cells from the snapshot.
	view := NewView()
	view.Apply(*dev.Snapshot())
	for row := 0; row < 4; row++ {
		for col := 0; col < 8; col++ {
			want := uint16(0)
			if row < 2 && col < 2 {
				want = 1
			}
			if got := view.Cell(row, col); got != want {
				t.Fatalf("view cell (%d,%d) = %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestOutOfRangeWriteFaultsWithoutMutation(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()
	before := dev.Snapshot().Snapshot

	events, delta := dev.Apply(protocol.WriteRegion{X: 6, Y: 2, Width: 4, Height: 4, Bitmap: []byte{0xFF, 0xFF}})
	mustFault(t, events, protocol.FaultOutOfRange)
	if delta != nil {
		t.Fatalf("faulted write produced a delta")
	}
	dev.Apply(protocol.CommitRender{})
	if !reflect.DeepEqual(dev.Snapshot().Snapshot.Cells, before.Cells) {
		t.Fatalf("out-of-range write mutated state")
	}

	// The device stays usable after a fault.
	events, _ = dev.Apply(protocol.Ping{})
	mustAck(t, events, protocol.KindPing)
}

func TestRowBoundsAndLengthFaults(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()

	events, _ := dev.Apply(protocol.SetCell{Row: 99, Col: 0, On: true})
	mustFault(t, events, protocol.FaultOutOfRange)

	events, _ = dev.Apply(protocol.UpdateRow{Row: 9, Count: 8, Bits: []byte{0xFF}})
	mustFault(t, events, protocol.FaultOutOfRange)

	events, _ = dev.Apply(protocol.UpdateRow{Row: 0, Count: 4, Bits: []byte{0x0F}})
	mustFault(t, events, protocol.FaultBadLength)
}

func TestIllegalModeFaults(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()

	events, _ := dev.Apply(protocol.SetMonocolorPalette{On: 0x7FFF})
	mustFault(t, events, protocol.FaultIllegalMode)

	events, _ = dev.Apply(protocol.UpdateRowRgb{Row: 0, Pixels: make([]uint16, 8)})
	mustFault(t, events, protocol.FaultIllegalMode)
}

func TestUnsupportedKindFaults(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()
	events, delta := dev.Apply(protocol.Unrecognized{RawKind: 0x42, Payload: []byte{1, 2, 3}})
	mustFault(t, events, protocol.FaultUnsupported)
	if delta != nil {
		t.Fatalf("unsupported command produced a delta")
	}
}

func TestRgbPaletteAppliesToMonoWrites(t *testing.T) {
	testlog.Start(t)
	dev := rgbDevice()

	dev.Apply(protocol.SetMonocolorPalette{On: 0x03E0, Off: 0x0001})
	dev.Apply(protocol.SetCell{Row: 0, Col: 0, On: true})
	dev.Apply(protocol.SetCell{Row: 0, Col: 1, On: false})
	dev.Apply(protocol.CommitRender{})

	snap := dev.Snapshot().Snapshot
	if snap.Cells[0] != 0x03E0 {
		t.Fatalf("on cell = %#04x, want palette on", snap.Cells[0])
	}
	if snap.Cells[1] != 0x0001 {
		t.Fatalf("off cell = %#04x, want palette off", snap.Cells[1])
	}
}

func TestQueriesDoNotMutate(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()
	dev.Apply(protocol.SetCell{Row: 0, Col: 0, On: true})
	dev.Apply(protocol.CommitRender{})
	before := dev.Snapshot()

	for i := 0; i < 3; i++ {
		if _, delta := dev.Apply(protocol.QueryStatus{}); delta != nil {
			t.Fatalf("query produced delta")
		}
		if _, delta := dev.Apply(protocol.GetDisplayInfo{}); delta != nil {
			t.Fatalf("display info produced delta")
		}
	}
	if !reflect.DeepEqual(dev.Snapshot(), before) {
		t.Fatalf("queries mutated state")
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	testlog.Start(t)
	dev := rgbDevice()
	dev.Apply(protocol.SetMonocolorPalette{On: 0x001F, Off: 0x7C00})
	dev.Apply(protocol.SetLedState{On: true})
	dev.Apply(protocol.UpdateRowRgb{Row: 0, Pixels: []uint16{1, 2, 3, 4, 5, 6, 7, 8}})
	dev.Apply(protocol.CommitRender{})

	events, delta := dev.Apply(protocol.Reset{})
	mustAck(t, events, protocol.KindReset)
	if delta == nil || delta.Snapshot == nil {
		t.Fatalf("reset did not emit a snapshot delta")
	}

	fresh := NewDevice(Config{Width: 8, Height: 4, Rgb: true})
	if !reflect.DeepEqual(delta.Snapshot, fresh.Snapshot().Snapshot) {
		t.Fatalf("reset snapshot differs from power-on state\n got: %#v\nwant: %#v", delta.Snapshot, fresh.Snapshot().Snapshot)
	}
}

func TestClearBlanksVisibleBuffer(t *testing.T) {
	testlog.Start(t)
	dev := monoDevice()
	dev.Apply(protocol.UpdateRow{Row: 2, Count: 8, Bits: []byte{0xFF}})
	dev.Apply(protocol.CommitRender{})

	events, delta := dev.Apply(protocol.Clear{})
	mustAck(t, events, protocol.KindClear)
	if delta == nil || delta.Snapshot == nil {
		t.Fatalf("clear did not emit a snapshot delta")
	}
	for i, c := range delta.Snapshot.Cells {
		if c != 0 {
			t.Fatalf("cell %d = %d after clear", i, c)
		}
	}
}

func deterministicSequence() []protocol.Message {
	return []protocol.Message{
		protocol.Ping{},
		protocol.SetLedState{On: true},
		protocol.WriteRegion{X: 1, Y: 1, Width: 3, Height: 2, Bitmap: []byte{0x2D}},
		protocol.SetCell{Row: 3, Col: 7, On: true},
		protocol.CommitRender{},
		protocol.SetCell{Row: 99, Col: 0, On: true}, // fault, then keep going
		protocol.UpdateRow{Row: 0, Count: 8, Bits: []byte{0xA5}},
		protocol.CommitRender{},
		protocol.QueryStatus{},
		protocol.Clear{},
		protocol.SetRgbState{R: 1, G: 2, B: 3},
	}
}

func TestDeterministicReplay(t *testing.T) {
	testlog.Start(t)
	devA := monoDevice()
	devB := monoDevice()

	var eventsA, eventsB []protocol.Message
	var deltasA []Delta

	for _, cmd := range deterministicSequence() {
		ev, delta := devA.Apply(cmd)
		eventsA = append(eventsA, ev...)
		if delta != nil {
			deltasA = append(deltasA, *delta)
		}
	}
	for _, cmd := range deterministicSequence() {
		ev, _ := devB.Apply(cmd)
		eventsB = append(eventsB, ev...)
	}

	if !reflect.DeepEqual(eventsA, eventsB) {
		t.Fatalf("event sequences diverged")
	}
	if !reflect.DeepEqual(devA.Snapshot(), devB.Snapshot()) {
		t.Fatalf("final states diverged")
	}

	// Replaying the delta stream from session start reproduces the live
	// state exactly.
	view := NewView()
	initial := NewDevice(Config{Width: 8, Height: 4})
	view.Apply(*initial.Snapshot())
	for _, d := range deltasA {
		view.Apply(d)
	}
	final := devA.Snapshot().Snapshot
	if !reflect.DeepEqual(view.Cells, final.Cells) {
		t.Fatalf("replayed cells differ from live state")
	}
	if view.Led != final.Led || view.RgbLed != final.RgbLed {
		t.Fatalf("replayed registers differ from live state")
	}
	if view.Commits != final.Commits {
		t.Fatalf("replayed commit count %d, live %d", view.Commits, final.Commits)
	}
	if view.Seq != devA.Seq() {
		t.Fatalf("replayed seq %d, live %d", view.Seq, devA.Seq())
	}
}
