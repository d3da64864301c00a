package transport

import (
	"context"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotpanel/dotpanel/internal/framing"
	"github.com/dotpanel/dotpanel/internal/protocol"
	"github.com/dotpanel/dotpanel/internal/testutil/testlog"
)

type harness struct {
	adapter   *Adapter
	endpoints chan io.ReadWriteCloser

	mu       sync.Mutex
	received []protocol.Message
	statuses []bool
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{endpoints: make(chan io.ReadWriteCloser, 4)}
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		select {
		case ep := <-h.endpoints:
			return ep, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	submit := func(msg protocol.Message) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.received = append(h.received, msg)
	}
	h.adapter = NewAdapter(dial, submit, cfg, zerolog.Nop())
	h.adapter.OnStatus(func(up bool) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, up)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.adapter.Run(ctx)
	return h
}

// connect hands the adapter one half of a fresh pipe and returns the
// host's half.
func (h *harness) connect(t *testing.T) net.Conn {
	t.Helper()
	host, device := net.Pipe()
	h.endpoints <- device
	waitFor(t, "endpoint up", func() bool {
		statuses := h.statusLog()
		return len(statuses) > 0 && statuses[len(statuses)-1]
	})
	return host
}

func (h *harness) messages() []protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Message, len(h.received))
	copy(out, h.received)
	return out
}

func (h *harness) statusLog() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]bool, len(h.statuses))
	copy(out, h.statuses)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func encodeCommand(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	payload, err := protocol.Serialize(msg)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return framing.Encode(payload)
}

func TestReadPathDecodesCommandsInOrder(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	host := h.connect(t)
	defer host.Close()

	var stream []byte
	stream = append(stream, encodeCommand(t, protocol.SetCell{Row: 1, Col: 2, On: true})...)
	stream = append(stream, encodeCommand(t, protocol.CommitRender{})...)
	if _, err := host.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "two commands", func() bool { return len(h.messages()) == 2 })
	msgs := h.messages()
	if cell, ok := msgs[0].(protocol.SetCell); !ok || cell.Row != 1 || cell.Col != 2 {
		t.Fatalf("message 0 = %#v", msgs[0])
	}
	if _, ok := msgs[1].(protocol.CommitRender); !ok {
		t.Fatalf("message 1 = %#v", msgs[1])
	}
}

func TestWritePathFramesEvents(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	host := h.connect(t)
	defer host.Close()

	if !h.adapter.Send(protocol.Ack{Command: protocol.KindClear}) {
		t.Fatal("send refused")
	}

	buf := make([]byte, 64)
	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := host.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	dec := framing.NewDecoder(framing.DefaultMaxFrameSize)
	results := dec.Feed(buf[:n])
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("framing results %+v", results)
	}
	msg, err := protocol.Parse(results[0].Frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ack, ok := msg.(protocol.Ack)
	if !ok || ack.Command != protocol.KindClear {
		t.Fatalf("decoded %#v, want clear ack", msg)
	}
}

func TestMalformedFrameDoesNotStopStream(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	host := h.connect(t)
	defer host.Close()

	// Code byte points past the delimiter; the decoder reports the
	// frame and resynchronizes on the next delimiter.
	corrupt := []byte{0x09, 0x11, 0x00}
	stream := append(corrupt, encodeCommand(t, protocol.Ping{})...)
	if _, err := host.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "ping after corrupt frame", func() bool { return len(h.messages()) == 1 })
	if _, ok := h.messages()[0].(protocol.Ping); !ok {
		t.Fatalf("message %#v, want Ping", h.messages()[0])
	}
}

func TestHostOriginatedEventsAreDropped(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{})
	host := h.connect(t)
	defer host.Close()

	stream := encodeCommand(t, protocol.Ack{Command: protocol.KindPing})
	stream = append(stream, encodeCommand(t, protocol.Clear{})...)
	if _, err := host.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "clear command", func() bool { return len(h.messages()) == 1 })
	if _, ok := h.messages()[0].(protocol.Clear); !ok {
		t.Fatalf("message %#v, want Clear (ack dropped)", h.messages()[0])
	}
}

func TestReconnectAfterEndpointLoss(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{Backoff: BackoffConfig{
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Millisecond,
	}})
	first := h.connect(t)

	first.Close()
	waitFor(t, "down transition", func() bool {
		statuses := h.statusLog()
		return len(statuses) >= 2 && !statuses[1]
	})

	// A second endpoint resumes command flow with decoder state reset.
	second := h.connect(t)
	defer second.Close()
	if _, err := second.Write(encodeCommand(t, protocol.QueryStatus{})); err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}
	waitFor(t, "command after reconnect", func() bool { return len(h.messages()) == 1 })
	if _, ok := h.messages()[0].(protocol.QueryStatus); !ok {
		t.Fatalf("message %#v, want QueryStatus", h.messages()[0])
	}
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	testlog.Start(t)
	// No endpoint is ever connected, so the queue never drains.
	h := newHarness(t, Config{WriteQueueCap: 1})
	if !h.adapter.Send(protocol.Ack{Command: protocol.KindPing}) {
		t.Fatal("first send refused")
	}
	if h.adapter.Send(protocol.Ack{Command: protocol.KindPing}) {
		t.Fatal("second send accepted with a full queue")
	}
}

func TestListenDialerAcceptsAndHonorsCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	dial := ListenDialer(ln)

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer conn.Close()
			conn.Write([]byte{0x00})
		}
	}()
	ep, err := dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ep.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, err := dial(cancelled); err == nil {
		t.Fatal("dial succeeded with cancelled context and no peer")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancelled dial took %v to return", elapsed)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: delay %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt <= 10; attempt++ {
		delay := NextBackoffDelay(cfg, attempt, rng)
		if delay < cfg.InitialDelay/2 {
			t.Fatalf("attempt %d: delay %v below jitter floor", attempt, delay)
		}
		if delay > cfg.MaxDelay*3/2 {
			t.Fatalf("attempt %d: delay %v above jitter ceiling", attempt, delay)
		}
	}
}
