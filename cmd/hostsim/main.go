// hostsim plays the host side of the serial link: it connects to a
// running dotpaneld, drives a scrolling write/commit/status pattern and
// logs the events coming back. Useful for exercising the full path
// without firmware.
package main

import (
	"flag"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dotpanel/dotpanel/internal/framing"
	"github.com/dotpanel/dotpanel/internal/observability"
	"github.com/dotpanel/dotpanel/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7070", "dotpaneld serial endpoint address")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between commit cycles")
	width := flag.Int("width", 32, "panel width")
	height := flag.Int("height", 16, "panel height")
	cycles := flag.Int("cycles", 0, "number of cycles to run, 0 for unbounded")
	flag.Parse()

	observability.InitLogger("hostsim")

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("connect failed")
	}
	defer conn.Close()
	log.Info().Str("addr", *addr).Msg("connected")

	go readEvents(conn)

	send(conn, protocol.GetDisplayInfo{})
	for n := 0; *cycles == 0 || n < *cycles; n++ {
		col := uint16(n % *width)
		row := uint16((n / *width) % *height)
		send(conn, protocol.SetCell{Row: row, Col: col, On: true})
		send(conn, protocol.WriteRegion{
			X: col, Y: row, Width: 1, Height: 1,
			Bitmap: []byte{0x01},
		})
		send(conn, protocol.CommitRender{})
		send(conn, protocol.QueryStatus{})
		time.Sleep(*interval)
	}
	send(conn, protocol.Clear{})
	send(conn, protocol.CommitRender{})
}

func send(conn net.Conn, cmd protocol.Message) {
	payload, err := protocol.Serialize(cmd)
	if err != nil {
		log.Fatal().Err(err).Msg("serialize failed")
	}
	if _, err := conn.Write(framing.Encode(payload)); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}
	log.Debug().Stringer("kind", cmd.Kind()).Msg("sent")
}

func readEvents(conn net.Conn) {
	dec := framing.NewDecoder(framing.DefaultMaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, res := range dec.Feed(buf[:n]) {
				logEvent(res)
			}
		}
		if err != nil {
			log.Fatal().Err(err).Msg("connection lost")
		}
	}
}

func logEvent(res framing.Result) {
	if res.Err != nil {
		log.Warn().Err(res.Err).Msg("bad frame")
		return
	}
	msg, err := protocol.Parse(res.Frame)
	if err != nil {
		log.Warn().Err(err).Msg("bad message")
		return
	}
	switch ev := msg.(type) {
	case protocol.Ack:
		log.Info().Stringer("command", ev.Command).Msg("ack")
	case protocol.StatusReport:
		log.Info().
			Uint32("checksum", ev.Checksum).
			Uint32("commits", ev.Commits).
			Msg("status")
	case protocol.DisplayInfo:
		log.Info().
			Uint16("width", ev.Width).
			Uint16("height", ev.Height).
			Uint8("pixel", uint8(ev.Pixel)).
			Msg("display info")
	case protocol.Fault:
		log.Warn().Stringer("code", ev.Code).Str("detail", ev.Detail).Msg("fault")
	default:
		log.Info().Stringer("kind", msg.Kind()).Msg("event")
	}
}
