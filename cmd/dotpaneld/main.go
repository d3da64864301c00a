package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dotpanel/dotpanel/internal/broker"
	"github.com/dotpanel/dotpanel/internal/config"
	"github.com/dotpanel/dotpanel/internal/coproc"
	"github.com/dotpanel/dotpanel/internal/observability"
	"github.com/dotpanel/dotpanel/internal/observer"
	"github.com/dotpanel/dotpanel/internal/sim"
	"github.com/dotpanel/dotpanel/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	observability.InitLogger("dotpaneld")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded config")
	}

	device := coproc.NewDevice(coproc.Config{
		Width:      cfg.Panel.Width,
		Height:     cfg.Panel.Height,
		Rgb:        cfg.Panel.Rgb,
		PaletteOn:  uint16(cfg.Panel.PaletteOn),
		PaletteOff: uint16(cfg.Panel.PaletteOff),
	})
	loop := sim.NewLoop(sim.Config{}, device, log.Logger)
	b := broker.New(broker.Config{QueueCapacity: cfg.Broker.QueueCapacity}, log.Logger)
	b.SetApplier(loop)
	loop.SetPublisher(b)

	var dial transport.Dialer
	if cfg.Transport.Endpoint != "" {
		dial = transport.FileDialer(cfg.Transport.Endpoint)
		log.Info().Str("endpoint", cfg.Transport.Endpoint).Msg("serial endpoint configured")
	} else {
		ln, err := net.Listen("tcp", cfg.Transport.ListenAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Transport.ListenAddr).Msg("serial listen failed")
		}
		defer ln.Close()
		dial = transport.ListenDialer(ln)
		log.Info().Str("addr", cfg.Transport.ListenAddr).Msg("listening for host connection")
	}

	adapter := transport.NewAdapter(dial, loop.SubmitTransport, transport.Config{
		MaxFrameSize:  cfg.Framing.MaxFrameSize,
		WriteQueueCap: cfg.Transport.WriteQueue,
		Backoff: transport.BackoffConfig{
			InitialDelay: time.Duration(cfg.Transport.BackoffInitialMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Duration(cfg.Transport.BackoffMaxMs) * time.Millisecond,
			Jitter:       true,
		},
	}, log.Logger)
	loop.SetEventWriter(adapter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go loop.Run(ctx)
	go adapter.Run(ctx)

	server := observer.NewServer(cfg.Server.Addr, cfg.Server.CorsOrigins, b)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		b.Close()
	case err := <-serveErr:
		log.Fatal().Err(err).Msg("observer server stopped")
	}
}
