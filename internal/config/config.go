// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Panel     PanelConfig     `toml:"panel"`
	Framing   FramingConfig   `toml:"framing"`
	Broker    BrokerConfig    `toml:"broker"`
	Transport TransportConfig `toml:"transport"`
	Server    ServerConfig    `toml:"server"`
}

type PanelConfig struct {
	Width      int  `toml:"width"`
	Height     int  `toml:"height"`
	Rgb        bool `toml:"rgb"`
	PaletteOn  int  `toml:"palette_on"`
	PaletteOff int  `toml:"palette_off"`
}

type FramingConfig struct {
	MaxFrameSize int `toml:"max_frame_size"`
}

type BrokerConfig struct {
	QueueCapacity int `toml:"queue_capacity"`
}

type TransportConfig struct {
	// Endpoint is a serial device or socket path to dial. When empty
	// the daemon listens on ListenAddr for the host to connect instead.
	Endpoint   string `toml:"endpoint"`
	ListenAddr string `toml:"listen_addr"`
	WriteQueue int    `toml:"write_queue"`

	BackoffInitialMs int `toml:"backoff_initial_ms"`
	BackoffMaxMs     int `toml:"backoff_max_ms"`
}

type ServerConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Panel.Width == 0 {
		cfg.Panel.Width = 32
	}
	if cfg.Panel.Height == 0 {
		cfg.Panel.Height = 16
	}
	if cfg.Framing.MaxFrameSize == 0 {
		cfg.Framing.MaxFrameSize = 4096
	}
	if cfg.Broker.QueueCapacity == 0 {
		cfg.Broker.QueueCapacity = 256
	}
	if cfg.Transport.WriteQueue == 0 {
		cfg.Transport.WriteQueue = 64
	}
	if cfg.Transport.BackoffInitialMs == 0 {
		cfg.Transport.BackoffInitialMs = 250
	}
	if cfg.Transport.BackoffMaxMs == 0 {
		cfg.Transport.BackoffMaxMs = 5000
	}
	if cfg.Transport.Endpoint == "" && cfg.Transport.ListenAddr == "" {
		cfg.Transport.ListenAddr = ":7070"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func Validate(cfg Config) error {
	if cfg.Panel.Width < 1 || cfg.Panel.Width > 512 {
		return fmt.Errorf("panel width %d out of range [1,512]", cfg.Panel.Width)
	}
	if cfg.Panel.Height < 1 || cfg.Panel.Height > 512 {
		return fmt.Errorf("panel height %d out of range [1,512]", cfg.Panel.Height)
	}
	if !cfg.Panel.Rgb && (cfg.Panel.PaletteOn != 0 || cfg.Panel.PaletteOff != 0) {
		return fmt.Errorf("palette configured for a mono panel")
	}
	if cfg.Panel.PaletteOn < 0 || cfg.Panel.PaletteOn > 0xFFFF ||
		cfg.Panel.PaletteOff < 0 || cfg.Panel.PaletteOff > 0xFFFF {
		return fmt.Errorf("palette values must fit u16")
	}
	if cfg.Framing.MaxFrameSize < 16 {
		return fmt.Errorf("framing max_frame_size %d too small", cfg.Framing.MaxFrameSize)
	}
	if cfg.Broker.QueueCapacity < 1 {
		return fmt.Errorf("broker queue_capacity must be positive")
	}
	if cfg.Transport.Endpoint != "" && cfg.Transport.ListenAddr != "" {
		return fmt.Errorf("transport endpoint and listen_addr are mutually exclusive")
	}
	if cfg.Transport.BackoffInitialMs < 1 || cfg.Transport.BackoffMaxMs < cfg.Transport.BackoffInitialMs {
		return fmt.Errorf("transport backoff range %dms..%dms invalid", cfg.Transport.BackoffInitialMs, cfg.Transport.BackoffMaxMs)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server addr is required")
	}
	return nil
}
