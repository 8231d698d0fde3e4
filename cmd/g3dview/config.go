package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gogpu/g3d/device"
	"github.com/pelletier/go-toml/v2"
)

// Config is the viewer configuration file.
type Config struct {
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	Backend     string `toml:"backend"`
	Frames      int    `toml:"frames"`
	Environment string `toml:"environment"`
	BackBuffers int    `toml:"back_buffers"`
	VSync       bool   `toml:"vsync"`
	RTShadows   bool   `toml:"rt_shadows"`
	LogLevel    string `toml:"log_level"`

	Heaps HeapConfig `toml:"heaps"`
}

// HeapConfig sizes the descriptor heaps. Zero keeps the device default.
type HeapConfig struct {
	RTV     int `toml:"rtv"`
	DSV     int `toml:"dsv"`
	SRV     int `toml:"srv"`
	Sampler int `toml:"sampler"`
}

func defaultConfig() Config {
	return Config{
		Width:       device.DefaultWidth,
		Height:      device.DefaultHeight,
		Frames:      60,
		BackBuffers: device.DefaultBackBufferCount,
		LogLevel:    "info",
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid size %dx%d", c.Width, c.Height)
	}
	if c.Frames < 0 {
		return fmt.Errorf("invalid frame count %d", c.Frames)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// deviceConfig maps the file onto device.Config.
func (c Config) deviceConfig() device.Config {
	return device.Config{
		Width:           c.Width,
		Height:          c.Height,
		BackBufferCount: c.BackBuffers,
		RTVHeapSize:     c.Heaps.RTV,
		DSVHeapSize:     c.Heaps.DSV,
		SRVHeapSize:     c.Heaps.SRV,
		SamplerHeapSize: c.Heaps.Sampler,
		VSync:           c.VSync,
	}
}
