package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded from a YAML file with
// sensible defaults for anything omitted.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Source    SourceConfig    `yaml:"source"`
	Recording RecordingConfig `yaml:"recording"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StreamConfig struct {
	RetentionSeconds float64 `yaml:"retention_seconds"`
	TargetFPS        int     `yaml:"target_fps"`
	FFTSize          int     `yaml:"fft_size"`
	Window           string  `yaml:"window"`
	Overlap          float64 `yaml:"overlap"`
	QualityMode      string  `yaml:"quality_mode"`
	ViewportWidth    int     `yaml:"viewport_width"`
	ViewportHeight   int     `yaml:"viewport_height"`
	SendRawSamples   bool    `yaml:"send_raw_samples"`
}

type SourceConfig struct {
	Type       string  `yaml:"type"` // "device" or "sim"
	DevicePath string  `yaml:"device_path"`
	SampleRate float64 `yaml:"sample_rate"`
	ToneOffset float64 `yaml:"tone_offset"`
}

type RecordingConfig struct {
	DataDir  string `yaml:"data_dir"`
	Compress bool   `yaml:"compress"`
}

// DefaultConfig returns a configuration suitable for local development
// against the simulator.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Stream: StreamConfig{
			RetentionSeconds: 1.0,
			TargetFPS:        30,
			FFTSize:          2048,
			Window:           "hamming",
			Overlap:          0,
			QualityMode:      "auto",
			ViewportWidth:    1920,
			ViewportHeight:   1080,
		},
		Source: SourceConfig{
			Type:       "sim",
			DevicePath: "/tmp/iqhub.fifo",
			SampleRate: 2e6,
			ToneOffset: 100e3,
		},
		Recording: RecordingConfig{DataDir: "./recordings"},
	}
}

// LoadConfig reads path and overlays it on the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Stream.FFTSize <= 0 {
		return fmt.Errorf("invalid fft size %d", c.Stream.FFTSize)
	}
	if c.Stream.Overlap < 0 || c.Stream.Overlap >= 1 {
		return fmt.Errorf("invalid overlap %f, want [0, 1)", c.Stream.Overlap)
	}
	if c.Source.SampleRate <= 0 {
		return fmt.Errorf("invalid source sample rate %f", c.Source.SampleRate)
	}
	return nil
}
