// Package config loads the delaycam YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miretskiy/delaycam"
	"github.com/miretskiy/delaycam/compression"
	"github.com/miretskiy/delaycam/settings"
	"github.com/miretskiy/delaycam/sim"
)

// File is the on-disk configuration.
type File struct {
	Delay         time.Duration `yaml:"delay"`
	FrameRate     float64       `yaml:"frame_rate"`
	BufferCount   int           `yaml:"buffer_count"`
	Prewarm       bool          `yaml:"prewarm"`
	RealtimeGrace time.Duration `yaml:"realtime_grace"`
	Focus         string        `yaml:"focus"`
	LogLevel      string        `yaml:"log_level"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	SettingsDir   string        `yaml:"settings_dir"`

	Sensor  Sensor  `yaml:"sensor"`
	History History `yaml:"history"`
}

// Sensor configures the simulated sensor.
type Sensor struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format"`
}

// History configures history exports.
type History struct {
	Dir      string `yaml:"dir"`
	Codec    string `yaml:"codec"`
	DirectIO bool   `yaml:"direct_io"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Delay:         5 * time.Second,
		FrameRate:     30,
		BufferCount:   4,
		Prewarm:       true,
		RealtimeGrace: time.Second,
		Focus:         "once",
		LogLevel:      "info",
		Sensor: Sensor{
			Width:  640,
			Height: 480,
			Format: "yuv420",
		},
		History: History{
			Dir:   ".",
			Codec: "s2",
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks every field and reports all problems at once.
func (f File) Validate() error {
	var errs []error
	if f.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %v", f.Delay))
	}
	if !(f.FrameRate > 0) {
		errs = append(errs, fmt.Errorf("frame_rate must be positive, got %v", f.FrameRate))
	}
	if f.BufferCount < 1 {
		errs = append(errs, fmt.Errorf("buffer_count must be positive, got %d", f.BufferCount))
	}
	if f.RealtimeGrace < 0 {
		errs = append(errs, fmt.Errorf("realtime_grace must not be negative, got %v", f.RealtimeGrace))
	}
	if _, err := settings.ParseFocusMode(f.Focus); err != nil {
		errs = append(errs, err)
	}
	if _, err := f.Level(); err != nil {
		errs = append(errs, err)
	}
	if f.Sensor.Width <= 0 || f.Sensor.Height <= 0 {
		errs = append(errs, fmt.Errorf("sensor size must be positive, got %dx%d", f.Sensor.Width, f.Sensor.Height))
	}
	if _, err := sim.ParseFormat(f.Sensor.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := compression.ParseCodec(f.History.Codec); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (f File) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(f.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Options converts the capture settings to pipeline options.
func (f File) Options() []delaycam.Option {
	return []delaycam.Option{
		delaycam.WithDelay(f.Delay),
		delaycam.WithFrameRate(f.FrameRate),
		delaycam.WithBufferCount(f.BufferCount),
		delaycam.WithPrewarm(f.Prewarm),
	}
}

// SensorOptions converts the sensor section to simulated device options.
func (f File) SensorOptions() []sim.Option {
	format, _ := sim.ParseFormat(f.Sensor.Format)
	return []sim.Option{
		sim.WithSize(f.Sensor.Width, f.Sensor.Height),
		sim.WithFormat(format),
	}
}

// CaptureChanged reports whether moving from f to next needs a pipeline
// reconfigure.
func (f File) CaptureChanged(next File) bool {
	return f.Delay != next.Delay || f.FrameRate != next.FrameRate
}
