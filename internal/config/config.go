package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/seqstudio-go/internal/encoder"
)

type Config struct {
	LogLevel  int    `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Encoder   encoder.Params  `yaml:"encoder"`
	Samples   SamplesConfig   `yaml:"samples"`
	Render    RenderConfig    `yaml:"render"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	// TickFrames is how many frames are rendered between scheduler ticks.
	TickFrames     int     `yaml:"tick_frames"`
	LookaheadBeats float64 `yaml:"lookahead_beats"`
}

type TransportConfig struct {
	Tempo        float64 `yaml:"tempo"`
	MasterVolume float64 `yaml:"master_volume"`
}

type SamplesConfig struct {
	// Directory relative sample paths are resolved against.
	Dir           string `yaml:"dir"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type RenderConfig struct {
	// Seconds rendered after the last note so releases can ring out.
	TailSeconds float64 `yaml:"tail_seconds"`
	OutputDir   string  `yaml:"output_dir"`
}

func Default() *Config {
	return &Config{
		LogFormat: "text",
		Audio: AudioConfig{
			SampleRate:     44100,
			TickFrames:     256,
			LookaheadBeats: 0.1,
		},
		Transport: TransportConfig{
			Tempo:        90,
			MasterVolume: 1,
		},
		Encoder: encoder.DefaultParams(),
		Samples: SamplesConfig{
			Dir:           ".",
			MaxConcurrent: 4,
		},
		Render: RenderConfig{
			TailSeconds: 1,
			OutputDir:   "output",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, so missing keys keep their default
// values.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	// Zero values that can never be meant literally fall back to defaults
	def := Default()
	if config.LogFormat == "" {
		config.LogFormat = def.LogFormat
	}
	if config.Audio.SampleRate == 0 {
		config.Audio.SampleRate = def.Audio.SampleRate
	}
	if config.Audio.TickFrames == 0 {
		config.Audio.TickFrames = def.Audio.TickFrames
	}
	if config.Encoder == (encoder.Params{}) {
		config.Encoder = def.Encoder
	}
	if config.Samples.MaxConcurrent == 0 {
		config.Samples.MaxConcurrent = def.Samples.MaxConcurrent
	}
	if config.Render.OutputDir == "" {
		config.Render.OutputDir = def.Render.OutputDir
	}
	config.Transport.MasterVolume = min(max(config.Transport.MasterVolume, 0), 1)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.TickFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.tick_frames must be positive, got %d", c.Audio.TickFrames))
	}
	if c.Audio.LookaheadBeats < 0 {
		errs = append(errs, fmt.Errorf("audio.lookahead_beats must not be negative, got %v", c.Audio.LookaheadBeats))
	}
	if c.Transport.Tempo <= 0 {
		errs = append(errs, fmt.Errorf("transport.tempo must be positive, got %v", c.Transport.Tempo))
	}
	if c.Render.TailSeconds < 0 {
		errs = append(errs, fmt.Errorf("render.tail_seconds must not be negative, got %v", c.Render.TailSeconds))
	}
	if err := c.Encoder.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger described by the config.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.Level(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
