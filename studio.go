// Package seqstudio is a multitrack sequencing engine: a tempo-driven
// transport that schedules sampler and synth notes into a mixer, with
// offline rendering to WAV and MP3.
package seqstudio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cbegin/seqstudio-go/internal/audio"
	"github.com/cbegin/seqstudio-go/internal/beatgrid"
	"github.com/cbegin/seqstudio-go/internal/bus"
	"github.com/cbegin/seqstudio-go/internal/clock"
	"github.com/cbegin/seqstudio-go/internal/mixer"
	"github.com/cbegin/seqstudio-go/internal/samples"
	"github.com/cbegin/seqstudio-go/internal/store"
	"github.com/cbegin/seqstudio-go/internal/track"
	"github.com/cbegin/seqstudio-go/internal/transport"
)

var (
	ErrNotReady     = transport.ErrNotReady
	ErrInvalidTempo = transport.ErrInvalidTempo
)

type Event = transport.Event

const (
	EventPlay    = transport.EventPlay
	EventPause   = transport.EventPause
	EventStop    = transport.EventStop
	EventTempo   = transport.EventTempo
	EventNoteOn  = transport.EventNoteOn
	EventNoteOff = transport.EventNoteOff
	EventEnded   = transport.EventEnded
)

type Option func(*studioConfig)

type studioConfig struct {
	sampleRate    int
	tickFrames    int
	lookahead     float64
	sampleDir     string
	maxConcurrent int
	bank          *samples.Bank
	logger        *slog.Logger
	progress      func(done, total int)
}

func defaultStudioConfig() studioConfig {
	return studioConfig{
		sampleRate: 44100,
		tickFrames: 256,
		lookahead:  transport.DefaultLookahead,
		logger:     slog.Default(),
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *studioConfig) {
		cfg.sampleRate = rate
	}
}

// WithTickFrames sets how many frames are rendered between scheduler ticks.
func WithTickFrames(frames int) Option {
	return func(cfg *studioConfig) {
		cfg.tickFrames = frames
	}
}

func WithLookahead(beats float64) Option {
	return func(cfg *studioConfig) {
		cfg.lookahead = beats
	}
}

// WithSampleDir resolves relative instrument sample paths.
func WithSampleDir(dir string) Option {
	return func(cfg *studioConfig) {
		cfg.sampleDir = dir
	}
}

func WithMaxConcurrentLoads(n int) Option {
	return func(cfg *studioConfig) {
		cfg.maxConcurrent = n
	}
}

// WithBank shares an already loaded sample bank.
func WithBank(bank *samples.Bank) Option {
	return func(cfg *studioConfig) {
		cfg.bank = bank
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(cfg *studioConfig) {
		if log != nil {
			cfg.logger = log
		}
	}
}

// WithRenderProgress is told how many frames Render has produced.
func WithRenderProgress(fn func(done, total int)) Option {
	return func(cfg *studioConfig) {
		cfg.progress = fn
	}
}

// Studio wires the store, transport, sample loader and mixer together and
// renders audio frame by frame. Its clock advances with rendered frames, so
// live playback and offline rendering schedule identically.
type Studio struct {
	mu         sync.Mutex
	cfg        studioConfig
	store      *store.Store
	bank       *samples.Bank
	loader     *samples.Loader
	mixer      *mixer.Mixer
	clk        *clock.Manual
	epoch      time.Time
	transport  *transport.Transport
	frames     int
	untilTick  int
	lastVolume float64
}

// New creates a stopped studio for p. A nil project starts empty.
func New(p *track.Project, opts ...Option) (*Studio, error) {
	cfg := defaultStudioConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if cfg.tickFrames <= 0 {
		return nil, errors.New("tick frames must be positive")
	}
	st := store.New()
	if p != nil {
		if err := st.LoadProject(p); err != nil {
			return nil, err
		}
	}
	bank := cfg.bank
	if bank == nil {
		bank = samples.NewBank()
	}
	epoch := time.Unix(0, 0)
	clk := clock.NewManual(epoch)
	mix := mixer.New(cfg.sampleRate,
		mixer.WithLogger(cfg.logger),
		mixer.WithBus(bus.FromDef(cfg.sampleRate, st.Snapshot().Bus)),
	)
	mix.SetMasterVolume(st.MasterVolume())
	s := &Studio{
		cfg:        cfg,
		store:      st,
		bank:       bank,
		mixer:      mix,
		clk:        clk,
		epoch:      epoch,
		lastVolume: st.MasterVolume(),
	}
	s.loader = samples.NewLoader(bank, st, samples.Options{
		Dir:           cfg.sampleDir,
		SampleRate:    cfg.sampleRate,
		MaxConcurrent: cfg.maxConcurrent,
		Logger:        cfg.logger,
	})
	s.transport = transport.New(st, mix, bank, clk,
		transport.WithLookahead(cfg.lookahead),
		transport.WithLogger(cfg.logger),
	)
	return s, nil
}

func (s *Studio) SampleRate() int { return s.cfg.sampleRate }

// Store is the state container editors mutate.
func (s *Studio) Store() *store.Store { return s.store }

func (s *Studio) Bank() *samples.Bank { return s.bank }

// LoadSamples decodes every sampler instrument in the background. Play
// returns ErrNotReady until it finishes.
func (s *Studio) LoadSamples(ctx context.Context) <-chan error {
	return s.loader.Load(ctx, s.store.Snapshot().Instruments)
}

func (s *Studio) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transport.Play(); err != nil {
		return err
	}
	s.untilTick = 0
	return nil
}

func (s *Studio) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.Pause()
}

func (s *Studio) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.Stop()
}

func (s *Studio) SetTempo(bpm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.SetTempo(bpm)
}

func (s *Studio) SetMasterVolume(v float64) {
	s.store.SetMasterVolume(v)
}

func (s *Studio) Playing() bool        { return s.transport.Playing() }
func (s *Studio) Tempo() float64       { return s.transport.Tempo() }
func (s *Studio) CurrentBeat() float64 { return s.transport.CurrentBeat() }

func (s *Studio) PlayingStartBeat() float64 {
	return s.transport.PlayingStartBeat()
}

// Ended reports whether playback has passed the last note and every voice,
// release tails included, has gone silent. Unlike EventEnded it cannot be
// missed by a slow watcher.
func (s *Studio) Ended() bool {
	return s.transport.Ended() && s.mixer.ActiveVoices() == 0
}

// Watch returns a channel of transport events. Only the most recent channel
// receives events.
func (s *Studio) Watch() <-chan Event {
	return s.transport.Watch()
}

// Grid lays out horizon beat cells against the current playhead.
func (s *Studio) Grid(horizon int, spacing float64) []beatgrid.Cell {
	return beatgrid.New(horizon, spacing).Cells(s)
}

// Process renders interleaved stereo frames into dst, ticking the
// transport every tick-frames frames.
func (s *Studio) Process(dst []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := len(dst) / 2
	off := 0
	for remaining > 0 {
		if s.untilTick <= 0 {
			s.transport.Tick(s.clk.Now())
			s.syncVolume()
			s.untilTick = s.cfg.tickFrames
		}
		n := min(s.untilTick, remaining)
		s.mixer.Render(dst[off : off+2*n])
		s.frames += n
		s.clk.Set(s.epoch.Add(clock.Frames(s.frames, s.cfg.sampleRate)))
		s.untilTick -= n
		remaining -= n
		off += 2 * n
	}
}

func (s *Studio) syncVolume() {
	if v := s.store.MasterVolume(); v != s.lastVolume {
		s.mixer.SetMasterVolume(v)
		s.lastVolume = v
	}
}

// OpenOutput connects the studio to the audio device. The output starts
// suspended.
func (s *Studio) OpenOutput(bufferSize time.Duration) (*audio.Output, error) {
	return audio.Open(s.cfg.sampleRate, s, bufferSize)
}

// Close stops playback and silences the mixer.
func (s *Studio) Close() error {
	s.Stop()
	s.mixer.Reset()
	return nil
}
