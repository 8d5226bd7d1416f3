// Package mixer is the audio graph voices play into. It mixes one-shot
// sample playbacks with the synth engine and applies the master volume.
package mixer

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/cbegin/seqstudio-go/internal/bus"
	"github.com/cbegin/seqstudio-go/internal/clock"
	"github.com/cbegin/seqstudio-go/internal/samples"
	"github.com/cbegin/seqstudio-go/internal/synth"
	"github.com/cbegin/seqstudio-go/internal/track"
	"github.com/cbegin/seqstudio-go/internal/voice"
)

var (
	ErrAlreadyStopped = errors.New("playback already stopped")
	ErrFinished       = errors.New("playback already finished")
)

// Mixer implements voice.Graph. All methods are safe for concurrent use;
// Render is normally called from the audio callback while the transport
// triggers and stops voices.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	engine     *synth.Engine
	shots      []*shot
	bus        *bus.Chain
	master     float64
	log        *slog.Logger
}

type Option func(*Mixer)

func WithLogger(log *slog.Logger) Option {
	return func(m *Mixer) {
		if log != nil {
			m.log = log
		}
	}
}

// WithSynthParams replaces the synth engine's voice count and gain staging.
func WithSynthParams(p synth.Params) Option {
	return func(m *Mixer) {
		m.engine = synth.New(m.sampleRate, p)
	}
}

// WithBus routes the mix through chain before the master volume.
func WithBus(chain *bus.Chain) Option {
	return func(m *Mixer) {
		m.bus = chain
	}
}

func New(sampleRate int, opts ...Option) *Mixer {
	m := &Mixer{
		sampleRate: sampleRate,
		engine:     synth.New(sampleRate, synth.DefaultParams()),
		master:     1,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (m *Mixer) SetMasterVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	m.mu.Lock()
	m.master = min(max(v, 0), 1)
	m.mu.Unlock()
}

func (m *Mixer) MasterVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.master
}

// PlaySample starts buf after p.Delay. The returned handle stops it.
func (m *Mixer) PlaySample(buf *samples.Buffer, p voice.Params) (voice.OneShot, error) {
	if buf.Frames() == 0 {
		return nil, samples.ErrEmptySample
	}
	s := &shot{
		m:    m,
		buf:  buf,
		wait: clock.FramesIn(p.Delay, m.sampleRate),
		gain: float32(min(max(p.Velocity, 0), 1) * p.Gain),
	}
	m.mu.Lock()
	m.shots = append(m.shots, s)
	m.mu.Unlock()
	return s, nil
}

// PlaySynth starts a synth voice after p.Delay. A nil definition plays the
// default patch.
func (m *Mixer) PlaySynth(def *track.SynthDef, p voice.Params) (voice.Releaser, error) {
	patch, err := synth.PatchFrom(def)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.engine.NoteOn(patch, p.Pitch, p.Velocity, p.Gain, clock.FramesIn(p.Delay, m.sampleRate))
	m.mu.Unlock()
	return &synthVoice{m: m, id: id}, nil
}

// Render fills dst with interleaved stereo frames.
func (m *Mixer) Render(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	master := float32(m.master)
	for i := 0; i+1 < len(dst); i += 2 {
		l, r := m.engine.RenderFrame()
		for _, s := range m.shots {
			sl, sr := s.next()
			l += sl
			r += sr
		}
		l, r = m.bus.Process(l, r)
		dst[i] = clamp(l * master)
		dst[i+1] = clamp(r * master)
	}
	m.compact()
}

// compact drops finished and stopped playbacks.
func (m *Mixer) compact() {
	live := m.shots[:0]
	for _, s := range m.shots {
		if !s.done && !s.stopped {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(m.shots); i++ {
		m.shots[i] = nil
	}
	m.shots = live
}

// ActiveVoices counts sample playbacks and synth voices still sounding.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.engine.ActiveVoiceCount()
	for _, s := range m.shots {
		if !s.done && !s.stopped {
			n++
		}
	}
	return n
}

// Reset silences everything at once.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shots {
		s.stopped = true
	}
	m.shots = m.shots[:0]
	m.engine.Reset()
	m.bus.Reset()
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// shot is one buffer playback. Its fields are guarded by the mixer's mutex.
type shot struct {
	m       *Mixer
	buf     *samples.Buffer
	wait    int
	pos     int
	gain    float32
	done    bool
	stopped bool
}

func (s *shot) next() (float32, float32) {
	if s.done || s.stopped {
		return 0, 0
	}
	if s.wait > 0 {
		s.wait--
		return 0, 0
	}
	if s.pos >= s.buf.Frames() {
		s.done = true
		return 0, 0
	}
	l, r := s.buf.Left[s.pos]*s.gain, s.buf.Right[s.pos]*s.gain
	s.pos++
	if s.pos >= s.buf.Frames() {
		s.done = true
	}
	return l, r
}

func (s *shot) Stop() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	switch {
	case s.stopped:
		return ErrAlreadyStopped
	case s.done:
		return ErrFinished
	}
	s.stopped = true
	return nil
}

type synthVoice struct {
	m  *Mixer
	id int
}

func (v *synthVoice) TriggerRelease() {
	v.m.mu.Lock()
	v.m.engine.NoteOff(v.id)
	v.m.mu.Unlock()
}

// Releasing reports whether the voice is fading out.
func (v *synthVoice) Releasing() bool {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.engine.Releasing(v.id)
}
