// Package voice binds scheduled notes to live audio sources and stops them
// with the semantics of their kind: sampler sources are cut off, synth
// sources are released through their envelope.
package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cbegin/seqstudio-go/internal/samples"
	"github.com/cbegin/seqstudio-go/internal/track"
)

var (
	ErrNoBuffer     = errors.New("no sample buffer for instrument")
	ErrUnknownKind  = errors.New("unknown source kind")
	ErrNoSynthPatch = errors.New("instrument has no synth definition")
)

// OneShot is a buffer playback primitive. Stop may fail when the playback
// already finished or was already stopped.
type OneShot interface {
	Stop() error
}

// Releaser is an enveloped primitive. Releasing twice is harmless.
type Releaser interface {
	TriggerRelease()
}

// Source is a live voice. The set of implementations is closed:
// *SamplerSource and *SynthSource.
type Source interface {
	Kind() track.SourceType
	release(log *slog.Logger)
}

type SamplerSource struct {
	player OneShot
}

func NewSamplerSource(p OneShot) *SamplerSource { return &SamplerSource{player: p} }

func (*SamplerSource) Kind() track.SourceType { return track.Sampler }

func (s *SamplerSource) release(log *slog.Logger) {
	if s.player == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debug("sampler stop panicked", "panic", r)
		}
	}()
	if err := s.player.Stop(); err != nil {
		log.Debug("sampler source already stopped", "error", err)
	}
}

type SynthSource struct {
	voice Releaser
}

func NewSynthSource(r Releaser) *SynthSource { return &SynthSource{voice: r} }

func (*SynthSource) Kind() track.SourceType { return track.Synth }

func (s *SynthSource) release(log *slog.Logger) {
	if s.voice == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("synth release panicked", "panic", r)
		}
	}()
	s.voice.TriggerRelease()
}

// Voice is a note together with the source currently sounding it.
// Source is nil until the note is triggered and again after it is stopped.
type Voice struct {
	Note   track.Note
	Source Source
}

// Live reports whether the voice still holds a source.
func (v *Voice) Live() bool {
	return v != nil && v.Source != nil
}

// Stop releases the voice's source and clears it. Nil voices and voices
// without a source are left alone, so Stop can be called any number of times.
func Stop(v *Voice) {
	StopWithLogger(v, slog.Default())
}

func StopWithLogger(v *Voice, log *slog.Logger) {
	if v == nil || v.Source == nil {
		return
	}
	src := v.Source
	v.Source = nil
	src.release(log)
}

// Graph is the audio graph voices are created in.
type Graph interface {
	PlaySample(buf *samples.Buffer, p Params) (OneShot, error)
	PlaySynth(def *track.SynthDef, p Params) (Releaser, error)
}

// Params are the per-trigger settings handed to the graph.
type Params struct {
	Pitch    int
	Velocity float64
	Gain     float64
	Delay    time.Duration
}

// Buffers resolves an instrument id to its loaded sample buffer.
type Buffers interface {
	Buffer(instrument string) (*samples.Buffer, bool)
}

// Trigger creates the source for n and returns the bound voice. The note's
// source type decides which primitive is created.
func Trigger(g Graph, bufs Buffers, in track.Instrument, n track.Note, p Params) (*Voice, error) {
	p.Pitch = n.Pitch
	p.Velocity = n.Velocity
	switch n.Type {
	case track.Sampler:
		var buf *samples.Buffer
		var ok bool
		if bufs != nil {
			buf, ok = bufs.Buffer(in.ID)
		}
		if !ok || buf == nil {
			return nil, fmt.Errorf("%w %q", ErrNoBuffer, in.ID)
		}
		shot, err := g.PlaySample(buf, p)
		if err != nil {
			return nil, err
		}
		return &Voice{Note: n, Source: NewSamplerSource(shot)}, nil
	case track.Synth:
		if in.Synth == nil && in.Kind != track.Synth {
			return nil, fmt.Errorf("%w %q", ErrNoSynthPatch, in.ID)
		}
		rel, err := g.PlaySynth(in.Synth, p)
		if err != nil {
			return nil, err
		}
		return &Voice{Note: n, Source: NewSynthSource(rel)}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, n.Type)
	}
}
