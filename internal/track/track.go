// Package track holds the sequencer's note and track model. It is plain data:
// the transport owns the runtime state (live sources) of scheduled notes.
package track

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FirstBeat is the position of the first beat. Beats are 1-indexed.
const FirstBeat = 1.0

var (
	ErrUnknownSourceType = errors.New("unknown source type")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidNote       = errors.New("invalid note")
)

// SourceType selects how a note sounds and, more importantly, how it is stopped.
type SourceType int

const (
	// Sampler notes play a buffer once and are cut off when stopped.
	Sampler SourceType = iota
	// Synth notes are enveloped and fade out through a release stage.
	Synth
)

func (s SourceType) String() string {
	switch s {
	case Sampler:
		return "sampler"
	case Synth:
		return "synth"
	default:
		return fmt.Sprintf("SourceType(%d)", int(s))
	}
}

func ParseSourceType(name string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sampler", "sample":
		return Sampler, nil
	case "synth":
		return Synth, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSourceType, name)
	}
}

func (s SourceType) MarshalText() ([]byte, error) {
	if s != Sampler && s != Synth {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSourceType, int(s))
	}
	return []byte(s.String()), nil
}

func (s *SourceType) UnmarshalText(text []byte) error {
	v, err := ParseSourceType(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Note is a single event on a track, positioned in beats.
type Note struct {
	Start    float64    `yaml:"start"`
	Duration float64    `yaml:"duration"`
	Pitch    int        `yaml:"pitch"`
	Velocity float64    `yaml:"velocity"`
	Type     SourceType `yaml:"-"`
}

// Stop is the beat at which the note ends.
func (n Note) Stop() float64 {
	return n.Start + n.Duration
}

func (n Note) Validate() error {
	switch {
	case math.IsNaN(n.Start) || math.IsInf(n.Start, 0) || n.Start < FirstBeat:
		return fmt.Errorf("%w: start %v before beat 1", ErrInvalidNote, n.Start)
	case math.IsNaN(n.Duration) || math.IsInf(n.Duration, 0) || n.Duration <= 0:
		return fmt.Errorf("%w: duration %v", ErrInvalidNote, n.Duration)
	case n.Pitch < 0 || n.Pitch > 127:
		return fmt.Errorf("%w: pitch %d", ErrInvalidNote, n.Pitch)
	case n.Velocity < 0 || n.Velocity > 1:
		return fmt.Errorf("%w: velocity %v", ErrInvalidNote, n.Velocity)
	}
	return nil
}

// SynthDef describes an enveloped oscillator voice. Times are in seconds.
type SynthDef struct {
	Wave    string   `yaml:"wave"`
	Attack  float64  `yaml:"attack"`
	Decay   float64  `yaml:"decay"`
	Sustain float64  `yaml:"sustain"`
	Release float64  `yaml:"release"`
	Gain    float64  `yaml:"gain"`
	Vibrato *Vibrato `yaml:"vibrato,omitempty"`
}

// Vibrato modulates a synth voice's pitch. Depth is in semitones.
type Vibrato struct {
	Depth float64 `yaml:"depth"`
	Rate  float64 `yaml:"rate"`
}

// BusDef describes the processors on the master bus. Nil sections are
// bypassed.
type BusDef struct {
	Compressor *CompressorDef `yaml:"compressor,omitempty"`
	Echo       *EchoDef       `yaml:"echo,omitempty"`
	Reverb     *ReverbDef     `yaml:"reverb,omitempty"`
}

type CompressorDef struct {
	ThresholdDB float64 `yaml:"threshold_db"`
	Ratio       float64 `yaml:"ratio"`
	AttackMs    float64 `yaml:"attack_ms"`
	ReleaseMs   float64 `yaml:"release_ms"`
	MakeupDB    float64 `yaml:"makeup_db"`
}

type EchoDef struct {
	TimeMs   float64 `yaml:"time_ms"`
	Feedback float64 `yaml:"feedback"`
	Cross    float64 `yaml:"cross"`
	Wet      float64 `yaml:"wet"`
}

type ReverbDef struct {
	Room  float64 `yaml:"room"`
	Decay float64 `yaml:"decay"`
	Wet   float64 `yaml:"wet"`
}

// Instrument is what a track plays: a sample file or a synth definition.
type Instrument struct {
	ID    string     `yaml:"id"`
	Kind  SourceType `yaml:"kind"`
	Path  string     `yaml:"path,omitempty"`
	Synth *SynthDef  `yaml:"synth,omitempty"`
}

// Track is an ordered list of notes bound to one instrument.
type Track struct {
	ID         string  `yaml:"id"`
	Instrument string  `yaml:"instrument"`
	Notes      []Note  `yaml:"notes"`
	Mute       bool    `yaml:"mute,omitempty"`
	Solo       bool    `yaml:"solo,omitempty"`
	Gain       float64 `yaml:"gain"`
}

// Sort orders notes by start beat. Notes with equal starts keep their
// relative order so scheduling is stable across edits.
func (t *Track) Sort() {
	sort.SliceStable(t.Notes, func(i, j int) bool {
		return t.Notes[i].Start < t.Notes[j].Start
	})
}

// Sorted reports whether notes are in ascending start order.
func (t Track) Sorted() bool {
	return sort.SliceIsSorted(t.Notes, func(i, j int) bool {
		return t.Notes[i].Start < t.Notes[j].Start
	})
}

// Clone returns a deep copy.
func (t Track) Clone() Track {
	out := t
	if t.Notes != nil {
		out.Notes = make([]Note, len(t.Notes))
		copy(out.Notes, t.Notes)
	}
	return out
}

// EndBeat is the latest stop beat on the track, or FirstBeat when empty.
func (t Track) EndBeat() float64 {
	end := FirstBeat
	for _, n := range t.Notes {
		if s := n.Stop(); s > end {
			end = s
		}
	}
	return end
}

// AnySolo reports whether at least one track is soloed.
func AnySolo(tracks []Track) bool {
	for _, t := range tracks {
		if t.Solo {
			return true
		}
	}
	return false
}

// Audible reports whether the track should sound given the solo state of
// the whole arrangement.
func (t Track) Audible(anySolo bool) bool {
	if t.Mute {
		return false
	}
	return !anySolo || t.Solo
}

// Clone returns a deep copy. Nil stays nil.
func (d *SynthDef) Clone() *SynthDef {
	if d == nil {
		return nil
	}
	out := *d
	if d.Vibrato != nil {
		v := *d.Vibrato
		out.Vibrato = &v
	}
	return &out
}

// Clone returns a deep copy. Nil stays nil.
func (b *BusDef) Clone() *BusDef {
	if b == nil {
		return nil
	}
	out := &BusDef{}
	if b.Compressor != nil {
		c := *b.Compressor
		out.Compressor = &c
	}
	if b.Echo != nil {
		e := *b.Echo
		out.Echo = &e
	}
	if b.Reverb != nil {
		r := *b.Reverb
		out.Reverb = &r
	}
	return out
}
