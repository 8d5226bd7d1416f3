// Package store holds the arrangement and transport settings the scheduler
// reads. Writers go through the mutation methods; readers take a Snapshot,
// which is a deep copy and never changes underneath them.
package store

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cbegin/seqstudio-go/internal/track"
)

var (
	ErrInvalidTempo  = errors.New("tempo must be a positive finite number")
	ErrInvalidMarker = errors.New("start marker must be at least beat 1")
	ErrUnknownTrack  = errors.New("unknown track")
)

// State is a consistent view of the store at one version.
type State struct {
	Version       uint64
	Tempo         float64
	MasterVolume  float64
	StartMarker   float64
	SampleLoading bool
	Instruments   []track.Instrument
	Tracks        []track.Track
	Bus           *track.BusDef
}

// Instrument looks up an instrument by id.
func (s State) Instrument(id string) (track.Instrument, bool) {
	for _, in := range s.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return track.Instrument{}, false
}

// Track looks up a track by id.
func (s State) Track(id string) (track.Track, bool) {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return track.Track{}, false
}

// EndBeat is the latest stop beat across all tracks.
func (s State) EndBeat() float64 {
	end := track.FirstBeat
	for _, t := range s.Tracks {
		end = max(end, t.EndBeat())
	}
	return end
}

func (s State) clone() State {
	out := s
	out.Instruments = make([]track.Instrument, len(s.Instruments))
	for i, in := range s.Instruments {
		in.Synth = in.Synth.Clone()
		out.Instruments[i] = in
	}
	out.Bus = s.Bus.Clone()
	out.Tracks = make([]track.Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	return out
}

type Store struct {
	mu sync.RWMutex
	st State
}

func New() *Store {
	return &Store{st: State{
		Tempo:        track.DefaultTempo,
		MasterVolume: track.DefaultVolume,
		StartMarker:  track.FirstBeat,
	}}
}

// FromProject returns a store holding p.
func FromProject(p *track.Project) (*Store, error) {
	s := New()
	if err := s.LoadProject(p); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.clone()
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Version
}

func (s *Store) Tempo() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Tempo
}

func (s *Store) SampleLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.SampleLoading
}

func (s *Store) update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.st); err != nil {
		return err
	}
	s.st.Version++
	return nil
}

func validTempo(bpm float64) bool {
	return bpm > 0 && !math.IsNaN(bpm) && !math.IsInf(bpm, 0)
}

func (s *Store) SetTempo(bpm float64) error {
	if !validTempo(bpm) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, bpm)
	}
	return s.update(func(st *State) error {
		st.Tempo = bpm
		return nil
	})
}

// SetMasterVolume clamps v to [0, 1]. NaN is ignored.
func (s *Store) SetMasterVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	_ = s.update(func(st *State) error {
		st.MasterVolume = min(max(v, 0), 1)
		return nil
	})
}

func (s *Store) SetStartMarker(beat float64) error {
	if beat < track.FirstBeat || math.IsNaN(beat) || math.IsInf(beat, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidMarker, beat)
	}
	return s.update(func(st *State) error {
		st.StartMarker = beat
		return nil
	})
}

// SetSampleLoading is the gate the sample loader drives.
func (s *Store) SetSampleLoading(loading bool) {
	_ = s.update(func(st *State) error {
		st.SampleLoading = loading
		return nil
	})
}

// SetInstruments replaces the instrument list and restamps every note with
// its instrument's source type.
func (s *Store) SetInstruments(instruments []track.Instrument) {
	_ = s.update(func(st *State) error {
		st.Instruments = append([]track.Instrument(nil), instruments...)
		for i := range st.Tracks {
			stamp(st, &st.Tracks[i])
		}
		return nil
	})
}

// SetTracks replaces every track. Notes are validated, sorted by start beat
// and stamped with their instrument's source type.
func (s *Store) SetTracks(tracks []track.Track) error {
	next := make([]track.Track, len(tracks))
	for i, t := range tracks {
		c, err := prepare(t)
		if err != nil {
			return err
		}
		next[i] = c
	}
	return s.update(func(st *State) error {
		for i := range next {
			stamp(st, &next[i])
		}
		st.Tracks = next
		return nil
	})
}

// PutTrack inserts t or replaces the track with the same id.
func (s *Store) PutTrack(t track.Track) error {
	c, err := prepare(t)
	if err != nil {
		return err
	}
	return s.update(func(st *State) error {
		stamp(st, &c)
		for i := range st.Tracks {
			if st.Tracks[i].ID == c.ID {
				st.Tracks[i] = c
				return nil
			}
		}
		st.Tracks = append(st.Tracks, c)
		return nil
	})
}

func (s *Store) RemoveTrack(id string) error {
	return s.update(func(st *State) error {
		for i := range st.Tracks {
			if st.Tracks[i].ID == id {
				st.Tracks = append(st.Tracks[:i], st.Tracks[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w %q", ErrUnknownTrack, id)
	})
}

// AddNote inserts n into a track, keeping start order. Notes with the same
// start go after existing ones.
func (s *Store) AddNote(trackID string, n track.Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return s.mutateTrack(trackID, func(st *State, t *track.Track) {
		t.Notes = append(t.Notes, n)
		t.Sort()
		stamp(st, t)
	})
}

func (s *Store) SetMute(trackID string, mute bool) error {
	return s.mutateTrack(trackID, func(_ *State, t *track.Track) { t.Mute = mute })
}

func (s *Store) SetSolo(trackID string, solo bool) error {
	return s.mutateTrack(trackID, func(_ *State, t *track.Track) { t.Solo = solo })
}

// SetGain sets a track's linear gain. Negative values are clamped to zero.
func (s *Store) SetGain(trackID string, gain float64) error {
	return s.mutateTrack(trackID, func(_ *State, t *track.Track) { t.Gain = max(gain, 0) })
}

func (s *Store) mutateTrack(id string, fn func(st *State, t *track.Track)) error {
	return s.update(func(st *State) error {
		for i := range st.Tracks {
			if st.Tracks[i].ID == id {
				fn(st, &st.Tracks[i])
				return nil
			}
		}
		return fmt.Errorf("%w %q", ErrUnknownTrack, id)
	})
}

// LoadProject replaces the whole state with p. Sample loading is left as is.
func (s *Store) LoadProject(p *track.Project) error {
	if err := p.Normalize(); err != nil {
		return err
	}
	next := State{
		Tempo:        p.Tempo,
		MasterVolume: p.MasterVolume,
		StartMarker:  p.StartMarker,
		Instruments:  p.Instruments,
		Tracks:       p.Tracks,
		Bus:          p.Bus,
	}.clone()
	return s.update(func(st *State) error {
		next.Version = st.Version
		next.SampleLoading = st.SampleLoading
		*st = next
		return nil
	})
}

// Project exports the current state.
func (s *Store) Project() *track.Project {
	st := s.Snapshot()
	return &track.Project{
		Tempo:        st.Tempo,
		MasterVolume: st.MasterVolume,
		StartMarker:  st.StartMarker,
		Instruments:  st.Instruments,
		Tracks:       st.Tracks,
		Bus:          st.Bus,
	}
}

func prepare(t track.Track) (track.Track, error) {
	c := t.Clone()
	for i, n := range c.Notes {
		if err := n.Validate(); err != nil {
			return c, fmt.Errorf("track %q note %d: %w", t.ID, i, err)
		}
	}
	c.Sort()
	return c, nil
}

func stamp(st *State, t *track.Track) {
	in, ok := st.Instrument(t.Instrument)
	if !ok {
		return
	}
	for i := range t.Notes {
		t.Notes[i].Type = in.Kind
	}
}

func (s *Store) MasterVolume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.MasterVolume
}
