package seqstudio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cbegin/seqstudio-go/internal/audio"
	"github.com/cbegin/seqstudio-go/internal/track"
)

// The output stream stops on its own once the studio has ended.
var _ audio.Ender = (*Studio)(nil)

func synthProject(t *testing.T, tempo float64) *track.Project {
	t.Helper()
	p := track.NewProject()
	p.Tempo = tempo
	p.Instruments = []track.Instrument{{ID: "lead", Kind: track.Synth, Synth: &track.SynthDef{Wave: "saw", Sustain: 0.8, Release: 0.05}}}
	p.Tracks = []track.Track{{
		ID: "melody", Instrument: "lead", Gain: 1,
		Notes: []track.Note{
			{Start: 1, Duration: 1, Pitch: 60, Velocity: 1},
			{Start: 2, Duration: 1, Pitch: 64, Velocity: 1},
		},
	}}
	if err := p.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return p
}

func peak(buf []float32) float64 {
	var m float64
	for _, v := range buf {
		m = math.Max(m, math.Abs(float64(v)))
	}
	return m
}

func TestProcessAdvancesBeatWithFrames(t *testing.T) {
	s, err := New(synthProject(t, 120), WithSampleRate(8000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	buf := make([]float32, 2*8000)
	s.Process(buf)
	if got := s.CurrentBeat(); got != 3 {
		t.Fatalf("beat after 1s = %v, want 3", got)
	}
	if peak(buf) == 0 {
		t.Fatalf("rendered silence while notes were playing")
	}
}

func TestProcessSilentWhenStopped(t *testing.T) {
	s, _ := New(synthProject(t, 120), WithSampleRate(8000))
	buf := make([]float32, 2*1000)
	s.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("stopped studio produced audio")
	}
	if got := s.CurrentBeat(); got != 1 {
		t.Fatalf("beat moved while stopped: %v", got)
	}
}

func TestStopReleasesAndRewinds(t *testing.T) {
	s, _ := New(synthProject(t, 120), WithSampleRate(8000))
	_ = s.Play()
	s.Process(make([]float32, 2*4000))
	s.Stop()
	if s.Playing() {
		t.Fatalf("still playing after Stop")
	}
	if got := s.CurrentBeat(); got != 1 {
		t.Fatalf("beat after stop = %v, want 1", got)
	}
	// Releases ring out, then the mixer goes quiet.
	s.Process(make([]float32, 2*4000))
	tail := make([]float32, 2*100)
	s.Process(tail)
	if p := peak(tail); p > 1e-3 {
		t.Fatalf("audio still sounding after stop: peak %v", p)
	}
}

func TestPlayNotReadyWhileLoading(t *testing.T) {
	s, _ := New(synthProject(t, 90))
	s.Store().SetSampleLoading(true)
	if err := s.Play(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Play = %v, want ErrNotReady", err)
	}
}

func TestSetTempoThroughStudio(t *testing.T) {
	s, _ := New(synthProject(t, 90), WithSampleRate(8000))
	if err := s.SetTempo(-1); !errors.Is(err, ErrInvalidTempo) {
		t.Fatalf("SetTempo(-1) = %v", err)
	}
	if err := s.SetTempo(150); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}
	if got := s.Store().Tempo(); got != 150 {
		t.Fatalf("store tempo = %v", got)
	}
}

func TestMasterVolumeAppliedOnTick(t *testing.T) {
	s, _ := New(synthProject(t, 120), WithSampleRate(8000))
	s.SetMasterVolume(0)
	_ = s.Play()
	buf := make([]float32, 2*2000)
	s.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("muted master produced audio")
	}
}

func TestGridFollowsPlayhead(t *testing.T) {
	s, _ := New(synthProject(t, 60), WithSampleRate(8000))
	_ = s.Play()
	s.Process(make([]float32, 2*12000))
	cells := s.Grid(4, 10)
	if len(cells) != 4 {
		t.Fatalf("cells = %d", len(cells))
	}
	if !cells[1].Current || cells[0].Current {
		t.Fatalf("current cell wrong at beat %v: %+v", s.CurrentBeat(), cells)
	}
}

func TestWatchReportsEnd(t *testing.T) {
	s, _ := New(synthProject(t, 240), WithSampleRate(8000))
	events := s.Watch()
	_ = s.Play()
	s.Process(make([]float32, 2*8000))
	sawEnd := false
	for len(events) > 0 {
		if ev := <-events; ev.Kind == EventEnded {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatalf("no ended event after the last note")
	}
}

func TestLoadSamplesReleasesGate(t *testing.T) {
	p := track.NewProject()
	p.Instruments = []track.Instrument{{ID: "kick", Kind: track.Sampler, Path: "does-not-exist.wav"}}
	s, _ := New(p, WithSampleDir(t.TempDir()))
	if err := <-s.LoadSamples(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if s.Store().SampleLoading() {
		t.Fatalf("sample loading flag stuck after failure")
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play after failed load: %v", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(nil, WithSampleRate(0)); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	if _, err := New(nil, WithTickFrames(-1)); err == nil {
		t.Fatalf("expected error for negative tick frames")
	}
}

func TestEndedWhenEventsAreDropped(t *testing.T) {
	p := synthProject(t, 240)
	notes := make([]track.Note, 100)
	for i := range notes {
		notes[i] = track.Note{Start: 1 + float64(i)*0.25, Duration: 0.1, Pitch: 60, Velocity: 1}
	}
	p.Tracks[0].Notes = notes
	if err := p.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s, _ := New(p, WithSampleRate(8000))
	events := s.Watch()
	_ = s.Play()
	if s.Ended() {
		t.Fatalf("ended before playback")
	}
	s.Process(make([]float32, 2*8000*8))
	if !s.Ended() {
		t.Fatalf("studio not ended after the last note and its release")
	}
	if len(events) != cap(events) {
		t.Fatalf("expected a full event channel, got %d of %d", len(events), cap(events))
	}
	for len(events) > 0 {
		if ev := <-events; ev.Kind == EventEnded {
			t.Fatalf("ended event should have been dropped by the full channel")
		}
	}
}
