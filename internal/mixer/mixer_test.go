package mixer

import (
	"errors"
	"testing"
	"time"

	"github.com/cbegin/seqstudio-go/internal/bus"
	"github.com/cbegin/seqstudio-go/internal/samples"
	"github.com/cbegin/seqstudio-go/internal/track"
	"github.com/cbegin/seqstudio-go/internal/voice"
)

func constBuffer(frames int, v float32) *samples.Buffer {
	b := &samples.Buffer{Left: make([]float32, frames), Right: make([]float32, frames), SampleRate: 1000}
	for i := range b.Left {
		b.Left[i] = v
		b.Right[i] = -v
	}
	return b
}

func TestSamplePlaybackAndDelay(t *testing.T) {
	m := New(1000)
	_, err := m.PlaySample(constBuffer(4, 0.5), voice.Params{Velocity: 1, Gain: 1, Delay: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("PlaySample: %v", err)
	}
	out := make([]float32, 2*8)
	m.Render(out)
	want := []float32{0, 0, 0.5, 0.5, 0.5, 0.5, 0}
	for i, w := range want {
		if got := out[2*i]; got != w {
			t.Fatalf("frame %d left = %v, want %v", i, got, w)
		}
		if got := out[2*i+1]; got != -w {
			t.Fatalf("frame %d right = %v, want %v", i, got, -w)
		}
	}
	if n := m.ActiveVoices(); n != 0 {
		t.Fatalf("finished playback still active: %d", n)
	}
}

func TestSampleStopErrors(t *testing.T) {
	m := New(1000)
	shot, _ := m.PlaySample(constBuffer(100, 0.1), voice.Params{Velocity: 1, Gain: 1})
	if err := shot.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := shot.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("second Stop = %v, want ErrAlreadyStopped", err)
	}

	short, _ := m.PlaySample(constBuffer(1, 0.1), voice.Params{Velocity: 1, Gain: 1})
	m.Render(make([]float32, 4))
	if err := short.Stop(); !errors.Is(err, ErrFinished) {
		t.Fatalf("Stop after end = %v, want ErrFinished", err)
	}
}

func TestStoppedSampleIsSilent(t *testing.T) {
	m := New(1000)
	shot, _ := m.PlaySample(constBuffer(100, 0.5), voice.Params{Velocity: 1, Gain: 1})
	_ = shot.Stop()
	out := make([]float32, 20)
	m.Render(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v after stop", i, v)
		}
	}
}

func TestMasterVolumeScalesAndClamps(t *testing.T) {
	m := New(1000)
	m.SetMasterVolume(2)
	if got := m.MasterVolume(); got != 1 {
		t.Fatalf("volume = %v, want clamp to 1", got)
	}
	m.SetMasterVolume(0.5)
	_, _ = m.PlaySample(constBuffer(2, 0.8), voice.Params{Velocity: 1, Gain: 1})
	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 0.4 {
		t.Fatalf("left = %v, want 0.4", out[0])
	}
}

func TestSynthVoiceReleases(t *testing.T) {
	m := New(8000)
	rel, err := m.PlaySynth(&track.SynthDef{Wave: "sine", Release: 0.01}, voice.Params{Pitch: 69, Velocity: 1, Gain: 1})
	if err != nil {
		t.Fatalf("PlaySynth: %v", err)
	}
	m.Render(make([]float32, 2*400))
	if n := m.ActiveVoices(); n != 1 {
		t.Fatalf("active voices = %d, want 1", n)
	}
	rel.TriggerRelease()
	if !rel.(*synthVoice).Releasing() {
		t.Fatalf("voice should be releasing")
	}
	rel.TriggerRelease()
	m.Render(make([]float32, 2*800))
	if n := m.ActiveVoices(); n != 0 {
		t.Fatalf("voice did not finish release: %d active", n)
	}
}

func TestPlaySynthRejectsUnknownWave(t *testing.T) {
	m := New(8000)
	if _, err := m.PlaySynth(&track.SynthDef{Wave: "kazoo"}, voice.Params{Pitch: 60}); err == nil {
		t.Fatalf("expected error for unknown wave")
	}
}

func TestReset(t *testing.T) {
	m := New(1000)
	shot, _ := m.PlaySample(constBuffer(100, 0.5), voice.Params{Velocity: 1, Gain: 1})
	_, _ = m.PlaySynth(nil, voice.Params{Pitch: 60, Velocity: 1, Gain: 1})
	m.Reset()
	if n := m.ActiveVoices(); n != 0 {
		t.Fatalf("active after reset = %d", n)
	}
	if err := shot.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("Stop after Reset = %v", err)
	}
}

func TestBusAppliedBeforeMaster(t *testing.T) {
	m := New(1000, WithBus(bus.NewChain(halve{})))
	_, _ = m.PlaySample(constBuffer(1, 0.8), voice.Params{Velocity: 1, Gain: 1})
	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 0.4 {
		t.Fatalf("left = %v, want bus-halved 0.4", out[0])
	}
}

type halve struct{}

func (halve) Process(l, r float32) (float32, float32) { return l / 2, r / 2 }
func (halve) Reset()                                  {}
