package bus

import (
	"math"
	"testing"

	"github.com/cbegin/seqstudio-go/internal/track"
)

func TestEchoRepeatsAfterDelay(t *testing.T) {
	e := NewEcho(1000, 100, 0.5, 0, 0.5)
	e.Process(1, 1)
	for i := 0; i < 99; i++ {
		if l, _ := e.Process(0, 0); l != 0 {
			t.Fatalf("echo arrived early at frame %d", i+1)
		}
	}
	l, r := e.Process(0, 0)
	if l != 0.5 || r != 0.5 {
		t.Fatalf("echo = %v/%v, want 0.5", l, r)
	}
}

func TestEchoCrossFeedback(t *testing.T) {
	e := NewEcho(1000, 10, 0.8, 1, 1)
	e.Process(1, 0)
	for i := 0; i < 9; i++ {
		e.Process(0, 0)
	}
	if l, r := e.Process(0, 0); l != 1 || r != 0 {
		t.Fatalf("first repeat = %v/%v", l, r)
	}
	for i := 0; i < 9; i++ {
		e.Process(0, 0)
	}
	if l, r := e.Process(0, 0); l != 0 || math.Abs(float64(r)-0.8) > 1e-6 {
		t.Fatalf("second repeat should swap sides, got %v/%v", l, r)
	}
}

func TestReverbTail(t *testing.T) {
	r := NewReverb(44100, 0.5, 0.7, 0.5)
	r.Process(1, 1)
	var tail float32
	for i := 0; i < 10000; i++ {
		l, _ := r.Process(0, 0)
		tail = max(tail, float32(math.Abs(float64(l))))
	}
	if tail < 0.001 {
		t.Fatalf("expected reverb tail, peak %v", tail)
	}
	r.Reset()
	if l, _ := r.Process(0, 0); l != 0 {
		t.Fatalf("reset reverb still ringing: %v", l)
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c := NewCompressor(44100, -20, 4, 1, 100, 0)
	var l float32
	for i := 0; i < 2000; i++ {
		l, _ = c.Process(0.9, 0.9)
	}
	if l >= 0.9*0.8 {
		t.Fatalf("loud signal not compressed: %v", l)
	}
	quiet := NewCompressor(44100, -20, 4, 1, 100, 0)
	if l, _ := quiet.Process(0.01, 0.01); l != 0.01 {
		t.Fatalf("signal below threshold changed: %v", l)
	}
}

func TestFromDef(t *testing.T) {
	if n := FromDef(44100, nil).Len(); n != 0 {
		t.Fatalf("nil def built %d stages", n)
	}
	c := FromDef(44100, &track.BusDef{
		Echo:   &track.EchoDef{TimeMs: 250, Feedback: 0.3, Wet: 0.2},
		Reverb: &track.ReverbDef{Room: 0.4, Decay: 0.6, Wet: 0.3},
	})
	if c.Len() != 2 {
		t.Fatalf("stages = %d, want 2", c.Len())
	}
	var nilChain *Chain
	if l, r := nilChain.Process(0.3, -0.3); l != 0.3 || r != -0.3 {
		t.Fatalf("nil chain altered audio")
	}
}
