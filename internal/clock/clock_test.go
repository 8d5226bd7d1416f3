package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	t0 := time.Unix(1000, 0)
	m := NewManual(t0)
	if got := m.Now(); !got.Equal(t0) {
		t.Fatalf("Now() = %v, want %v", got, t0)
	}
	m.Advance(1500 * time.Millisecond)
	if got := m.Now().Sub(t0); got != 1500*time.Millisecond {
		t.Fatalf("elapsed = %v, want 1.5s", got)
	}
	m.Advance(-time.Second)
	if got := m.Now().Sub(t0); got != 1500*time.Millisecond {
		t.Fatalf("negative advance moved clock: %v", got)
	}
}

func TestManualSetBackwards(t *testing.T) {
	t0 := time.Unix(1000, 0)
	m := NewManual(t0)
	m.Set(t0.Add(-time.Second))
	if got := m.Now(); !got.Equal(t0.Add(-time.Second)) {
		t.Fatalf("Set did not move clock backwards: %v", got)
	}
}

func TestFrames(t *testing.T) {
	if got := Frames(44100, 44100); got != time.Second {
		t.Fatalf("Frames(44100, 44100) = %v, want 1s", got)
	}
	if got := Frames(22050, 44100); got != 500*time.Millisecond {
		t.Fatalf("Frames(22050, 44100) = %v, want 500ms", got)
	}
	if got := Frames(10, 0); got != 0 {
		t.Fatalf("Frames with zero rate = %v, want 0", got)
	}
}

func TestFramesIn(t *testing.T) {
	if got := FramesIn(100*time.Millisecond, 44100); got != 4410 {
		t.Fatalf("FramesIn(100ms) = %d, want 4410", got)
	}
	if got := FramesIn(-time.Second, 44100); got != 0 {
		t.Fatalf("FramesIn(negative) = %d, want 0", got)
	}
	if got := FramesIn(Frames(256, 48000), 48000); got != 256 {
		t.Fatalf("round trip = %d, want 256", got)
	}
}
