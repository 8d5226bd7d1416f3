package samples

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"

	"github.com/cbegin/seqstudio-go/internal/track"
)

type recordingGate struct {
	mu     sync.Mutex
	states []bool
}

func (g *recordingGate) SetSampleLoading(loading bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states = append(g.states, loading)
}

func (g *recordingGate) last() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[len(g.states)-1]
}

func writeWAV(t *testing.T, path string, channels uint16, rate uint32, frames int) {
	t.Helper()
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), channels, rate, 16)
	s := make([]wav.Sample, frames)
	for i := range s {
		s[i].Values[0] = 16384
		s[i].Values[1] = -16384
	}
	require.NoError(t, w.WriteSamples(s))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestDecodeWAVStereo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	writeWAV(t, path, 2, 44100, 100)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	buf, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 100, buf.Frames())
	assert.Equal(t, 44100, buf.SampleRate)
	assert.InDelta(t, 0.5, buf.Left[0], 1e-4)
	assert.InDelta(t, -0.5, buf.Right[0], 1e-4)
}

func TestDecodeWAVMonoDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.wav")
	writeWAV(t, path, 1, 22050, 10)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	buf, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, buf.Left, buf.Right)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("not a wav file"))
	assert.Error(t, err)
	_, err = DecodeMP3([]byte("not an mp3 file"))
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	b := &Buffer{Left: make([]float32, 100), Right: make([]float32, 100), SampleRate: 22050}
	r := b.Resample(44100)
	assert.Equal(t, 44100, r.SampleRate)
	assert.Equal(t, 200, r.Frames())
	assert.Same(t, b, b.Resample(22050))
}

func TestLoaderLoadsSamplerInstruments(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "kick.wav"), 2, 22050, 50)

	bank := NewBank()
	gate := &recordingGate{}
	l := NewLoader(bank, gate, Options{Dir: dir, SampleRate: 44100})

	done := l.Load(context.Background(), []track.Instrument{
		{ID: "kick", Kind: track.Sampler, Path: "kick.wav"},
		{ID: "lead", Kind: track.Synth},
	})
	require.NoError(t, <-done)

	buf, ok := bank.Buffer("kick")
	require.True(t, ok)
	assert.Equal(t, 44100, buf.SampleRate)
	assert.Equal(t, 100, buf.Frames())
	assert.Equal(t, StatusLoaded, bank.Status("kick"))
	assert.Equal(t, StatusMissing, bank.Status("lead"))
	assert.Equal(t, []bool{true, false}, gate.states)
	assert.False(t, l.Loading())
}

func TestLoaderFailureReleasesGate(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "ok.wav"), 2, 44100, 10)

	bank := NewBank()
	gate := &recordingGate{}
	l := NewLoader(bank, gate, Options{Dir: dir})

	err := <-l.Load(context.Background(), []track.Instrument{
		{ID: "ok", Kind: track.Sampler, Path: "ok.wav"},
		{ID: "gone", Kind: track.Sampler, Path: "missing.wav"},
		{ID: "weird", Kind: track.Sampler, Path: "x.flac"},
	})
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, gate.last(), "gate must be lowered after failure")

	_, ok := bank.Buffer("ok")
	assert.True(t, ok, "one failure must not cancel the others")
	_, ok = bank.Buffer("gone")
	assert.False(t, ok)
	assert.Equal(t, StatusFailed, bank.Status("gone"))
	assert.Error(t, bank.Err("gone"))
}

func TestLoaderRecoversDecoderPanic(t *testing.T) {
	bank := NewBank()
	gate := &recordingGate{}
	l := NewLoader(bank, gate, Options{
		Decoders: map[string]DecodeFunc{".wav": func([]byte) (*Buffer, error) { panic("bad header") }},
		ReadFile: func(string) ([]byte, error) { return []byte{}, nil },
	})
	err := <-l.Load(context.Background(), []track.Instrument{{ID: "a", Kind: track.Sampler, Path: "a.wav"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder panic")
	assert.False(t, gate.last())
}

func TestLoaderRetryAfterFailure(t *testing.T) {
	fail := true
	l := NewLoader(NewBank(), nil, Options{
		Decoders: map[string]DecodeFunc{".wav": func([]byte) (*Buffer, error) {
			if fail {
				return nil, errors.New("corrupt")
			}
			return &Buffer{Left: []float32{0}, Right: []float32{0}, SampleRate: 44100}, nil
		}},
		ReadFile: func(string) ([]byte, error) { return nil, nil },
	})
	ins := []track.Instrument{{ID: "a", Kind: track.Sampler, Path: "a.wav"}}
	require.Error(t, <-l.Load(context.Background(), ins))
	assert.Equal(t, StatusFailed, l.Bank().Status("a"))

	fail = false
	require.NoError(t, <-l.Load(context.Background(), ins))
	assert.Equal(t, StatusLoaded, l.Bank().Status("a"))
	assert.NoError(t, l.Bank().Err("a"))
}

func TestLoaderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gate := &recordingGate{}
	l := NewLoader(NewBank(), gate, Options{ReadFile: func(string) ([]byte, error) { return nil, nil }})
	err := <-l.Load(ctx, []track.Instrument{{ID: "a", Kind: track.Sampler, Path: "a.wav"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, gate.last())
}

// stallingGate holds the first lowering of the gate until release is closed.
type stallingGate struct {
	recordingGate
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (g *stallingGate) SetSampleLoading(loading bool) {
	if !loading {
		stall := false
		g.once.Do(func() { stall = true })
		if stall {
			close(g.stalled)
			<-g.release
		}
	}
	g.recordingGate.SetSampleLoading(loading)
}

func TestLoaderOverlappingLoadsKeepGateRaised(t *testing.T) {
	gate := &stallingGate{stalled: make(chan struct{}), release: make(chan struct{})}
	reading := make(chan struct{})
	unblock := make(chan struct{})
	l := NewLoader(NewBank(), gate, Options{
		Decoders: map[string]DecodeFunc{".wav": func([]byte) (*Buffer, error) {
			return &Buffer{Left: []float32{0}, Right: []float32{0}, SampleRate: 44100}, nil
		}},
		ReadFile: func(path string) ([]byte, error) {
			if path == "b.wav" {
				close(reading)
				<-unblock
			}
			return nil, nil
		},
	})
	ctx := context.Background()

	first := l.Load(ctx, []track.Instrument{{ID: "a", Kind: track.Sampler, Path: "a.wav"}})
	<-gate.stalled

	second := make(chan (<-chan error), 1)
	go func() {
		second <- l.Load(ctx, []track.Instrument{{ID: "b", Kind: track.Sampler, Path: "b.wav"}})
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	require.NoError(t, <-first)

	done := <-second
	<-reading
	assert.True(t, l.Loading())
	assert.True(t, gate.last(), "gate must stay raised while a load is running")

	close(unblock)
	require.NoError(t, <-done)
	assert.False(t, l.Loading())
	assert.False(t, gate.last())
	assert.Equal(t, StatusLoaded, l.Bank().Status("b"))
}
