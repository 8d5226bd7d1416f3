// Package audio connects a frame renderer to the ebiten audio device.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Renderer fills dst with interleaved stereo float32 frames. It is called
// from the audio device goroutine.
type Renderer interface {
	Process(dst []float32)
}

// Ender is a Renderer that knows when it has nothing more to play.
type Ender interface {
	Renderer
	Ended() bool
}

const bytesPerFrame = 8

// Stream adapts a Renderer to the little-endian float32 byte stream the
// device reads.
type Stream struct {
	mu  sync.Mutex
	src Renderer
	buf []float32
}

func NewStream(src Renderer) *Stream {
	return &Stream{src: src}
}

// Read renders as many whole frames as fit in p. It reports io.EOF once an
// Ender source has ended.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(s.buf) < need {
		s.buf = make([]float32, need)
	}
	s.buf = s.buf[:need]
	s.src.Process(s.buf)
	for i, v := range s.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	n := frames * bytesPerFrame
	if e, ok := s.src.(Ender); ok && e.Ended() {
		return n, io.EOF
	}
	return n, nil
}

func (s *Stream) Close() error { return nil }

var (
	ctxOnce   sync.Once
	sharedCtx *ebitaudio.Context
	ctxRate   int
)

// sharedContext returns the process-wide audio context. ebiten allows only
// one, so every Output must use the same sample rate.
func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	ctxOnce.Do(func() {
		ctxRate = sampleRate
		sharedCtx = ebitaudio.NewContext(sampleRate)
	})
	if ctxRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz, requested %d Hz", ctxRate, sampleRate)
	}
	return sharedCtx, nil
}

// Output plays a Renderer on the default audio device.
type Output struct {
	player *ebitaudio.Player
	stream *Stream
}

// Open creates a paused output. bufferSize bounds device latency; zero keeps
// the ebiten default.
func Open(sampleRate int, src Renderer, bufferSize time.Duration) (*Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	stream := NewStream(src)
	pl, err := ctx.NewPlayerF32(stream)
	if err != nil {
		return nil, err
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Output{player: pl, stream: stream}, nil
}

func (o *Output) Start()        { o.player.Play() }
func (o *Output) Suspend()      { o.player.Pause() }
func (o *Output) Running() bool { return o.player.IsPlaying() }

// Position is how much audio the device has actually played.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.stream.Close()
}
