package seqstudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/youpy/go-wav"

	"github.com/cbegin/seqstudio-go/internal/encoder"
	"github.com/cbegin/seqstudio-go/internal/track"
)

// renderChunk is how many frames Render produces between context checks.
const renderChunk = 4096

// Render plays p from its start marker to the end of its last note, plus
// tail seconds, and returns the left and right channels. Sampler
// instruments are loaded first unless a bank was supplied with WithBank;
// instruments that fail to load are silent.
func Render(ctx context.Context, p *track.Project, tail float64, opts ...Option) (left, right []float32, err error) {
	s, err := New(p, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()
	if s.cfg.bank == nil {
		if err := <-s.LoadSamples(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			s.cfg.logger.Warn("rendering with missing samples", "error", err)
		}
	}
	snap := s.store.Snapshot()
	seconds := max(snap.EndBeat()-snap.StartMarker, 0)*60/snap.Tempo + max(tail, 0)
	return s.Bounce(ctx, int(math.Ceil(seconds*float64(s.cfg.sampleRate))))
}

// Bounce starts playback and renders frames frames offline.
func (s *Studio) Bounce(ctx context.Context, frames int) (left, right []float32, err error) {
	if err := s.Play(); err != nil {
		return nil, nil, err
	}
	left = make([]float32, frames)
	right = make([]float32, frames)
	buf := make([]float32, 2*renderChunk)
	for done := 0; done < frames; {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		n := min(renderChunk, frames-done)
		s.Process(buf[:2*n])
		for i := 0; i < n; i++ {
			left[done+i] = buf[2*i]
			right[done+i] = buf[2*i+1]
		}
		done += n
		if s.cfg.progress != nil {
			s.cfg.progress(done, frames)
		}
	}
	return left, right, nil
}

// RenderMP3 encodes rendered channels on the worker and waits for the
// result. A failed encode is reported in the result, not as an error.
func RenderMP3(ctx context.Context, w *encoder.Worker, left, right []float32, progress encoder.Progress) (encoder.Result, error) {
	return w.Encode(ctx, left, right, progress)
}

// EncodeWAV writes 16-bit PCM stereo.
func EncodeWAV(w io.Writer, left, right []float32, sampleRate int) error {
	if len(left) != len(right) {
		return encoder.ErrLengthMismatch
	}
	ww := wav.NewWriter(w, uint32(len(left)), 2, uint32(sampleRate), 16)
	frames := make([]wav.Sample, len(left))
	for i := range left {
		frames[i].Values[0] = pcm16(left[i])
		frames[i].Values[1] = pcm16(right[i])
	}
	if err := ww.WriteSamples(frames); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func pcm16(v float32) int {
	return int(math.Round(float64(min(max(v, -1), 1)) * 32767))
}

// EncodeWAVFloat32LE returns an IEEE float stereo WAV file.
func EncodeWAVFloat32LE(left, right []float32, sampleRate int) ([]byte, error) {
	if len(left) != len(right) {
		return nil, encoder.ErrLengthMismatch
	}
	const channels = 2
	dataSize := len(left) * channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], channels)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*channels*4))
	binary.LittleEndian.PutUint16(out[32:], channels*4)
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i := range left {
		binary.LittleEndian.PutUint32(out[44+i*8:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(out[48+i*8:], math.Float32bits(right[i]))
	}
	return out, nil
}
