package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

// DecodeFunc turns an encoded file into a buffer at the file's own rate.
type DecodeFunc func(data []byte) (*Buffer, error)

// DefaultDecoders maps lower-case file extensions to decoders.
func DefaultDecoders() map[string]DecodeFunc {
	return map[string]DecodeFunc{
		".wav":  DecodeWAV,
		".wave": DecodeWAV,
		".mp3":  DecodeMP3,
	}
}

func decoderFor(decoders map[string]DecodeFunc, path string) (DecodeFunc, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if dec, ok := decoders[ext]; ok {
		return dec, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// DecodeWAV decodes PCM or float WAV data. Mono input is copied to both
// channels.
func DecodeWAV(data []byte) (*Buffer, error) {
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("wav format: %w", err)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.NumChannels)
	}
	buf := &Buffer{SampleRate: int(format.SampleRate)}
	for {
		chunk, err := r.ReadSamples(4096)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wav samples: %w", err)
		}
		if len(chunk) == 0 {
			break
		}
		for _, s := range chunk {
			l := float32(r.FloatValue(s, 0))
			rv := l
			if format.NumChannels == 2 {
				rv = float32(r.FloatValue(s, 1))
			}
			buf.Left = append(buf.Left, l)
			buf.Right = append(buf.Right, rv)
		}
	}
	if buf.Frames() == 0 {
		return nil, ErrEmptySample
	}
	return buf, nil
}

// DecodeMP3 decodes an MP3 file. The decoder always yields 16-bit stereo.
func DecodeMP3(data []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	frames := len(pcm) / 4
	if frames == 0 {
		return nil, ErrEmptySample
	}
	buf := &Buffer{
		Left:       make([]float32, frames),
		Right:      make([]float32, frames),
		SampleRate: d.SampleRate(),
	}
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		buf.Left[i] = float32(l) / 32768
		buf.Right[i] = float32(r) / 32768
	}
	return buf, nil
}
