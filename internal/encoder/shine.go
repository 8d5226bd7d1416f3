package encoder

import (
	"bytes"
	"fmt"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// shineFrame is the number of samples per channel in one MPEG-1 Layer III
// frame.
const shineFrame = 1152

// shineBitrate is the only bitrate the shine encoder produces.
const shineBitrate = 128

// Shine is a BlockEncoder backed by the pure Go shine encoder. It collects
// blocks into whole frames and pads the last partial frame with silence on
// Flush.
type Shine struct {
	enc      *mp3.Encoder
	channels int
	pending  []int16
	out      bytes.Buffer
}

// NewShine is a Factory.
func NewShine(p Params) (BlockEncoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.BitrateKbps != shineBitrate {
		return nil, fmt.Errorf("%w: shine encodes at %d kbps only, got %d", ErrInvalidParams, shineBitrate, p.BitrateKbps)
	}
	return &Shine{
		enc:      mp3.NewEncoder(p.SampleRate, p.Channels),
		channels: p.Channels,
	}, nil
}

func (s *Shine) EncodeBlock(left, right []float32) ([]byte, error) {
	for i := range left {
		s.pending = append(s.pending, toInt16(left[i]))
		if s.channels == 2 {
			s.pending = append(s.pending, toInt16(right[i]))
		}
	}
	frame := shineFrame * s.channels
	whole := len(s.pending) / frame * frame
	if whole == 0 {
		return nil, nil
	}
	if err := s.write(s.pending[:whole]); err != nil {
		return nil, err
	}
	s.pending = append(s.pending[:0], s.pending[whole:]...)
	return s.take(), nil
}

func (s *Shine) Flush() ([]byte, error) {
	if len(s.pending) > 0 {
		frame := shineFrame * s.channels
		padded := make([]int16, frame)
		copy(padded, s.pending)
		s.pending = s.pending[:0]
		if err := s.write(padded); err != nil {
			return nil, err
		}
	}
	return s.take(), nil
}

func (s *Shine) write(samples []int16) error {
	return s.enc.Write(&s.out, samples)
}

func (s *Shine) take() []byte {
	if s.out.Len() == 0 {
		return nil
	}
	b := append([]byte(nil), s.out.Bytes()...)
	s.out.Reset()
	return b
}

// toInt16 truncates an already scaled sample into the 16-bit range.
func toInt16(v float32) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	default:
		return int16(v)
	}
}
