// Package encoder turns rendered stereo PCM into an MP3 bitstream in fixed
// size blocks, off the caller's goroutine.
package encoder

import (
	"errors"
	"fmt"
)

const (
	// Scale maps [-1, 1] float samples onto the 16-bit range. The product is
	// kept as a float; block encoders convert it.
	Scale = 32767.5
	// BlockSize is the number of samples per channel handed to the block
	// encoder at a time.
	BlockSize = 576
)

var (
	ErrLengthMismatch = errors.New("left and right channels differ in length")
	ErrInvalidParams  = errors.New("invalid encoder parameters")
	ErrClosed         = errors.New("encoder worker closed")
)

type Params struct {
	Channels    int `yaml:"channels"`
	SampleRate  int `yaml:"sample_rate"`
	BitrateKbps int `yaml:"bitrate_kbps"`
}

func DefaultParams() Params {
	return Params{Channels: 2, SampleRate: 44100, BitrateKbps: 128}
}

func (p Params) Validate() error {
	if p.Channels < 1 || p.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrInvalidParams, p.Channels)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParams, p.SampleRate)
	}
	if p.BitrateKbps <= 0 {
		return fmt.Errorf("%w: bitrate %d", ErrInvalidParams, p.BitrateKbps)
	}
	return nil
}

// BlockEncoder encodes one block of scaled samples per call. Flush is
// called exactly once after the last block.
type BlockEncoder interface {
	EncodeBlock(left, right []float32) ([]byte, error)
	Flush() ([]byte, error)
}

// Factory creates a fresh block encoder for one job.
type Factory func(Params) (BlockEncoder, error)

type Stage int

const (
	StageScale Stage = iota
	StageBlock
	StageFlush
)

func (s Stage) String() string {
	switch s {
	case StageScale:
		return "scale"
	case StageBlock:
		return "block"
	case StageFlush:
		return "flush"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// EncodeError reports where an encode failed. Block is the block index for
// StageBlock and -1 otherwise.
type EncodeError struct {
	Stage Stage
	Block int
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Stage == StageBlock {
		return fmt.Sprintf("encode %s %d: %v", e.Stage, e.Block, e.Err)
	}
	return fmt.Sprintf("encode %s: %v", e.Stage, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Progress is told how many samples per channel have been encoded.
type Progress func(done, total int)

// Encode scales left and right by Scale and feeds them to enc in blocks of
// BlockSize samples. The last block may be short. Non-empty outputs are
// returned in block order, followed by the flush output.
func Encode(enc BlockEncoder, left, right []float32, progress Progress) ([][]byte, error) {
	if len(left) != len(right) {
		return nil, &EncodeError{Stage: StageScale, Block: -1, Err: fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(left), len(right))}
	}
	l := scale(left)
	r := scale(right)
	total := len(l)

	var chunks [][]byte
	for start, block := 0, 0; start < total; start, block = start+BlockSize, block+1 {
		end := min(start+BlockSize, total)
		out, err := encodeBlock(enc, l[start:end], r[start:end])
		if err != nil {
			return nil, &EncodeError{Stage: StageBlock, Block: block, Err: err}
		}
		if len(out) > 0 {
			chunks = append(chunks, out)
		}
		if progress != nil {
			progress(end, total)
		}
	}
	out, err := flush(enc)
	if err != nil {
		return nil, &EncodeError{Stage: StageFlush, Block: -1, Err: err}
	}
	if len(out) > 0 {
		chunks = append(chunks, out)
	}
	return chunks, nil
}

func scale(in []float32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * Scale
	}
	return out
}

func encodeBlock(enc BlockEncoder, left, right []float32) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = enc.EncodeBlock(left, right)
	return append([]byte(nil), out...), err
}

func flush(enc BlockEncoder) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = enc.Flush()
	return append([]byte(nil), out...), err
}
