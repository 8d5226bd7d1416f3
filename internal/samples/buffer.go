// Package samples loads and holds the decoded sample buffers sampler
// instruments play.
package samples

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrEmptySample       = errors.New("sample has no audio frames")
)

// Buffer is decoded stereo PCM, nominally in [-1, 1].
type Buffer struct {
	Left       []float32
	Right      []float32
	SampleRate int
}

func (b *Buffer) Frames() int {
	if b == nil {
		return 0
	}
	return min(len(b.Left), len(b.Right))
}

// Resample returns b converted to rate with linear interpolation. The buffer
// is returned unchanged when it is already at rate.
func (b *Buffer) Resample(rate int) *Buffer {
	if b == nil || rate <= 0 || b.SampleRate == rate || b.SampleRate <= 0 {
		return b
	}
	n := b.Frames()
	ratio := float64(b.SampleRate) / float64(rate)
	out := int(float64(n) / ratio)
	res := &Buffer{
		Left:       make([]float32, out),
		Right:      make([]float32, out),
		SampleRate: rate,
	}
	for i := 0; i < out; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := float32(pos - float64(j))
		k := min(j+1, n-1)
		res.Left[i] = b.Left[j] + (b.Left[k]-b.Left[j])*frac
		res.Right[i] = b.Right[j] + (b.Right[k]-b.Right[j])*frac
	}
	return res
}

// Status is the load state of one instrument.
type Status int

const (
	StatusMissing Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Bank maps instrument ids to loaded buffers. It is safe for concurrent use.
type Bank struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	status  map[string]Status
	errs    map[string]error
}

func NewBank() *Bank {
	return &Bank{
		buffers: make(map[string]*Buffer),
		status:  make(map[string]Status),
		errs:    make(map[string]error),
	}
}

// Buffer returns the loaded buffer for an instrument. Instruments that failed
// to load have no buffer, so their notes stay silent.
func (b *Bank) Buffer(instrument string) (*Buffer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf, ok := b.buffers[instrument]
	return buf, ok
}

// Put stores a buffer and marks the instrument loaded.
func (b *Bank) Put(instrument string, buf *Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffers[instrument] = buf
	b.status[instrument] = StatusLoaded
	delete(b.errs, instrument)
}

func (b *Bank) Status(instrument string) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status[instrument]
}

// Err returns the last load error for an instrument.
func (b *Bank) Err(instrument string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errs[instrument]
}

func (b *Bank) markLoading(instrument string) {
	b.mu.Lock()
	b.status[instrument] = StatusLoading
	b.mu.Unlock()
}

func (b *Bank) fail(instrument string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, instrument)
	b.status[instrument] = StatusFailed
	b.errs[instrument] = err
}
