// Package bus holds the stereo processors applied to the mixed output
// before the master volume.
package bus

import "github.com/cbegin/seqstudio-go/internal/track"

// Stage processes one stereo frame.
type Stage interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain runs stages in order. A nil or empty chain passes audio through.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// FromDef builds the chain a project describes: compressor, then echo,
// then reverb.
func FromDef(sampleRate int, def *track.BusDef) *Chain {
	c := &Chain{}
	if def == nil {
		return c
	}
	if d := def.Compressor; d != nil {
		c.Add(NewCompressor(sampleRate, d.ThresholdDB, d.Ratio, d.AttackMs, d.ReleaseMs, d.MakeupDB))
	}
	if d := def.Echo; d != nil {
		c.Add(NewEcho(sampleRate, d.TimeMs, d.Feedback, d.Cross, d.Wet))
	}
	if d := def.Reverb; d != nil {
		c.Add(NewReverb(sampleRate, d.Room, d.Decay, d.Wet))
	}
	return c
}

func (c *Chain) Add(s Stage) {
	c.stages = append(c.stages, s)
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.stages)
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	if c == nil {
		return l, r
	}
	for _, s := range c.stages {
		l, r = s.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	if c == nil {
		return
	}
	for _, s := range c.stages {
		s.Reset()
	}
}

func clamp(v, lo, hi float64) float32 {
	return float32(min(max(v, lo), hi))
}
