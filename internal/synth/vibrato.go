package synth

import "math"

// lfo is a per-voice triangle oscillator used for vibrato. Sample returns a
// value in [-depth, depth].
type lfo struct {
	depth  float64
	rateHz float64
	phase  float64
}

func (l *lfo) active() bool {
	return l.depth != 0 && l.rateHz > 0
}

func (l *lfo) sample(sampleRate float64) float64 {
	if !l.active() || sampleRate <= 0 {
		return 0
	}
	var v float64
	if l.phase < 0.5 {
		v = 4*l.phase - 1
	} else {
		v = 3 - 4*l.phase
	}
	l.phase += l.rateHz / sampleRate
	l.phase -= math.Floor(l.phase)
	return v * l.depth
}

// semitoneRatio converts a pitch offset in semitones to a frequency ratio.
func semitoneRatio(semitones float64) float64 {
	return math.Exp2(semitones / 12)
}
