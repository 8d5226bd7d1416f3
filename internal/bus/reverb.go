package bus

// Reverb is a Schroeder reverb: four parallel combs into two allpasses,
// fed from the mono sum.
type Reverb struct {
	combs [4]delayLine
	diff  [2]delayLine
	wet   float32
}

// delayLine is a circular buffer with feedback, used as either a comb or
// an allpass.
type delayLine struct {
	buf []float32
	pos int
	fb  float32
}

func newDelayLine(n int, fb float32) delayLine {
	return delayLine{buf: make([]float32, max(n, 1)), fb: fb}
}

func (d *delayLine) comb(in float32) float32 {
	out := d.buf[d.pos]
	d.buf[d.pos] = in + out*d.fb
	d.advance()
	return out
}

func (d *delayLine) allpass(in float32) float32 {
	held := d.buf[d.pos]
	d.buf[d.pos] = in + held*d.fb
	d.advance()
	return held - in
}

func (d *delayLine) advance() {
	d.pos++
	if d.pos == len(d.buf) {
		d.pos = 0
	}
}

func (d *delayLine) clear() {
	clear(d.buf)
	d.pos = 0
}

// NewReverb sizes the combs from room (0..1), sets their feedback from
// decay (capped at 0.95) and mixes wet (0..1) with the dry signal.
func NewReverb(sampleRate int, room, decay, wet float64) *Reverb {
	base := max(int(float64(sampleRate)*room*0.05), 10)
	fb := clamp(decay, 0, 0.95)
	r := &Reverb{wet: clamp(wet, 0, 1)}
	for i, ratio := range [4]int{1000, 1117, 1271, 1437} {
		r.combs[i] = newDelayLine(base*ratio/1000, fb)
	}
	for i, ratio := range [2]int{347, 213} {
		r.diff[i] = newDelayLine(base*ratio/1000, 0.5)
	}
	return r
}

func (r *Reverb) Process(l, rr float32) (float32, float32) {
	in := (l + rr) * 0.5
	var out float32
	for i := range r.combs {
		out += r.combs[i].comb(in)
	}
	out *= 0.25
	for i := range r.diff {
		out = r.diff[i].allpass(out)
	}
	dry := 1 - r.wet
	return l*dry + out*r.wet, rr*dry + out*r.wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		r.combs[i].clear()
	}
	for i := range r.diff {
		r.diff[i].clear()
	}
}
