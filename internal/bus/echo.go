package bus

// Echo is a stereo feedback delay. cross routes part of each channel's
// feedback into the other for a ping-pong effect.
type Echo struct {
	left, right []float32
	pos         int
	feedback    float32
	cross       float32
	wet         float32
}

func NewEcho(sampleRate int, timeMs, feedback, cross, wet float64) *Echo {
	n := max(int(timeMs*float64(sampleRate)/1000), 1)
	return &Echo{
		left:     make([]float32, n),
		right:    make([]float32, n),
		feedback: clamp(feedback, 0, 0.95),
		cross:    clamp(cross, 0, 1),
		wet:      clamp(wet, 0, 1),
	}
}

func (e *Echo) Process(l, r float32) (float32, float32) {
	dl, dr := e.left[e.pos], e.right[e.pos]
	straight := e.feedback * (1 - e.cross)
	swapped := e.feedback * e.cross
	e.left[e.pos] = l + dl*straight + dr*swapped
	e.right[e.pos] = r + dr*straight + dl*swapped
	e.pos++
	if e.pos == len(e.left) {
		e.pos = 0
	}
	dry := 1 - e.wet
	return l*dry + dl*e.wet, r*dry + dr*e.wet
}

func (e *Echo) Reset() {
	clear(e.left)
	clear(e.right)
	e.pos = 0
}
