package bus

import "math"

// Compressor reduces gain per channel once its envelope rises above the
// threshold.
type Compressor struct {
	threshold float32
	slope     float64
	attack    float32
	release   float32
	makeup    float32
	env       [2]float32
}

// NewCompressor takes the threshold and makeup gain in dB and the envelope
// times in milliseconds. Ratios below 1 are treated as 1.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	ratio = max(ratio, 1)
	return &Compressor{
		threshold: float32(dbToGain(thresholdDB)),
		slope:     1/ratio - 1,
		attack:    coefficient(attackMs, sampleRate),
		release:   coefficient(releaseMs, sampleRate),
		makeup:    float32(dbToGain(makeupDB)),
	}
}

func dbToGain(db float64) float64 { return math.Pow(10, db/20) }

func coefficient(ms float64, sampleRate int) float32 {
	frames := ms * float64(sampleRate) / 1000
	if frames <= 0 {
		return 1
	}
	return float32(1 - math.Exp(-1/frames))
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	return l * c.gain(0, l), r * c.gain(1, r)
}

func (c *Compressor) gain(ch int, x float32) float32 {
	level := float32(math.Abs(float64(x)))
	coef := c.release
	if level > c.env[ch] {
		coef = c.attack
	}
	c.env[ch] += coef * (level - c.env[ch])
	if c.env[ch] <= c.threshold || c.threshold <= 0 {
		return c.makeup
	}
	over := float64(c.env[ch] / c.threshold)
	return float32(math.Pow(over, c.slope)) * c.makeup
}

func (c *Compressor) Reset() {
	c.env = [2]float32{}
}
