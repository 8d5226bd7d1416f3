// Package synth is a small polyphonic oscillator engine with per-voice
// ADSR envelopes. Stopping a synth voice starts its release stage rather
// than cutting it off.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/cbegin/seqstudio-go/internal/track"
)

const twoPi = math.Pi * 2

type Wave int

const (
	WaveSquare Wave = iota
	WavePulse
	WaveTriangle
	WaveSaw
	WaveSine
	WaveNoise
)

func ParseWave(name string) (Wave, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "square":
		return WaveSquare, nil
	case "pulse":
		return WavePulse, nil
	case "triangle", "tri":
		return WaveTriangle, nil
	case "saw", "sawtooth":
		return WaveSaw, nil
	case "sine":
		return WaveSine, nil
	case "noise":
		return WaveNoise, nil
	default:
		return 0, fmt.Errorf("unknown wave %q", name)
	}
}

// Patch is the sound of one synth voice. Times are in seconds.
type Patch struct {
	Wave       Wave
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	ReleaseSec float64
	Gain       float64
	// VibratoDepth is in semitones, VibratoRate in Hz. Zero disables it.
	VibratoDepth float64
	VibratoRate  float64
}

func DefaultPatch() Patch {
	return Patch{
		Wave:       WaveSquare,
		AttackSec:  0.005,
		DecaySec:   0.15,
		SustainLvl: 0.65,
		ReleaseSec: 0.20,
		Gain:       1,
	}
}

// PatchFrom builds a patch from a project synth definition. Zero fields keep
// their defaults, except sustain which is taken as given once any envelope
// field is set.
func PatchFrom(def *track.SynthDef) (Patch, error) {
	p := DefaultPatch()
	if def == nil {
		return p, nil
	}
	wave, err := ParseWave(def.Wave)
	if err != nil {
		return p, err
	}
	p.Wave = wave
	if def.Attack > 0 {
		p.AttackSec = def.Attack
	}
	if def.Decay > 0 {
		p.DecaySec = def.Decay
	}
	if def.Release > 0 {
		p.ReleaseSec = def.Release
	}
	if def.Attack > 0 || def.Decay > 0 || def.Release > 0 || def.Sustain > 0 {
		p.SustainLvl = clamp(def.Sustain, 0, 1)
	}
	if def.Gain > 0 {
		p.Gain = def.Gain
	}
	if v := def.Vibrato; v != nil {
		p.VibratoDepth = v.Depth
		p.VibratoRate = v.Rate
	}
	return p, nil
}

type Params struct {
	Voices     int
	MasterGain float64
	PulseDuty  float64
}

func DefaultParams() Params {
	return Params{
		Voices:     32,
		MasterGain: 0.25,
		PulseDuty:  0.25,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active      bool
	id          int
	age         int
	wait        int
	patch       Patch
	freq        float64
	phase       float64
	amp         float64
	env         float64
	releaseStep float64
	envState    envState
	noiseLFSR   uint16
	vibrato     lfo
}

type Engine struct {
	sampleRate float64
	params     Params
	voices     []voice
	nextID     int
	masterGain uint64
	dcPrevInL  float64
	dcPrevOutL float64
	dcPrevInR  float64
	dcPrevOutR float64
}

func New(sampleRate int, params Params) *Engine {
	if params.Voices <= 0 {
		params.Voices = DefaultParams().Voices
	}
	if params.PulseDuty <= 0 || params.PulseDuty >= 1 {
		params.PulseDuty = DefaultParams().PulseDuty
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Voices),
		masterGain: math.Float64bits(params.MasterGain),
	}
	for i := range e.voices {
		e.voices[i].noiseLFSR = uint16(0xACE1 + i*97)
	}
	return e
}

// NoteOn starts a voice after delayFrames frames and returns its id.
// velocity and gain are linear amplitude factors.
func (e *Engine) NoteOn(p Patch, pitch int, velocity float64, gain float64, delayFrames int) int {
	slot := e.stealVoice()
	id := e.nextID
	e.nextID++
	v := &e.voices[slot]
	lfsr := v.noiseLFSR
	if lfsr == 0 {
		lfsr = 0xACE1
	}
	*v = voice{
		active:    true,
		id:        id,
		wait:      max(delayFrames, 0),
		patch:     p,
		freq:      midiToFreq(pitch),
		phase:     rand.Float64() * 0.01,
		amp:       clamp(velocity, 0, 1) * gain * p.Gain,
		envState:  envAttack,
		noiseLFSR: lfsr,
		vibrato:   lfo{depth: p.VibratoDepth, rateHz: p.VibratoRate},
	}
	return id
}

// NoteOff moves the voice into its release stage. A voice that has not
// started sounding yet is dropped. Unknown or already released ids are
// ignored.
func (e *Engine) NoteOff(id int) {
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active || v.id != id {
			continue
		}
		if v.wait > 0 {
			v.active = false
			v.envState = envOff
			continue
		}
		if v.envState == envRelease || v.envState == envOff {
			continue
		}
		v.envState = envRelease
		frames := v.patch.ReleaseSec * e.sampleRate
		if frames < 1 {
			frames = 1
		}
		v.releaseStep = v.env / frames
	}
}

// Releasing reports whether the voice is in its release stage.
func (e *Engine) Releasing(id int) bool {
	for i := range e.voices {
		if e.voices[i].active && e.voices[i].id == id {
			return e.voices[i].envState == envRelease
		}
	}
	return false
}

// Reset silences every voice immediately.
func (e *Engine) Reset() {
	for i := range e.voices {
		e.voices[i].active = false
		e.voices[i].envState = envOff
	}
}

func (e *Engine) RenderFrame() (float32, float32) {
	gain := e.masterGainValue()
	var sum float64
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}
		if v.wait > 0 {
			v.wait--
			continue
		}
		v.age++
		env := e.advanceEnv(v)
		if !v.active {
			continue
		}
		sum += e.renderWave(v) * env * v.amp * gain
	}
	l := e.dcBlockL(sum)
	r := e.dcBlockR(sum)
	return float32(clamp(l, -1, 1)), float32(clamp(r, -1, 1))
}

func (e *Engine) dcBlockL(x float64) float64 {
	const r = 0.995
	y := x - e.dcPrevInL + r*e.dcPrevOutL
	e.dcPrevInL = x
	e.dcPrevOutL = y
	return y
}

func (e *Engine) dcBlockR(x float64) float64 {
	const r = 0.995
	y := x - e.dcPrevInR + r*e.dcPrevOutR
	e.dcPrevInR = x
	e.dcPrevOutR = y
	return y
}

// polyBLEP reduces aliasing at waveform discontinuities.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func (e *Engine) renderWave(v *voice) float64 {
	freq := v.freq
	if v.vibrato.active() {
		freq *= semitoneRatio(v.vibrato.sample(e.sampleRate))
	}
	dt := freq / e.sampleRate
	v.phase += dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	switch v.patch.Wave {
	case WaveSquare, WavePulse:
		duty := 0.5
		if v.patch.Wave == WavePulse {
			duty = e.params.PulseDuty
		}
		out := -1.0
		if v.phase < duty {
			out = 1
		}
		out += polyBLEP(v.phase, dt)
		out -= polyBLEP(math.Mod(v.phase-duty+1, 1), dt)
		return out
	case WaveTriangle:
		return 2*math.Abs(2*v.phase-1) - 1
	case WaveSaw:
		return 2*v.phase - 1 - polyBLEP(v.phase, dt)
	case WaveSine:
		return math.Sin(twoPi * v.phase)
	case WaveNoise:
		if v.phase < dt {
			bit := (v.noiseLFSR ^ (v.noiseLFSR >> 1)) & 1
			v.noiseLFSR = (v.noiseLFSR >> 1) | (bit << 15)
		}
		if v.noiseLFSR&1 == 1 {
			return 1
		}
		return -1
	default:
		return 0
	}
}

func (e *Engine) stealVoice() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	// Steal the oldest releasing voice, or failing that the oldest voice.
	oldestRelease := -1
	oldestReleaseAge := -1
	oldestActive := 0
	oldestActiveAge := -1
	for i := range e.voices {
		v := &e.voices[i]
		if v.envState == envRelease && v.age > oldestReleaseAge {
			oldestRelease = i
			oldestReleaseAge = v.age
		}
		if v.age > oldestActiveAge {
			oldestActive = i
			oldestActiveAge = v.age
		}
	}
	if oldestRelease >= 0 {
		return oldestRelease
	}
	return oldestActive
}

func (e *Engine) advanceEnv(v *voice) float64 {
	p := &v.patch
	switch v.envState {
	case envAttack:
		step := 1.0
		if frames := p.AttackSec * e.sampleRate; frames > 1 {
			step = 1 / frames
		}
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		step := 1.0
		if frames := p.DecaySec * e.sampleRate; frames > 1 {
			step = (1 - p.SustainLvl) / frames
		}
		v.env -= step
		if v.env <= p.SustainLvl {
			v.env = p.SustainLvl
			v.envState = envSustain
		}
	case envSustain:
		if v.env <= 0 {
			v.active = false
			v.envState = envOff
		}
	case envRelease:
		v.env -= v.releaseStep
		if v.env <= 0.0001 || v.releaseStep <= 0 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

func (e *Engine) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}
