// Package transport turns tempo and elapsed time into a beat position and
// triggers and stops notes against it.
//
// The beat position is never accumulated. Every Tick recomputes it from the
// clock as startBeat + (now-startTime)*tempo/60, so a late or jittery tick
// only delays triggers and never drifts the position. Notes are scheduled a
// short lookahead before their start beat and handed to the audio graph with
// a matching start delay.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cbegin/seqstudio-go/internal/clock"
	"github.com/cbegin/seqstudio-go/internal/store"
	"github.com/cbegin/seqstudio-go/internal/track"
	"github.com/cbegin/seqstudio-go/internal/voice"
)

const (
	DefaultLookahead = 0.1
	epsilon          = 1e-9
)

var (
	ErrNotReady     = errors.New("samples are still loading")
	ErrInvalidTempo = store.ErrInvalidTempo
)

// Store is the state the transport reads each tick.
type Store interface {
	Snapshot() store.State
	SetTempo(bpm float64) error
}

type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventStop
	EventTempo
	EventNoteOn
	EventNoteOff
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventStop:
		return "stop"
	case EventTempo:
		return "tempo"
	case EventNoteOn:
		return "note-on"
	case EventNoteOff:
		return "note-off"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is sent on the Watch channel. Track and Note are set for note
// events, Tempo for tempo events.
type Event struct {
	Kind  EventKind
	Beat  float64
	Tempo float64
	Track string
	Note  track.Note
}

type Option func(*Transport)

// WithLookahead sets how many beats ahead of the playhead notes are
// scheduled. Negative values are treated as zero.
func WithLookahead(beats float64) Option {
	return func(t *Transport) {
		t.lookahead = max(beats, 0)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

// scheduled is a triggered note waiting for its stop beat.
type scheduled struct {
	track string
	voice *voice.Voice
}

type Transport struct {
	store     Store
	graph     voice.Graph
	buffers   voice.Buffers
	clk       clock.Clock
	log       *slog.Logger
	lookahead float64

	mu        sync.Mutex
	playing   bool
	tempo     float64
	startBeat float64
	startTime time.Time
	beat      float64
	// cursor is the scheduling horizon: notes starting before it have
	// already been considered.
	cursor float64
	live   []scheduled
	ended  bool

	eventMu sync.Mutex
	events  chan Event
}

func New(st Store, graph voice.Graph, buffers voice.Buffers, clk clock.Clock, opts ...Option) *Transport {
	if clk == nil {
		clk = clock.System{}
	}
	snap := st.Snapshot()
	start := max(snap.StartMarker, track.FirstBeat)
	t := &Transport{
		store:     st,
		graph:     graph,
		buffers:   buffers,
		clk:       clk,
		log:       slog.Default(),
		lookahead: DefaultLookahead,
		tempo:     snap.Tempo,
		startBeat: start,
		beat:      start,
		cursor:    start,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Watch returns a channel receiving transport events. Only the most recent
// channel receives events, and events are dropped while it is full.
func (t *Transport) Watch() <-chan Event {
	ch := make(chan Event, 64)
	t.eventMu.Lock()
	t.events = ch
	t.eventMu.Unlock()
	return ch
}

func (t *Transport) emit(ev Event) {
	t.eventMu.Lock()
	ch := t.events
	t.eventMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

func (t *Transport) beatAt(now time.Time) float64 {
	b := t.startBeat + now.Sub(t.startTime).Seconds()*t.tempo/60
	return max(b, t.beat)
}

// advance recomputes the playhead at now. It never moves backwards.
func (t *Transport) advance(now time.Time) float64 {
	if t.playing {
		t.beat = t.beatAt(now)
	}
	return t.beat
}

func (t *Transport) reanchor(now time.Time) {
	t.startBeat = t.advance(now)
	t.startTime = now
}

// Play starts or resumes playback from the current beat. It fails with
// ErrNotReady while samples are loading and does nothing when already
// playing.
func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		return nil
	}
	snap := t.store.Snapshot()
	if snap.SampleLoading {
		return ErrNotReady
	}
	t.tempo = snap.Tempo
	t.startTime = t.clk.Now()
	t.startBeat = t.beat
	t.cursor = t.beat
	t.playing = true
	t.ended = false
	t.log.Debug("transport play", "beat", t.beat, "tempo", t.tempo)
	t.emit(Event{Kind: EventPlay, Beat: t.beat, Tempo: t.tempo})
	return nil
}

// Pause stops playback where it is and releases every sounding voice.
// Notes that were scheduled but had not started are discarded and will be
// scheduled again on resume.
func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.advance(t.clk.Now())
	t.playing = false
	t.releaseAll()
	t.cursor = t.beat
	t.log.Debug("transport pause", "beat", t.beat)
	t.emit(Event{Kind: EventPause, Beat: t.beat, Tempo: t.tempo})
}

// Stop halts playback, releases every voice and rewinds to the start marker.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	marker := max(t.store.Snapshot().StartMarker, track.FirstBeat)
	if !t.playing && len(t.live) == 0 && t.beat == marker {
		return
	}
	t.playing = false
	t.releaseAll()
	t.beat = marker
	t.startBeat = marker
	t.cursor = marker
	t.ended = false
	t.log.Debug("transport stop", "beat", marker)
	t.emit(Event{Kind: EventStop, Beat: marker, Tempo: t.tempo})
}

// SetTempo changes the tempo. While playing, the playhead is re-anchored
// at the old tempo first so the beat position is continuous.
func (t *Transport) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, bpm)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.SetTempo(bpm); err != nil {
		return err
	}
	t.changeTempo(t.clk.Now(), bpm)
	return nil
}

func (t *Transport) changeTempo(now time.Time, bpm float64) {
	if bpm == t.tempo {
		return
	}
	if t.playing {
		t.reanchor(now)
	}
	t.tempo = bpm
	t.log.Debug("transport tempo", "bpm", bpm, "beat", t.beat)
	t.emit(Event{Kind: EventTempo, Beat: t.beat, Tempo: bpm})
}

// Tick advances the playhead to now, triggers notes entering the lookahead
// window and stops notes whose stop beat has passed.
func (t *Transport) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.Snapshot()
	if snap.Tempo > 0 {
		t.changeTempo(now, snap.Tempo)
	}
	if !t.playing {
		return
	}
	beat := t.advance(now)
	horizon := beat + t.lookahead
	if horizon > t.cursor {
		t.schedule(snap, beat, t.cursor, horizon)
		t.cursor = horizon
	}
	t.stopPassed(beat)
	if !t.ended && len(t.live) == 0 && beat >= snap.EndBeat()-epsilon {
		t.ended = true
		t.emit(Event{Kind: EventEnded, Beat: beat, Tempo: t.tempo})
	}
}

func (t *Transport) schedule(snap store.State, beat, from, to float64) {
	solo := track.AnySolo(snap.Tracks)
	for _, tr := range snap.Tracks {
		if !tr.Audible(solo) {
			continue
		}
		in, ok := snap.Instrument(tr.Instrument)
		if !ok {
			in = track.Instrument{ID: tr.Instrument}
		}
		for _, n := range tr.Notes {
			if n.Start < from {
				continue
			}
			if n.Start >= to {
				break
			}
			t.trigger(tr, in, n, beat)
		}
	}
}

func (t *Transport) trigger(tr track.Track, in track.Instrument, n track.Note, beat float64) {
	delay := max(n.Start-beat, 0) * 60 / t.tempo
	v, err := voice.Trigger(t.graph, t.buffers, in, n, voice.Params{
		Gain:  tr.Gain,
		Delay: time.Duration(delay * float64(time.Second)),
	})
	if err != nil {
		if errors.Is(err, voice.ErrNoBuffer) {
			t.log.Debug("silent note", "track", tr.ID, "start", n.Start, "error", err)
		} else {
			t.log.Warn("note trigger failed", "track", tr.ID, "start", n.Start, "error", err)
		}
		return
	}
	t.live = append(t.live, scheduled{track: tr.ID, voice: v})
	t.emit(Event{Kind: EventNoteOn, Beat: n.Start, Tempo: t.tempo, Track: tr.ID, Note: n})
}

func (t *Transport) stopPassed(beat float64) {
	live := t.live[:0]
	for _, s := range t.live {
		if beat >= s.voice.Note.Stop()-epsilon {
			n := s.voice.Note
			voice.StopWithLogger(s.voice, t.log)
			t.emit(Event{Kind: EventNoteOff, Beat: n.Stop(), Tempo: t.tempo, Track: s.track, Note: n})
			continue
		}
		live = append(live, s)
	}
	clear(t.live[len(live):])
	t.live = live
}

func (t *Transport) releaseAll() {
	for _, s := range t.live {
		voice.StopWithLogger(s.voice, t.log)
	}
	clear(t.live)
	t.live = t.live[:0]
}

// CurrentBeat is the playhead position, 1-indexed. Reading it does not move
// the playhead; only Tick does.
func (t *Transport) CurrentBeat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return t.beat
	}
	return t.beatAt(t.clk.Now())
}

// PlayingStartBeat is the beat the current playback segment is anchored at.
func (t *Transport) PlayingStartBeat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startBeat
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *Transport) Tempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempo
}

// Ended reports whether playback has passed the last note and every
// triggered note has been stopped. It is cleared by Play and Stop.
func (t *Transport) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// LiveVoices is the number of triggered notes that have not been stopped.
func (t *Transport) LiveVoices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
