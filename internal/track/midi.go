package track

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ExportResolution is the tick resolution used when writing MIDI files.
const ExportResolution = 960

var ErrUnsupportedTimeFormat = errors.New("unsupported MIDI time format")

type openNote struct {
	tick     int64
	velocity uint8
}

type noteKey struct {
	channel uint8
	key     uint8
}

// ImportMIDI converts a standard MIDI file into a project. Each MIDI track
// and channel pair that contains notes becomes one track playing instrument.
// Beat positions are 1-indexed; tempo comes from the first tempo change.
func ImportMIDI(r io.Reader, instrument Instrument) (*Project, error) {
	rd, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	ticks, ok := rd.TimeFormat.(smf.MetricTicks)
	if !ok || ticks == 0 {
		return nil, ErrUnsupportedTimeFormat
	}
	resolution := float64(uint16(ticks))

	p := NewProject()
	if changes := rd.TempoChanges(); len(changes) > 0 && changes[0].BPM > 0 {
		p.Tempo = changes[0].BPM
	}
	p.Instruments = []Instrument{instrument}

	for trIdx, tr := range rd.Tracks {
		var abs int64
		open := map[noteKey][]openNote{}
		byChannel := map[uint8][]Note{}
		for _, ev := range tr {
			abs += int64(ev.Delta)
			msg := midi.Message(ev.Message)
			var ch, key, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := noteKey{ch, key}
				open[k] = append(open[k], openNote{tick: abs, velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				k := noteKey{ch, key}
				stack := open[k]
				if len(stack) == 0 {
					continue
				}
				on := stack[0]
				open[k] = stack[1:]
				if abs <= on.tick {
					continue
				}
				byChannel[ch] = append(byChannel[ch], Note{
					Start:    FirstBeat + float64(on.tick)/resolution,
					Duration: float64(abs-on.tick) / resolution,
					Pitch:    int(key),
					Velocity: float64(on.velocity) / 127,
					Type:     instrument.Kind,
				})
			}
		}
		channels := make([]int, 0, len(byChannel))
		for ch := range byChannel {
			channels = append(channels, int(ch))
		}
		sort.Ints(channels)
		for _, ch := range channels {
			t := Track{
				ID:         fmt.Sprintf("track%d-ch%d", trIdx, ch),
				Instrument: instrument.ID,
				Notes:      byChannel[uint8(ch)],
				Gain:       1,
			}
			t.Sort()
			p.Tracks = append(p.Tracks, t)
		}
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

type midiEvent struct {
	tick int64
	off  bool
	msg  midi.Message
}

// ExportMIDI writes the project as a format 1 standard MIDI file with a
// tempo track followed by one track per project track. Track i uses MIDI
// channel i mod 16.
func ExportMIDI(w io.Writer, p *Project) error {
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(ExportResolution)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(p.Tempo))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return fmt.Errorf("add tempo track: %w", err)
	}

	for i, t := range p.Tracks {
		ch := uint8(i % 16)
		events := make([]midiEvent, 0, len(t.Notes)*2)
		for _, n := range t.Notes {
			on := int64((n.Start - FirstBeat) * ExportResolution)
			off := int64((n.Stop() - FirstBeat) * ExportResolution)
			vel := uint8(n.Velocity * 127)
			if vel == 0 {
				vel = 1
			}
			events = append(events,
				midiEvent{tick: on, msg: midi.NoteOn(ch, uint8(n.Pitch), vel)},
				midiEvent{tick: off, off: true, msg: midi.NoteOff(ch, uint8(n.Pitch))},
			)
		}
		// Note-offs sort ahead of note-ons on the same tick so repeated
		// pitches do not swallow each other.
		sort.SliceStable(events, func(a, b int) bool {
			if events[a].tick != events[b].tick {
				return events[a].tick < events[b].tick
			}
			return events[a].off && !events[b].off
		})
		var tr smf.Track
		var last int64
		for _, ev := range events {
			tr.Add(uint32(ev.tick-last), ev.msg)
			last = ev.tick
		}
		tr.Close(0)
		if err := sm.Add(tr); err != nil {
			return fmt.Errorf("add track %q: %w", t.ID, err)
		}
	}
	_, err := sm.WriteTo(w)
	return err
}
