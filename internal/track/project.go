package track

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTempo  = 90.0
	DefaultVolume = 1.0
)

// Project is a complete arrangement: tempo, instruments and tracks.
type Project struct {
	Tempo        float64      `yaml:"tempo"`
	MasterVolume float64      `yaml:"master_volume"`
	StartMarker  float64      `yaml:"start_marker"`
	Instruments  []Instrument `yaml:"instruments"`
	Tracks       []Track      `yaml:"tracks"`
	Bus          *BusDef      `yaml:"master_bus,omitempty"`
}

// NewProject returns an empty project with engine defaults.
func NewProject() *Project {
	return &Project{
		Tempo:        DefaultTempo,
		MasterVolume: DefaultVolume,
		StartMarker:  FirstBeat,
	}
}

func (t *Track) UnmarshalYAML(node *yaml.Node) error {
	type plain Track
	p := plain{Gain: 1}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Track(p)
	return nil
}

func (n *Note) UnmarshalYAML(node *yaml.Node) error {
	type plain Note
	p := plain{Velocity: 1}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*n = Note(p)
	return nil
}

// LoadProject reads a YAML project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProject(data)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", path, err)
	}
	return p, nil
}

// ParseProject decodes, normalizes and validates a YAML project.
func ParseProject(data []byte) (*Project, error) {
	p := NewProject()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal encodes the project as YAML.
func (p *Project) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Instrument looks up an instrument by id.
func (p *Project) Instrument(id string) (Instrument, bool) {
	for _, in := range p.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return Instrument{}, false
}

// Normalize sorts every track, stamps each note with its instrument's source
// type and validates the result.
func (p *Project) Normalize() error {
	if p.StartMarker < FirstBeat {
		p.StartMarker = FirstBeat
	}
	seen := make(map[string]struct{}, len(p.Instruments))
	for _, in := range p.Instruments {
		if in.ID == "" {
			return fmt.Errorf("%w: instrument without id", ErrUnknownInstrument)
		}
		if _, dup := seen[in.ID]; dup {
			return fmt.Errorf("duplicate instrument %q", in.ID)
		}
		seen[in.ID] = struct{}{}
	}
	for i := range p.Tracks {
		tr := &p.Tracks[i]
		in, ok := p.Instrument(tr.Instrument)
		if !ok {
			return fmt.Errorf("track %q: %w %q", tr.ID, ErrUnknownInstrument, tr.Instrument)
		}
		for j := range tr.Notes {
			tr.Notes[j].Type = in.Kind
		}
		tr.Sort()
	}
	return p.Validate()
}

func (p *Project) Validate() error {
	if p.Tempo <= 0 || math.IsNaN(p.Tempo) || math.IsInf(p.Tempo, 0) {
		return fmt.Errorf("invalid tempo %v", p.Tempo)
	}
	if p.MasterVolume < 0 || p.MasterVolume > 1 {
		return fmt.Errorf("master volume %v out of range [0,1]", p.MasterVolume)
	}
	for _, tr := range p.Tracks {
		for i, n := range tr.Notes {
			if err := n.Validate(); err != nil {
				return fmt.Errorf("track %q note %d: %w", tr.ID, i, err)
			}
		}
	}
	return nil
}

// EndBeat is the latest stop beat across all tracks.
func (p *Project) EndBeat() float64 {
	end := FirstBeat
	for _, tr := range p.Tracks {
		if e := tr.EndBeat(); e > end {
			end = e
		}
	}
	return end
}

// BeatsToSeconds converts a beat span to seconds at the project tempo.
func (p *Project) BeatsToSeconds(beats float64) float64 {
	return beats * 60 / p.Tempo
}
