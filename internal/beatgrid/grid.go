// Package beatgrid computes the numbers and offsets a beat ruler displays.
// It only reads the transport position.
package beatgrid

import "math"

// Position is the read-only view of the transport the grid needs.
type Position interface {
	CurrentBeat() float64
	PlayingStartBeat() float64
}

// Cell is one beat on the ruler. Number is 1-indexed like transport beats.
type Cell struct {
	Number  int
	Offset  float64
	Current bool
}

// Grid lays out Horizon beats, Spacing units apart.
type Grid struct {
	Horizon int
	Spacing float64
}

func New(horizon int, spacing float64) Grid {
	return Grid{Horizon: max(horizon, 0), Spacing: spacing}
}

// Offset is the horizontal position of beat number n.
func (g Grid) Offset(n int) float64 {
	return float64(n-1) * g.Spacing
}

// Cells returns the ruler cells. The cell holding the playhead is marked
// current; none is when the playhead is outside the horizon.
func (g Grid) Cells(p Position) []Cell {
	cells := make([]Cell, g.Horizon)
	current := -1
	if p != nil {
		current = int(math.Floor(p.CurrentBeat()))
	}
	for i := range cells {
		n := i + 1
		cells[i] = Cell{Number: n, Offset: g.Offset(n), Current: n == current}
	}
	return cells
}

// Playhead is the horizontal position of the current beat.
func (g Grid) Playhead(p Position) float64 {
	return (p.CurrentBeat() - 1) * g.Spacing
}

// Anchor is the horizontal position the current playback started from.
func (g Grid) Anchor(p Position) float64 {
	return (p.PlayingStartBeat() - 1) * g.Spacing
}
