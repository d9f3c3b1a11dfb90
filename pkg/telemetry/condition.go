package telemetry

import (
	"errors"
	"fmt"
)

// Band is one labelled moisture range. Max is the inclusive upper bound; the
// last band of a set is open-ended and its Max is ignored.
type Band struct {
	Name string  `yaml:"name" json:"name"`
	Max  float64 `yaml:"max" json:"max"`
}

// Bands is an ascending set of moisture bands.
type Bands []Band

// DefaultBands are the trail condition bands used by the dashboard.
func DefaultBands() Bands {
	return Bands{
		{Name: "Slippery", Max: 300},
		{Name: "Wet / Damp", Max: 330},
		{Name: "Hero Dirt", Max: 350},
		{Name: "Dry", Max: 400},
		{Name: "Dusty"},
	}
}

// Classify returns the name of the first band whose upper bound is >= v.
// A value above every bound falls into the last band. Ties at a boundary
// belong to the lower band.
func (b Bands) Classify(v float64) string {
	if len(b) == 0 {
		return ""
	}
	for _, band := range b[:len(b)-1] {
		if v <= band.Max {
			return band.Name
		}
	}
	return b[len(b)-1].Name
}

// Validate checks that there is at least one band, every band is named, and
// the bounded bands are strictly ascending.
func (b Bands) Validate() error {
	if len(b) == 0 {
		return errors.New("at least one band is required")
	}
	for i, band := range b {
		if band.Name == "" {
			return fmt.Errorf("band %d has no name", i)
		}
		if i > 0 && i < len(b)-1 && band.Max <= b[i-1].Max {
			return fmt.Errorf("band %q max %.2f must be greater than %.2f", band.Name, band.Max, b[i-1].Max)
		}
	}
	return nil
}
