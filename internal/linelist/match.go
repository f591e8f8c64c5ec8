package linelist

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultTolerance is the largest accepted catalog offset, in Angstrom.
const DefaultTolerance = 1.0

const (
	ReasonNoIon  = "no ion"
	ReasonTooFar = "no good match"
)

// Miss records a subset line that found no catalog counterpart.
type Miss struct {
	Line    Line    `json:"line"`
	Nearest float64 `json:"nearest,omitempty"`
	Delta   float64 `json:"delta,omitempty"`
	Reason  string  `json:"reason"`
}

func (m Miss) String() string {
	if m.Reason == ReasonNoIon {
		return fmt.Sprintf("no %s", m.Line.Ion)
	}
	return fmt.Sprintf("error no good match of %f %s delta=%f", m.Line.Wave, m.Line.Ion, m.Delta)
}

// Match replaces each subset line with the nearest catalog line of the same
// ion. Lines whose ion is absent from the catalog, or whose nearest line is
// further than tol, are returned as misses in subset order.
func Match(subset, catalog []Line, tol float64) ([]Line, []Miss) {
	byIon := map[string][]float64{}
	for _, l := range catalog {
		byIon[l.Ion] = append(byIon[l.Ion], l.Wave)
	}

	var matched []Line
	var misses []Miss
	for _, l := range subset {
		waves, ok := byIon[l.Ion]
		if !ok {
			misses = append(misses, Miss{Line: l, Reason: ReasonNoIon})
			continue
		}
		nearest := waves[0]
		for _, w := range waves[1:] {
			if math.Abs(w-l.Wave) < math.Abs(nearest-l.Wave) {
				nearest = w
			}
		}
		delta := math.Abs(nearest - l.Wave)
		if delta > tol {
			misses = append(misses, Miss{Line: l, Nearest: nearest, Delta: delta, Reason: ReasonTooFar})
			continue
		}
		matched = append(matched, Line{Wave: nearest, Ion: l.Ion})
	}
	return matched, misses
}

// Sort returns lines ordered by increasing wavelength.
func Sort(lines []Line) []Line {
	waves := make([]float64, len(lines))
	for i, l := range lines {
		waves[i] = l.Wave
	}
	inds := make([]int, len(lines))
	floats.Argsort(waves, inds)

	out := make([]Line, len(lines))
	for i, j := range inds {
		out[i] = lines[j]
	}
	return out
}

// OutputHeader describes the comment block written above the lines.
type OutputHeader struct {
	Program string
	Subset  string
	Vacuum  bool
}

// Write emits the sorted line list in the "%f %s" ASCII format.
func Write(w io.Writer, h OutputHeader, lines []Line) error {
	if _, err := fmt.Fprintf(w, "# generated by %s , based on NIST\n", h.Program); err != nil {
		return err
	}
	if h.Subset != "" {
		if _, err := fmt.Fprintf(w, "# using subsample of lines in %s\n", h.Subset); err != nil {
			return err
		}
	}
	medium := "IN AIR"
	if h.Vacuum {
		medium = "IN VACUUM"
	}
	if _, err := fmt.Fprintf(w, "# WAVE (A, %s) ION\n", medium); err != nil {
		return err
	}
	for _, l := range Sort(lines) {
		if _, err := fmt.Fprintf(w, "%f %s\n", l.Wave, l.Ion); err != nil {
			return err
		}
	}
	return nil
}
