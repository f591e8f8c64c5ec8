// Package geometry derives the per-amplifier section keywords of a raw
// 4-amplifier frame and remaps them when the frame is flipped top to bottom.
package geometry

import (
	"fmt"

	"calibkit/internal/section"
)

// NumAmps is the number of read-out amplifiers on a detector.
const NumAmps = 4

// Amplifier holds the four sections owned by one read-out amplifier.
type Amplifier struct {
	Index   int             `json:"index"`
	Prescan section.Section `json:"presec"`
	Data    section.Section `json:"datasec"`
	Bias    section.Section `json:"biassec"`
	CCD     section.Section `json:"ccdsec"`
}

// Section returns the section of the given kind.
func (a Amplifier) Section(kind section.Kind) section.Section {
	switch kind {
	case section.Prescan:
		return a.Prescan
	case section.Data:
		return a.Data
	case section.Bias:
		return a.Bias
	default:
		return a.CCD
	}
}

func (a *Amplifier) setSection(kind section.Kind, s section.Section) {
	switch kind {
	case section.Prescan:
		a.Prescan = s
	case section.Data:
		a.Data = s
	case section.Bias:
		a.Bias = s
	default:
		a.CCD = s
	}
}

// Layout is the full section geometry of a frame, amplifiers 1..4.
type Layout struct {
	Amps [NumAmps]Amplifier `json:"amps"`
}

// Amp returns amplifier n (1-based).
func (l Layout) Amp(n int) Amplifier {
	return l.Amps[n-1]
}

func (l *Layout) amp(n int) *Amplifier {
	return &l.Amps[n-1]
}

// CCDHeight is the height of the assembled CCD frame, read from CCDSEC4.
func (l Layout) CCDHeight() int {
	return l.Amp(4).CCD.YMax
}

// CCDFrame returns the bounding box of all CCDSEC rectangles.
func (l Layout) CCDFrame() section.Section {
	frame := l.Amps[0].CCD
	for _, a := range l.Amps[1:] {
		frame.XMin = min(frame.XMin, a.CCD.XMin)
		frame.XMax = max(frame.XMax, a.CCD.XMax)
		frame.YMin = min(frame.YMin, a.CCD.YMin)
		frame.YMax = max(frame.YMax, a.CCD.YMax)
	}
	return frame
}

// CheckTiling verifies that the CCDSEC rectangles cover the assembled frame
// starting at (1,1) with no overlap and no gap.
func (l Layout) CheckTiling() error {
	frame := l.CCDFrame()
	if frame.XMin != 1 || frame.YMin != 1 {
		return fmt.Errorf("ccd frame %s does not start at the origin", frame)
	}
	area := 0
	for i, a := range l.Amps {
		if a.CCD.Width() <= 0 || a.CCD.Height() <= 0 {
			return fmt.Errorf("amp %d has empty ccd section %s", a.Index, a.CCD)
		}
		area += a.CCD.Area()
		for _, b := range l.Amps[i+1:] {
			if a.CCD.Overlaps(b.CCD) {
				return fmt.Errorf("ccd sections of amps %d and %d overlap: %s %s", a.Index, b.Index, a.CCD, b.CCD)
			}
		}
	}
	if area != frame.Area() {
		return fmt.Errorf("ccd sections cover %d of %d pixels in %s", area, frame.Area(), frame)
	}
	return nil
}

// flipPermutation maps an amplifier index to its index after a top-bottom
// flip of the raw frame. Index 0 is unused.
var flipPermutation = [NumAmps + 1]int{0, 3, 4, 1, 2}

// FlippedAmp returns the amplifier index that amp becomes after a flip.
func FlippedAmp(amp int) int {
	return flipPermutation[amp]
}

// FlipRows mirrors every section vertically and relabels the amplifiers.
// Raw-frame sections are mirrored in rawHeight, CCDSEC in ccdHeight.
func (l Layout) FlipRows(rawHeight, ccdHeight int) Layout {
	var out Layout
	for _, a := range l.Amps {
		dst := out.amp(FlippedAmp(a.Index))
		dst.Index = FlippedAmp(a.Index)
		for _, kind := range section.Kinds {
			height := rawHeight
			if kind == section.CCD {
				height = ccdHeight
			}
			dst.setSection(kind, a.Section(kind).FlipRows(height))
		}
	}
	return out
}

// Keywords returns the 16 section keywords, amplifier by amplifier.
func (l Layout) Keywords() []Keyword {
	kws := make([]Keyword, 0, NumAmps*len(section.Kinds))
	for _, a := range l.Amps {
		for _, kind := range section.Kinds {
			kws = append(kws, Keyword{
				Name:  section.Key(kind, a.Index),
				Value: a.Section(kind).String(),
			})
		}
	}
	return kws
}
