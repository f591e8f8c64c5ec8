// Package section handles the bracketed pixel-range keywords (PRESEC,
// DATASEC, BIASSEC, CCDSEC) found in raw detector headers.
package section

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Kind names one family of section keywords.
type Kind string

const (
	Prescan Kind = "PRESEC"
	Data    Kind = "DATASEC"
	Bias    Kind = "BIASSEC"
	CCD     Kind = "CCDSEC"
)

// Kinds lists every section kind in the order they are written out.
var Kinds = []Kind{Prescan, Data, Bias, CCD}

// Key returns the header keyword for kind on amplifier amp, e.g. DATASEC3.
func Key(kind Kind, amp int) string {
	return fmt.Sprintf("%s%d", kind, amp)
}

// ErrMalformed is matched by every MalformedError.
var ErrMalformed = errors.New("malformed section")

// MalformedError reports a value that is not of the form [a:b,c:d].
type MalformedError struct {
	Value string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("unable to parse %q as [a:b,c:d]", e.Value)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

var pattern = regexp.MustCompile(`\[(\d+):(\d+),(\d+):(\d+)\]`)

// Section is a rectangle of 1-based inclusive pixel bounds.
type Section struct {
	XMin int `json:"xmin"`
	XMax int `json:"xmax"`
	YMin int `json:"ymin"`
	YMax int `json:"ymax"`
}

// New builds a section from its four bounds.
func New(xmin, xmax, ymin, ymax int) Section {
	return Section{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax}
}

// Parse reads the first [a:b,c:d] group found in value.
func Parse(value string) (Section, error) {
	m := pattern.FindStringSubmatch(value)
	if m == nil {
		return Section{}, &MalformedError{Value: value}
	}
	var bounds [4]int
	for i := range bounds {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Section{}, &MalformedError{Value: value}
		}
		bounds[i] = n
	}
	return New(bounds[0], bounds[1], bounds[2], bounds[3]), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(value string) Section {
	s, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return s
}

// String formats the section as [xmin:xmax,ymin:ymax].
func (s Section) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", s.XMin, s.XMax, s.YMin, s.YMax)
}

// Width is the number of columns covered.
func (s Section) Width() int { return s.XMax - s.XMin + 1 }

// Height is the number of rows covered.
func (s Section) Height() int { return s.YMax - s.YMin + 1 }

// Area is Width times Height.
func (s Section) Area() int { return s.Width() * s.Height() }

// FlipRows mirrors the row bounds inside a frame of the given height:
// (ymin, ymax) becomes (height-ymax+1, height-ymin+1).
func (s Section) FlipRows(height int) Section {
	return Section{
		XMin: s.XMin,
		XMax: s.XMax,
		YMin: height - s.YMax + 1,
		YMax: height - s.YMin + 1,
	}
}

// Overlaps reports whether the two rectangles share at least one pixel.
func (s Section) Overlaps(o Section) bool {
	return s.XMin <= o.XMax && o.XMin <= s.XMax && s.YMin <= o.YMax && o.YMin <= s.YMax
}
