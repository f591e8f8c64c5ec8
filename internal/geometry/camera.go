package geometry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"calibkit/internal/section"
)

// ErrUnsupportedCamera is returned for camera identifiers with no registered family.
var ErrUnsupportedCamera = errors.New("not implemented yet for camera")

// Dims are the raw pixel dimensions of a frame.
type Dims struct {
	NAXIS1 int `json:"naxis1"`
	NAXIS2 int `json:"naxis2"`
}

// Family computes the unflipped section layout for one camera family.
type Family interface {
	Name() string
	Layout(d Dims) (Layout, error)
}

var (
	familiesMu sync.RWMutex
	families   = map[string]Family{}
)

// Register binds a family to camera identifiers starting with prefix
// (case-insensitive).
func Register(prefix string, f Family) {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	families[strings.ToLower(prefix)] = f
}

// FamilyFor resolves the family of a camera identifier such as "r1".
func FamilyFor(camera string) (Family, error) {
	familiesMu.RLock()
	defer familiesMu.RUnlock()
	id := strings.ToLower(camera)
	for _, prefix := range sortedPrefixes() {
		if strings.HasPrefix(id, prefix) {
			return families[prefix], nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedCamera, camera)
}

// longest prefix wins; caller holds familiesMu
func sortedPrefixes() []string {
	prefixes := make([]string, 0, len(families))
	for p := range families {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return prefixes
}

// Families lists the registered prefixes and family names.
func Families() map[string]string {
	familiesMu.RLock()
	defer familiesMu.RUnlock()
	out := make(map[string]string, len(families))
	for p, f := range families {
		out[p] = f.Name()
	}
	return out
}

// RedGeometry holds the constants of the red camera read-out layout.
// Amplifiers 1 and 2 sit side by side in the lower row band, 3 and 4 in the
// upper band.
type RedGeometry struct {
	// Amp1Data seeds every other section.
	Amp1Data section.Section
	// Amp1BiasXMax is the last overscan column of amplifier 1.
	Amp1BiasXMax int
	// Amp2DataXMin and Amp2DataXMax are the data columns of amplifier 2.
	Amp2DataXMin int
	Amp2DataXMax int
	// UpperYMin and UpperYMax are the data rows of amplifiers 3 and 4.
	UpperYMin int
	UpperYMax int
}

// TeststandRed is the tuning of the first teststand red camera images.
var TeststandRed = RedGeometry{
	Amp1Data:     section.New(10, 2064, 4, 2065),
	Amp1BiasXMax: 2100,
	Amp2DataXMin: 2137,
	Amp2DataXMax: 4187,
	UpperYMin:    2136,
	UpperYMax:    4197,
}

func init() {
	Register("r", TeststandRed)
}

func (g RedGeometry) Name() string { return "red" }

// Layout derives all 16 sections from the amplifier 1 data section.
func (g RedGeometry) Layout(d Dims) (Layout, error) {
	var l Layout

	d1 := g.Amp1Data
	a1 := l.amp(1)
	a1.Index = 1
	a1.Data = d1
	a1.Prescan = section.New(1, d1.XMin-1, d1.YMin, d1.YMax)
	a1.CCD = section.New(1, d1.Width(), 1, d1.Height())
	a1.Bias = section.New(d1.XMax+1, g.Amp1BiasXMax, d1.YMin, d1.YMax)

	// amp 2 is anchored on amp 1: its overscan starts after amp 1's and
	// its prescan runs to the edge of the raw frame
	d2 := section.New(g.Amp2DataXMin, g.Amp2DataXMax, d1.YMin, d1.YMax)
	a2 := l.amp(2)
	a2.Index = 2
	a2.Data = d2
	a2.Prescan = section.New(d2.XMax, d.NAXIS1, d2.YMin, d2.YMax)
	a2.Bias = section.New(a1.Bias.XMax+1, d2.XMin-1, d2.YMin, d2.YMax)
	a2.CCD = section.New(a1.CCD.XMax+1, a1.CCD.XMax+1+d2.XMax-d2.XMin, 1, d2.Height())

	d3 := section.New(d1.XMin, d1.XMax, g.UpperYMin, g.UpperYMax)
	a3 := l.amp(3)
	a3.Index = 3
	a3.Data = d3
	a3.Prescan = section.New(a1.Prescan.XMin, a1.Prescan.XMax, d3.YMin, d3.YMax)
	a3.Bias = section.New(a1.Bias.XMin, a1.Bias.XMax, d3.YMin, d3.YMax)
	a3.CCD = section.New(a1.CCD.XMin, a1.CCD.XMax, a1.CCD.YMax+1, a1.CCD.YMax+1+d3.YMax-d3.YMin)

	a4 := l.amp(4)
	a4.Index = 4
	a4.Data = section.New(d2.XMin, d2.XMax, d3.YMin, d3.YMax)
	a4.Prescan = section.New(a2.Prescan.XMin, a2.Prescan.XMax, d3.YMin, d3.YMax)
	a4.Bias = section.New(a2.Bias.XMin, a2.Bias.XMax, d3.YMin, d3.YMax)
	a4.CCD = section.New(a2.CCD.XMin, a2.CCD.XMax, a3.CCD.YMin, a3.CCD.YMax)

	return l, nil
}
