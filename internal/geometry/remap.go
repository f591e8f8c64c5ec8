package geometry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// ErrMissingMetadata is matched by every MissingKeyError.
var ErrMissingMetadata = errors.New("missing metadata")

// MissingKeyError reports a required header keyword that is absent or unusable.
type MissingKeyError struct {
	Key    string
	Reason string
}

func (e *MissingKeyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("header keyword %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("header keyword %s is missing", e.Key)
}

func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingMetadata
}

// Header is a read-only view of image metadata.
type Header interface {
	Get(key string) (any, bool)
}

// MapHeader adapts a plain map to Header.
type MapHeader map[string]any

func (m MapHeader) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Keyword is a single metadata update.
type Keyword struct {
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Options controls the remapping.
type Options struct {
	// Flip reverses the pixel rows and relabels the amplifiers accordingly.
	Flip bool
	// DefaultGain is written for amplifiers with no GAINn keyword.
	DefaultGain float64
}

// DefaultOptions returns the behaviour of the teststand reformatting.
func DefaultOptions() Options {
	return Options{Flip: true, DefaultGain: 1.0}
}

// Result is the outcome of a remap. Updates are in write order.
type Result struct {
	Camera         string    `json:"camera"`
	Family         string    `json:"family"`
	Dims           Dims      `json:"dims"`
	Layout         Layout    `json:"layout"`
	Flipped        bool      `json:"flipped"`
	DefaultedGains []int     `json:"defaulted_gains,omitempty"`
	Updates        []Keyword `json:"updates"`
}

// Remapper computes section keywords for raw frames.
type Remapper struct {
	opts Options
	log  *slog.Logger
}

// NewRemapper returns a remapper; a nil logger uses slog.Default.
func NewRemapper(opts Options, log *slog.Logger) *Remapper {
	if log == nil {
		log = slog.Default()
	}
	return &Remapper{opts: opts, log: log}
}

// Remap derives the metadata updates for camera from the header view.
// The view is never modified.
func (r *Remapper) Remap(camera string, hdr Header) (*Result, error) {
	family, err := FamilyFor(camera)
	if err != nil {
		return nil, err
	}

	dims, err := DimsFromHeader(hdr)
	if err != nil {
		return nil, err
	}

	layout, err := family.Layout(dims)
	if err != nil {
		return nil, fmt.Errorf("%s layout: %w", family.Name(), err)
	}

	res := &Result{
		Camera: strings.ToUpper(camera),
		Family: family.Name(),
		Dims:   dims,
	}

	if r.opts.Flip {
		layout = layout.FlipRows(dims.NAXIS2, layout.CCDHeight())
		res.Flipped = true
	}
	res.Layout = layout

	res.Updates = append(res.Updates,
		Keyword{Name: "EXTNAME", Value: res.Camera},
		Keyword{Name: "CAMERA", Value: res.Camera},
	)
	res.Updates = append(res.Updates, layout.Keywords()...)

	for amp := 1; amp <= NumAmps; amp++ {
		key := fmt.Sprintf("GAIN%d", amp)
		if _, ok := hdr.Get(key); ok {
			continue
		}
		r.log.Warn("made up gain", "key", key, "value", r.opts.DefaultGain, "camera", res.Camera)
		res.DefaultedGains = append(res.DefaultedGains, amp)
		res.Updates = append(res.Updates, Keyword{
			Name:    key,
			Value:   r.opts.DefaultGain,
			Comment: "default, no measured gain",
		})
	}

	return res, nil
}

// Preview derives the updates a frame of dims would receive, without a
// header. Every gain is reported as defaulted.
func Preview(camera string, dims Dims, opts Options) (*Result, error) {
	hdr := MapHeader{"NAXIS1": dims.NAXIS1, "NAXIS2": dims.NAXIS2}
	return NewRemapper(opts, slog.New(slog.NewTextHandler(io.Discard, nil))).Remap(camera, hdr)
}

// DimsFromHeader reads NAXIS1 and NAXIS2.
func DimsFromHeader(hdr Header) (Dims, error) {
	n1, err := intKey(hdr, "NAXIS1")
	if err != nil {
		return Dims{}, err
	}
	n2, err := intKey(hdr, "NAXIS2")
	if err != nil {
		return Dims{}, err
	}
	return Dims{NAXIS1: n1, NAXIS2: n2}, nil
}

func intKey(hdr Header, key string) (int, error) {
	v, ok := hdr.Get(key)
	if !ok {
		return 0, &MissingKeyError{Key: key}
	}
	n, ok := toInt(v)
	if !ok {
		return 0, &MissingKeyError{Key: key, Reason: fmt.Sprintf("not an integer: %v", v)}
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint8:
		return int(x), true
	case uint16:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		return int(x), true
	case float32:
		return toInt(float64(x))
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}
