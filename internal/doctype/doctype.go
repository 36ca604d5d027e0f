// Package doctype lists the supported identity documents and derives the
// capture guide for each.
package doctype

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/idcap/internal/geometry"
)

// Document type identifiers, used in upload filenames.
const (
	INE        = "ine"
	License    = "license"
	OldCitizen = "old_citizen"
	Passport   = "passport"
)

// Default is the type used when none is chosen.
const Default = INE

// guideCoverage is the share of the limiting video dimension the guide spans.
const guideCoverage = 0.8

// Type describes one supported document.
type Type struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	// Aspect is width over height of the physical document.
	Aspect float64 `json:"aspect"`
}

const (
	id1Aspect = 85.6 / 54.0
	id3Aspect = 125.0 / 88.0
)

var types = map[string]Type{
	INE:        {ID: INE, Label: "INE", Aspect: id1Aspect},
	License:    {ID: License, Label: "Driver license", Aspect: id1Aspect},
	OldCitizen: {ID: OldCitizen, Label: "Citizen ID (old format)", Aspect: id1Aspect},
	Passport:   {ID: Passport, Label: "Passport", Aspect: id3Aspect},
}

// UnknownError reports an unsupported document type.
type UnknownError struct{ ID string }

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown document type %q", e.ID)
}

// Lookup returns the type with the given id.
func Lookup(id string) (Type, error) {
	t, ok := types[id]
	if !ok {
		return Type{}, &UnknownError{ID: id}
	}
	return t, nil
}

// Valid reports whether id names a supported type.
func Valid(id string) bool {
	_, ok := types[id]
	return ok
}

// All returns the supported types ordered by id.
func All() []Type {
	out := make([]Type, 0, len(types))
	for _, t := range types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Guide centers a rectangle with the document's aspect ratio inside video,
// spanning 80% of whichever video dimension limits it.
func Guide(id string, video geometry.Rect) (geometry.Rect, error) {
	t, err := Lookup(id)
	if err != nil {
		return geometry.Rect{}, err
	}
	if !video.Valid() {
		return geometry.Rect{}, geometry.ErrNoMetadata
	}
	w := video.Width * guideCoverage
	h := w / t.Aspect
	if h > video.Height*guideCoverage {
		h = video.Height * guideCoverage
		w = h * t.Aspect
	}
	return geometry.Rect{
		Left:   video.Left + (video.Width-w)/2,
		Top:    video.Top + (video.Height-h)/2,
		Width:  w,
		Height: h,
	}, nil
}

// Overlay builds the overlay for video using the document's guide.
func Overlay(id string, video geometry.Rect) (geometry.Overlay, error) {
	guide, err := Guide(id, video)
	if err != nil {
		return geometry.Overlay{}, err
	}
	return geometry.Overlay{Guide: guide, Video: video}, nil
}
