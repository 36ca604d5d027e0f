// Package geometry maps a region of interest expressed in display
// coordinates onto the native pixel grid of a video frame.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrNoMetadata means the frame source has not reported its dimensions
	// yet, or the displayed video box is degenerate.
	ErrNoMetadata = errors.New("geometry: frame metadata not available")

	// ErrEmptyCrop means the guide maps to a region with no whole pixels.
	ErrEmptyCrop = errors.New("geometry: crop rectangle is empty")

	// ErrCropOutOfRange means the guide misses the frame entirely or maps to
	// a crop more than MaxCropScale times the frame. It matches ErrEmptyCrop.
	ErrCropOutOfRange = fmt.Errorf("%w: guide outside the usable range", ErrEmptyCrop)
)

// MaxCropScale bounds each crop dimension to this multiple of the matching
// frame dimension.
const MaxCropScale = 4

// maxCoord bounds crop coordinates before they are converted to int.
const maxCoord = 1 << 24

// Rect is an axis-aligned box in display coordinates (CSS pixels).
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the right edge of the box.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the bottom edge of the box.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Valid reports whether the box has a positive, finite area.
func (r Rect) Valid() bool {
	return r.finite() && r.Width > 0 && r.Height > 0
}

func (r Rect) finite() bool {
	for _, v := range []float64{r.Left, r.Top, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (r Rect) String() string {
	return fmt.Sprintf("%.1f,%.1f %.1fx%.1f", r.Left, r.Top, r.Width, r.Height)
}

// Overlay pairs the on-screen document guide with the displayed bounds of the
// video element it is drawn over. It is recomputed for every capture attempt
// because layout may change in between.
type Overlay struct {
	Guide Rect `json:"guide"`
	Video Rect `json:"video"`
}

// Crop is a region of the native frame, in source pixels.
type Crop struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	ScaleX float64
	ScaleY float64
}

// CropFor maps the overlay guide onto a frame of frameWidth x frameHeight
// native pixels. The horizontal and vertical scale factors are independent.
// The crop may extend past the frame but must overlap it and stay within
// MaxCropScale times its size.
func CropFor(o Overlay, frameWidth, frameHeight int) (Crop, error) {
	if frameWidth <= 0 || frameHeight <= 0 || !o.Video.Valid() {
		return Crop{}, ErrNoMetadata
	}
	if !o.Guide.finite() {
		return Crop{}, ErrCropOutOfRange
	}

	scaleX := float64(frameWidth) / o.Video.Width
	scaleY := float64(frameHeight) / o.Video.Height

	c := Crop{
		X:      (o.Guide.Left - o.Video.Left) * scaleX,
		Y:      (o.Guide.Top - o.Video.Top) * scaleY,
		Width:  o.Guide.Width * scaleX,
		Height: o.Guide.Height * scaleY,
		ScaleX: scaleX,
		ScaleY: scaleY,
	}
	fw, fh := float64(frameWidth), float64(frameHeight)
	if c.Width > fw*MaxCropScale || c.Height > fh*MaxCropScale {
		return Crop{}, ErrCropOutOfRange
	}
	if c.Width >= 1 && c.Height >= 1 && !c.overlaps(fw, fh) {
		return Crop{}, ErrCropOutOfRange
	}
	if c.Rect().Empty() {
		return Crop{}, ErrEmptyCrop
	}
	return c, nil
}

// overlaps reports whether the integer crop shares a pixel with a frame of
// fw x fh, using the same rounding as Rect.
func (c Crop) overlaps(fw, fh float64) bool {
	x, y := math.Floor(c.X), math.Floor(c.Y)
	return x < fw && y < fh && x+math.Trunc(c.Width) > 0 && y+math.Trunc(c.Height) > 0
}

// Rect converts the crop to integer pixels. The origin is floored and the
// size truncated, the same way a canvas dimension assignment behaves.
func (c Crop) Rect() image.Rectangle {
	if math.IsNaN(c.Width) || math.IsNaN(c.Height) || c.Width < 1 || c.Height < 1 {
		return image.Rectangle{}
	}
	for _, v := range []float64{c.X, c.Y, c.X + c.Width, c.Y + c.Height} {
		if math.IsNaN(v) || math.Abs(v) > maxCoord {
			return image.Rectangle{}
		}
	}
	x := int(math.Floor(c.X))
	y := int(math.Floor(c.Y))
	return image.Rect(x, y, x+int(c.Width), y+int(c.Height))
}

// Scale returns the crop with every coordinate multiplied by (sx, sy).
func (c Crop) Scale(sx, sy float64) Crop {
	return Crop{
		X:      c.X * sx,
		Y:      c.Y * sy,
		Width:  c.Width * sx,
		Height: c.Height * sy,
		ScaleX: c.ScaleX * sx,
		ScaleY: c.ScaleY * sy,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
