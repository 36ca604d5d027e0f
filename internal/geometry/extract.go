package geometry

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/disintegration/imaging"
)

// Extract copies the crop region of img into a new buffer sized exactly to
// the crop, with no resampling. Parts of the crop that fall outside img stay
// transparent.
func Extract(img image.Image, c Crop) (*frame.Buffer, error) {
	if img == nil {
		return nil, ErrNoMetadata
	}
	rect := c.Rect()
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	bounds := img.Bounds()
	if rect.Dx() > bounds.Dx()*MaxCropScale || rect.Dy() > bounds.Dy()*MaxCropScale {
		return nil, ErrCropOutOfRange
	}
	// Crop coordinates are relative to the frame origin.
	src := rect.Add(bounds.Min).Intersect(bounds)

	dst := imaging.New(rect.Dx(), rect.Dy(), color.Transparent)
	if !src.Empty() {
		part := imaging.Crop(img, src)
		offset := src.Min.Sub(bounds.Min).Sub(rect.Min)
		dst = imaging.Paste(dst, part, offset)
	}
	return frame.FromNRGBA(dst), nil
}

// Clamp returns the crop rectangle intersected with a frame of the given
// size, for callers that want to report the usable area.
func Clamp(c Crop, frameWidth, frameHeight int) image.Rectangle {
	r := c.Rect()
	return image.Rect(
		clampInt(r.Min.X, 0, frameWidth),
		clampInt(r.Min.Y, 0, frameHeight),
		clampInt(r.Max.X, 0, frameWidth),
		clampInt(r.Max.Y, 0, frameHeight),
	)
}
