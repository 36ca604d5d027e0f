// Package frame holds the immutable pixel buffers produced for each accepted
// document side, together with the helpers used to decode incoming frames and
// encode accepted buffers for preview, download and submission.
package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/MeKo-Tech/idcap/internal/mempool"
	"github.com/disintegration/imaging"
)

// BytesPerPixel is the number of bytes per pixel in a Buffer (R, G, B, A).
const BytesPerPixel = 4

// ErrEmptyBuffer is returned when encoding a buffer with no pixels.
var ErrEmptyBuffer = errors.New("frame: empty buffer")

// Buffer is a row-major, non-premultiplied RGBA pixel array for one document
// side. A Buffer is never mutated after construction; retrying a side
// replaces it wholesale.
type Buffer struct {
	Width  int
	Height int
	Pix    []byte
}

// FromImage copies img into a new Buffer. The resulting origin is (0, 0)
// regardless of the bounds of img.
func FromImage(img image.Image) *Buffer {
	if img == nil {
		return &Buffer{}
	}
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return &Buffer{Width: b.Dx(), Height: b.Dy(), Pix: nrgba.Pix}
}

// FromNRGBA wraps the pixels of img without copying when the image is tightly
// packed, and copies otherwise. Callers must not modify img afterwards.
func FromNRGBA(img *image.NRGBA) *Buffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if img.Stride == w*BytesPerPixel && b.Min == (image.Point{}) {
		return &Buffer{Width: w, Height: h, Pix: img.Pix[:w*h*BytesPerPixel]}
	}
	return FromImage(img)
}

// Empty reports whether the buffer holds no pixels.
func (b *Buffer) Empty() bool {
	return b == nil || b.Width <= 0 || b.Height <= 0 || len(b.Pix) < b.Width*b.Height*BytesPerPixel
}

// Offset returns the index of the first byte of pixel (x, y).
func (b *Buffer) Offset(x, y int) int {
	return (y*b.Width + x) * BytesPerPixel
}

// RGB returns the color channels of pixel (x, y).
func (b *Buffer) RGB(x, y int) (r, g, bl uint8) {
	i := b.Offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// Image returns a copy of the buffer as an *image.NRGBA.
func (b *Buffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	copy(img.Pix, b.Pix)
	return img
}

// EncodePNG writes the buffer to w as a PNG.
func (b *Buffer) EncodePNG(w io.Writer) error {
	if b.Empty() {
		return ErrEmptyBuffer
	}
	if err := mempool.PNGEncoder().Encode(w, b.Image()); err != nil {
		return &DecodeError{Operation: "encode", Err: err}
	}
	return nil
}

// PNG returns the PNG encoding of the buffer.
func (b *Buffer) PNG() ([]byte, error) {
	buf := mempool.GetBuffer()
	defer mempool.PutBuffer(buf)
	if err := b.EncodePNG(buf); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Base64PNG returns the standard base64 encoding of the PNG bytes, without a
// data URL prefix.
func (b *Buffer) Base64PNG() (string, error) {
	buf := mempool.GetBuffer()
	defer mempool.PutBuffer(buf)
	if err := b.EncodePNG(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "frame<nil>"
	}
	return fmt.Sprintf("frame<%dx%d>", b.Width, b.Height)
}
