package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents frame dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common frame sizes.
	SmallSize  = ImageSize{320, 200}
	MediumSize = ImageSize{640, 400}
	HDSize     = ImageSize{1280, 720}
)

// ID1Aspect is the width over height of an ID-1 card.
const ID1Aspect = 85.6 / 54.0

// DocumentConfig describes a synthetic camera frame showing a card.
type DocumentConfig struct {
	Size       ImageSize
	Aspect     float64
	Coverage   float64 // share of the limiting frame dimension the card spans
	Background color.Color
	CardColor  color.Color
	InkColor   color.Color
	Lines      []string
	// Glare is the diameter of a saturated white spot as a share of the
	// card width. Zero draws no spot.
	Glare    float64
	Rotation float64
}

// DefaultDocumentConfig returns a clean landscape frame with a centered card.
func DefaultDocumentConfig() DocumentConfig {
	return DocumentConfig{
		Size:       MediumSize,
		Aspect:     ID1Aspect,
		Coverage:   0.8,
		Background: color.NRGBA{40, 40, 40, 255},
		CardColor:  color.NRGBA{200, 215, 235, 255},
		InkColor:   color.Black,
		Lines:      []string{"IDENTIFICATION CARD", "NAME: SAMPLE PERSON", "ID: 0123456789"},
	}
}

// CardRect returns the card's position in the frame: centered, with the
// configured aspect, spanning Coverage of the limiting dimension.
func CardRect(cfg DocumentConfig) image.Rectangle {
	fw, fh := float64(cfg.Size.Width), float64(cfg.Size.Height)
	w := fw * cfg.Coverage
	h := w / cfg.Aspect
	if h > fh*cfg.Coverage {
		h = fh * cfg.Coverage
		w = h * cfg.Aspect
	}
	x0 := int((fw - w) / 2)
	y0 := int((fh - h) / 2)
	return image.Rect(x0, y0, x0+int(w), y0+int(h))
}

// GenerateDocumentFrame renders the frame described by cfg.
func GenerateDocumentFrame(cfg DocumentConfig) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	card := CardRect(cfg)
	draw.Draw(img, card, &image.Uniform{cfg.CardColor}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 4
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.InkColor}, Face: face}
	for i, line := range cfg.Lines {
		drawer.Dot = fixed.P(card.Min.X+card.Dx()/10, card.Min.Y+card.Dy()/5+(i+1)*lineHeight)
		drawer.DrawString(line)
	}

	if cfg.Glare > 0 {
		drawSpot(img, card, cfg.Glare)
	}

	if cfg.Rotation != 0 {
		return imaging.Rotate(img, cfg.Rotation, cfg.Background)
	}
	return img
}

func drawSpot(img *image.NRGBA, card image.Rectangle, share float64) {
	r := float64(card.Dx()) * share / 2
	cx := float64(card.Min.X+card.Max.X) / 2
	cy := float64(card.Min.Y+card.Max.Y) / 2
	white := color.NRGBA{255, 255, 255, 255}
	for y := card.Min.Y; y < card.Max.Y; y++ {
		for x := card.Min.X; x < card.Max.X; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if dx*dx+dy*dy <= r*r {
				img.SetNRGBA(x, y, white)
			}
		}
	}
}

// CreateTestImage creates a uniform image.
func CreateTestImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// EncodePNG returns the PNG encoding of img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNGBytes is EncodePNG for tests.
func PNGBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := EncodePNG(img)
	require.NoError(t, err, "Failed to encode PNG image")
	return data
}

// WriteImageFile writes img as a PNG file, creating parent directories.
func WriteImageFile(img image.Image, path string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, WriteImageFile(img, path), "Failed to save image %s", path)
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}

// WriteFrames writes one PNG per config into dir, named frame_NN.png in
// order, and returns the paths.
func WriteFrames(dir string, cfgs ...DocumentConfig) ([]string, error) {
	paths := make([]string, 0, len(cfgs))
	for i, cfg := range cfgs {
		path := filepath.Join(dir, fmt.Sprintf("frame_%02d.png", i+1))
		if err := WriteImageFile(GenerateDocumentFrame(cfg), path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FramesDir writes the frames into a fresh temporary directory.
func FramesDir(t *testing.T, cfgs ...DocumentConfig) string {
	t.Helper()
	dir := t.TempDir()
	_, err := WriteFrames(dir, cfgs...)
	require.NoError(t, err, "Failed to write frames")
	return dir
}
