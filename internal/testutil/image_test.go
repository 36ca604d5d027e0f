package testutil

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardRect(t *testing.T) {
	cfg := DefaultDocumentConfig()
	card := CardRect(cfg)

	// 640x400: height limits, 320 tall and 507 wide.
	assert.Equal(t, 320, card.Dy())
	assert.Equal(t, 507, card.Dx())
	assert.Equal(t, 66, card.Min.X)
	assert.Equal(t, 40, card.Min.Y)
}

func TestGenerateDocumentFrame(t *testing.T) {
	cfg := DefaultDocumentConfig()
	img := GenerateDocumentFrame(cfg)
	require.Equal(t, cfg.Size.Width, img.Bounds().Dx())
	require.Equal(t, cfg.Size.Height, img.Bounds().Dy())

	assert.Equal(t, color.NRGBA{40, 40, 40, 255}, img.NRGBAAt(0, 0))
	card := CardRect(cfg)
	assert.Equal(t, color.NRGBA{200, 215, 235, 255}, img.NRGBAAt(card.Max.X-2, card.Max.Y-2))
}

func TestGenerateDocumentFrameGlare(t *testing.T) {
	cfg := DefaultDocumentConfig()
	cfg.Glare = 0.5
	img := GenerateDocumentFrame(cfg)

	card := CardRect(cfg)
	c := img.NRGBAAt((card.Min.X+card.Max.X)/2, (card.Min.Y+card.Max.Y)/2)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, c)
}

func TestWriteFrames(t *testing.T) {
	dir := t.TempDir()
	clean := DefaultDocumentConfig()
	glare := DefaultDocumentConfig()
	glare.Glare = 0.6

	paths, err := WriteFrames(dir, clean, glare)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "frame_01.png"), paths[0])

	img := LoadImage(t, paths[1])
	assert.Equal(t, MediumSize.Width, img.Bounds().Dx())
}

func TestPNGBytes(t *testing.T) {
	data := PNGBytes(t, CreateTestImage(4, 3, color.White))
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}
