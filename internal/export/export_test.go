package export

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcap/internal/frame"
)

func side(c color.Color) *frame.Buffer {
	return frame.FromImage(imaging.New(86, 54, c))
}

func TestPDF(t *testing.T) {
	data, err := PDFBytes(side(color.White), side(color.Black))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	pages, err := api.PageCount(bytes.NewReader(data), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestPDFSkipsMissingSides(t *testing.T) {
	data, err := PDFBytes(side(color.White), nil)
	require.NoError(t, err)
	pages, err := api.PageCount(bytes.NewReader(data), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	_, err = PDFBytes(nil, &frame.Buffer{})
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestSavePNGs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := SavePNGs(dir, "ine", side(color.White), side(color.Black))
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "ID_ine_FRONT.png", filepath.Base(paths[0]))
	assert.Equal(t, "ID_ine_REVERSO.png", filepath.Base(paths[1]))

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = SavePNGs(dir, "ine", nil, nil)
	assert.ErrorIs(t, err, ErrNoPages)
}
