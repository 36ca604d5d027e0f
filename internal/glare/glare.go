// Package glare detects specular highlights in a captured document image.
//
// A pixel is a glare pixel when it is both bright (high channel sum) and
// desaturated (small spread between its strongest and weakest channel), which
// separates pure reflections from bright but colored printing. The verdict is
// advisory; it never blocks acceptance of a capture.
package glare

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/idcap/internal/frame"
)

// Report is the outcome of one analysis.
type Report struct {
	GlarePixels int     `json:"glare_pixel_count"`
	TotalPixels int     `json:"total_pixels_analyzed"`
	Percentage  float64 `json:"percentage"`
	Flagged     bool    `json:"flagged"`
}

func (r Report) String() string {
	return fmt.Sprintf("%d/%d glare pixels (%.3f%%, flagged=%t)", r.GlarePixels, r.TotalPixels, r.Percentage, r.Flagged)
}

// Region returns the part of a w x h buffer that is analyzed once the margin
// is trimmed from each edge.
func Region(w, h int, margin float64) image.Rectangle {
	mx := int(float64(w) * margin)
	my := int(float64(h) * margin)
	if w-2*mx <= 0 || h-2*my <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(mx, my, w-mx, h-my)
}

// IsGlare classifies a single pixel.
func IsGlare(r, g, b uint8, cfg Config) bool {
	sum := int(r) + int(g) + int(b)
	if sum <= cfg.SumThreshold {
		return false
	}
	return int(max(r, g, b))-int(min(r, g, b)) < cfg.SaturationThreshold
}

// Analyze runs the heuristic over buf. It is pure: the same buffer and
// configuration always produce the same report.
func Analyze(buf *frame.Buffer, cfg Config) Report {
	if buf.Empty() {
		return Report{}
	}
	region := Region(buf.Width, buf.Height, cfg.MarginFraction)
	total := region.Dx() * region.Dy()
	if total == 0 {
		return Report{}
	}

	glarePixels := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := buf.Offset(region.Min.X, y)
		end := buf.Offset(region.Max.X, y)
		for i := row; i < end; i += frame.BytesPerPixel {
			if IsGlare(buf.Pix[i], buf.Pix[i+1], buf.Pix[i+2], cfg) {
				glarePixels++
			}
		}
	}

	pct := float64(glarePixels) / float64(total) * 100
	return Report{
		GlarePixels: glarePixels,
		TotalPixels: total,
		Percentage:  pct,
		Flagged:     pct > cfg.FlagPercentThreshold,
	}
}

// AnalyzeImage converts img to a buffer and analyzes it.
func AnalyzeImage(img image.Image, cfg Config) Report {
	return Analyze(frame.FromImage(img), cfg)
}
