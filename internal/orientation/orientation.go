// Package orientation gates the capture action on the viewport orientation.
// Document guides are laid out for landscape, so capture is only offered
// while the viewport is wider than it is tall.
package orientation

import "fmt"

// Viewport holds the two orthogonal extents of the display area.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Landscape reports whether the viewport is wider than it is tall.
func (v Viewport) Landscape() bool {
	return v.Width > v.Height
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Guard tracks the latest viewport and decides whether capture is allowed.
type Guard struct {
	viewport Viewport
}

// NewGuard returns a guard seeded with an initial viewport.
func NewGuard(initial Viewport) *Guard {
	return &Guard{viewport: initial}
}

// Update records a resize or orientation change. It reports whether the
// landscape flag changed.
func (g *Guard) Update(v Viewport) bool {
	was := g.viewport.Landscape()
	g.viewport = v
	return was != v.Landscape()
}

// Viewport returns the latest viewport.
func (g *Guard) Viewport() Viewport { return g.viewport }

// Landscape reports the current orientation.
func (g *Guard) Landscape() bool { return g.viewport.Landscape() }

// Allows reports whether capture may be enabled. Outside a capture-waiting
// state the guard is inert and always answers false.
func (g *Guard) Allows(waiting, ready bool) bool {
	return waiting && ready && g.Landscape()
}

// NeedsRotation reports whether the user should be asked to rotate the
// device.
func (g *Guard) NeedsRotation() bool {
	return !g.Landscape()
}
