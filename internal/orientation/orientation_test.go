package orientation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViewportLandscape(t *testing.T) {
	tests := []struct {
		name string
		vp   Viewport
		want bool
	}{
		{"landscape", Viewport{Width: 1280, Height: 720}, true},
		{"portrait", Viewport{Width: 720, Height: 1280}, false},
		{"square", Viewport{Width: 800, Height: 800}, false},
		{"zero", Viewport{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.vp.Landscape())
		})
	}
}

func TestGuardAllows(t *testing.T) {
	g := NewGuard(Viewport{Width: 1920, Height: 1080})

	assert.True(t, g.Allows(true, true))
	assert.False(t, g.Allows(true, false), "not ready")
	assert.False(t, g.Allows(false, true), "inert outside waiting states")

	changed := g.Update(Viewport{Width: 1080, Height: 1920})
	assert.True(t, changed)
	assert.False(t, g.Allows(true, true), "portrait blocks capture")
	assert.True(t, g.NeedsRotation())

	changed = g.Update(Viewport{Width: 1000, Height: 1900})
	assert.False(t, changed, "still portrait")
}
