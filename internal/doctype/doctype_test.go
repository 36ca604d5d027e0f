package doctype

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcap/internal/geometry"
)

func TestLookup(t *testing.T) {
	for _, id := range []string{INE, License, OldCitizen, Passport} {
		typ, err := Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, id, typ.ID)
		assert.True(t, Valid(id))
	}

	_, err := Lookup("visa")
	var unknown *UnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "visa", unknown.ID)
	assert.False(t, Valid("visa"))
	assert.Len(t, All(), 4)
	assert.Equal(t, INE, All()[0].ID)
}

func TestGuide(t *testing.T) {
	t.Run("wide video is height limited", func(t *testing.T) {
		video := geometry.Rect{Left: 10, Top: 20, Width: 1600, Height: 600}
		g, err := Guide(INE, video)
		require.NoError(t, err)
		assert.InDelta(t, 480, g.Height, 1e-9)
		assert.InDelta(t, 480*85.6/54, g.Width, 1e-9)
		assert.InDelta(t, video.Left+video.Width/2, g.Left+g.Width/2, 1e-9)
		assert.InDelta(t, video.Top+video.Height/2, g.Top+g.Height/2, 1e-9)
	})

	t.Run("narrow video is width limited", func(t *testing.T) {
		video := geometry.Rect{Width: 640, Height: 480}
		g, err := Guide(Passport, video)
		require.NoError(t, err)
		assert.InDelta(t, 512, g.Width, 1e-9)
		assert.InDelta(t, 512*88.0/125, g.Height, 1e-9)
		assert.LessOrEqual(t, g.Height, video.Height*0.8)
	})

	t.Run("guide keeps the aspect ratio", func(t *testing.T) {
		g, err := Guide(License, geometry.Rect{Width: 1280, Height: 720})
		require.NoError(t, err)
		assert.Less(t, math.Abs(g.Width/g.Height-85.6/54), 1e-9)
	})

	t.Run("degenerate video", func(t *testing.T) {
		_, err := Guide(INE, geometry.Rect{})
		assert.ErrorIs(t, err, geometry.ErrNoMetadata)
	})

	t.Run("overlay", func(t *testing.T) {
		video := geometry.Rect{Width: 1280, Height: 720}
		o, err := Overlay(INE, video)
		require.NoError(t, err)
		assert.Equal(t, video, o.Video)
		_, err = Overlay("visa", video)
		assert.Error(t, err)
	})
}
