package geometry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/geometry"
	"github.com/xkilldash9x/uiprobe/internal/probe"
	"github.com/xkilldash9x/uiprobe/internal/probe/probetest"
)

var mobile = schemas.ViewportSpec{Name: "Mobile", Width: 375, Height: 667}

func TestVisibleRatio(t *testing.T) {
	tests := []struct {
		name string
		rect schemas.Rect
		want float64
	}{
		{"fully inside", schemas.Rect{X: 10, Y: 10, Width: 100, Height: 100}, 1},
		{"exactly the viewport", schemas.Rect{X: 0, Y: 0, Width: 375, Height: 667}, 1},
		{"fully below", schemas.Rect{X: 0, Y: 700, Width: 100, Height: 100}, 0},
		{"fully left", schemas.Rect{X: -200, Y: 0, Width: 100, Height: 100}, 0},
		{"touching the right edge", schemas.Rect{X: 375, Y: 0, Width: 50, Height: 50}, 0},
		{"half off the top", schemas.Rect{X: 0, Y: -50, Width: 100, Height: 100}, 0.5},
		{"eighty percent inside", schemas.Rect{X: 0, Y: 587, Width: 100, Height: 100}, 0.8},
		{"larger than viewport", schemas.Rect{X: 0, Y: 0, Width: 750, Height: 667}, 0.5},
		{"zero width", schemas.Rect{X: 10, Y: 10, Width: 0, Height: 100}, 0},
		{"zero height", schemas.Rect{X: 10, Y: 10, Width: 100, Height: 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geometry.VisibleRatio(tt.rect, 375, 667)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestExtractor_Measure(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set(".first-item", probetest.Element{Rect: schemas.Rect{X: 20, Y: 587, Width: 300, Height: 100}})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	t.Run("found element reports page coordinates", func(t *testing.T) {
		geom, err := ext.Measure(ctx, ".first-item")
		require.NoError(t, err)
		assert.Equal(t, 20.0, geom.X)
		assert.Equal(t, 587.0, geom.Y)
		assert.Equal(t, 300.0, geom.Width)
		assert.InDelta(t, 0.8, geom.VisibleRatio, 1e-6)
	})

	t.Run("missing element returns NotFound", func(t *testing.T) {
		geom, err := ext.Measure(ctx, ".does-not-exist")
		assert.Nil(t, geom)
		require.Error(t, err)
		assert.ErrorIs(t, err, probe.ErrElementNotFound)
		assert.Equal(t, probe.KindNotFound, probe.KindOf(err))
	})

	t.Run("session failure is propagated", func(t *testing.T) {
		boom := errors.New("socket closed")
		session.FailOnce("Inspect", boom)
		_, err := ext.Measure(ctx, ".first-item")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, probe.ErrElementNotFound)
	})
}

func TestExtractor_ScrollOffsetsArePageCoordinates(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set("#projects", probetest.Element{Rect: schemas.Rect{X: 0, Y: 1500, Width: 375, Height: 200}})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	before, err := ext.Measure(ctx, "#projects")
	require.NoError(t, err)
	assert.Zero(t, before.VisibleRatio)

	require.NoError(t, session.ScrollIntoView(ctx, "#projects"))
	after, err := ext.Measure(ctx, "#projects")
	require.NoError(t, err)
	assert.InDelta(t, before.Y, after.Y, 1e-6, "page y must not move when scrolling")
	assert.InDelta(t, 1.0, after.VisibleRatio, 1e-6)
}

func TestExtractor_StylesClassesAndCount(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set(".dot.active", probetest.Element{
		Rect:    schemas.Rect{X: 10, Y: 10, Width: 8, Height: 8},
		Styles:  map[string]string{"background-color": "rgb(96, 165, 250)", "opacity": "1"},
		Classes: []string{"dot", "bg-blue-400"},
	})
	session.Set(".dot", probetest.Element{Rect: schemas.Rect{X: 10, Y: 10, Width: 8, Height: 8}, Count: 5})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	styles, err := ext.ComputedStyle(ctx, ".dot.active", []string{"background-color", "transform"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"background-color": "rgb(96, 165, 250)", "transform": ""}, styles)

	classes, err := ext.Classes(ctx, ".dot.active")
	require.NoError(t, err)
	assert.Contains(t, classes, "bg-blue-400")

	n, err := ext.Count(ctx, ".dot")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = ext.Count(ctx, ".slide")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = ext.ComputedStyle(ctx, ".slide", []string{"opacity"})
	assert.ErrorIs(t, err, probe.ErrElementNotFound)
}

func TestExtractor_Snapshot(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set("h3", probetest.Element{
		Rect:   schemas.Rect{X: 0, Y: 100, Width: 200, Height: 30},
		Text:   "Project One",
		Styles: map[string]string{"opacity": "1"},
	})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	snap, err := ext.Snapshot(ctx, "h3", []string{"opacity"})
	require.NoError(t, err)
	assert.True(t, snap.Found)
	assert.Equal(t, "Project One", snap.Text)
	assert.Equal(t, "1", snap.Styles["opacity"])
	require.NotNil(t, snap.Geometry)
	assert.Equal(t, 200.0, snap.Geometry.Width)

	missing, err := ext.Snapshot(ctx, "h4", nil)
	require.NoError(t, err, "absence is not an error for snapshots")
	assert.False(t, missing.Found)
	assert.Nil(t, missing.Geometry)
}

func TestExtractor_Locate(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set(".first-item", probetest.Element{Rect: schemas.Rect{X: 20, Y: 587, Width: 300, Height: 100}})
	session.Set(".wide", probetest.Element{Rect: schemas.Rect{X: 300, Y: 10, Width: 200, Height: 40}})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	target, err := ext.Locate(ctx, ".first-item")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, target.VisibleRatio, 1e-6)
	assert.True(t, target.CenterInViewport())

	target, err = ext.Locate(ctx, ".wide")
	require.NoError(t, err)
	assert.False(t, target.CenterInViewport(), "centre x=400 is past a 375px viewport")

	_, err = ext.Locate(ctx, ".missing")
	assert.ErrorIs(t, err, probe.ErrElementNotFound)
}

func TestExtractor_PageTracksTextAndScroll(t *testing.T) {
	ctx := context.Background()
	session := probetest.NewSession(mobile)
	session.Set("h3", probetest.Element{Rect: schemas.Rect{X: 0, Y: 900, Width: 300, Height: 40}, Text: "Project One"})
	ext := geometry.NewExtractor(session, zaptest.NewLogger(t))

	first, err := ext.Page(ctx, "h3")
	require.NoError(t, err)
	again, err := ext.Page(ctx, "h3")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	session.Set("h3", probetest.Element{Rect: schemas.Rect{X: 0, Y: 900, Width: 300, Height: 40}, Text: "Project Two"})
	changed, err := ext.Page(ctx, "h3")
	require.NoError(t, err)
	assert.NotEqual(t, first.TextHash, changed.TextHash)

	require.NoError(t, session.ScrollIntoView(ctx, "h3"))
	scrolled, err := ext.Page(ctx, "h3")
	require.NoError(t, err)
	assert.Equal(t, changed.TextHash, scrolled.TextHash)
	assert.Greater(t, scrolled.ScrollY, 0.0)
}
