// Package geometry measures element boxes, visibility and computed styles on a live page.
package geometry

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

// Extractor reads geometry from a browser session. Every call queries the page afresh;
// nothing is cached across calls or navigations.
type Extractor struct {
	session schemas.BrowserSession
	logger  *zap.Logger
}

// NewExtractor creates an Extractor bound to session.
func NewExtractor(session schemas.BrowserSession, logger *zap.Logger) *Extractor {
	return &Extractor{
		session: session,
		logger:  logger.Named("geometry"),
	}
}

// VisibleRatio returns the fraction of rect (viewport relative) that intersects the
// viewport rectangle [0,0]x[width,height]. Zero-area rectangles yield 0.
func VisibleRatio(rect schemas.Rect, viewportWidth, viewportHeight float64) float64 {
	area := rect.Area()
	if area == 0 {
		return 0
	}
	left := math.Max(rect.X, 0)
	top := math.Max(rect.Y, 0)
	right := math.Min(rect.X+rect.Width, viewportWidth)
	bottom := math.Min(rect.Y+rect.Height, viewportHeight)
	if right <= left || bottom <= top {
		return 0
	}
	ratio := (right - left) * (bottom - top) / area
	// Clamp floating point drift.
	return math.Min(math.Max(ratio, 0), 1)
}

// FromState converts a raw element state into page-coordinate geometry.
func FromState(state *schemas.ElementState) *schemas.ElementGeometry {
	r := state.ClientRect
	return &schemas.ElementGeometry{
		X:            r.X + state.ScrollX,
		Y:            r.Y + state.ScrollY,
		Width:        r.Width,
		Height:       r.Height,
		VisibleRatio: VisibleRatio(r, state.ViewportWidth, state.ViewportHeight),
	}
}

func (e *Extractor) inspect(ctx context.Context, selector string, properties []string) (*schemas.ElementState, error) {
	state, err := e.session.Inspect(ctx, selector, properties)
	if err != nil {
		return nil, fmt.Errorf("inspect %q: %w", selector, err)
	}
	if state == nil {
		state = &schemas.ElementState{}
	}
	return state, nil
}

// Measure returns the geometry of the first element matching selector. When nothing
// matches it returns an error wrapping probe.ErrElementNotFound.
func (e *Extractor) Measure(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	state, err := e.inspect(ctx, selector, nil)
	if err != nil {
		return nil, err
	}
	if state.Count == 0 {
		e.logger.Debug("Selector matched no elements.", zap.String("selector", selector))
		return nil, probe.NotFound(selector)
	}
	geom := FromState(state)
	e.logger.Debug("Measured element.",
		zap.String("selector", selector),
		zap.Float64("x", geom.X),
		zap.Float64("y", geom.Y),
		zap.Float64("width", geom.Width),
		zap.Float64("height", geom.Height),
		zap.Float64("visible_ratio", geom.VisibleRatio),
	)
	return geom, nil
}

// Target is the pointer-targeting view of an element: its viewport-relative box and
// how much of it the viewport shows.
type Target struct {
	Rect           schemas.Rect
	VisibleRatio   float64
	ViewportWidth  float64
	ViewportHeight float64
}

// CenterInViewport reports whether a pointer event at the box centre lands inside the
// viewport.
func (t Target) CenterInViewport() bool {
	c := t.Rect.Center()
	return c.X >= 0 && c.Y >= 0 && c.X < t.ViewportWidth && c.Y < t.ViewportHeight
}

// Locate returns the pointer target for the first match.
func (e *Extractor) Locate(ctx context.Context, selector string) (Target, error) {
	state, err := e.inspect(ctx, selector, nil)
	if err != nil {
		return Target{}, err
	}
	if state.Count == 0 {
		return Target{}, probe.NotFound(selector)
	}
	return Target{
		Rect:           state.ClientRect,
		VisibleRatio:   VisibleRatio(state.ClientRect, state.ViewportWidth, state.ViewportHeight),
		ViewportWidth:  state.ViewportWidth,
		ViewportHeight: state.ViewportHeight,
	}, nil
}

// Page fingerprints the document text and reads the window scroll offsets together with
// the scroll state of the container around selector.
func (e *Extractor) Page(ctx context.Context, selector string) (*schemas.PageState, error) {
	page, err := e.session.PageState(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("page state: %w", err)
	}
	return page, nil
}

// ComputedStyle returns the requested computed style properties of the first match.
func (e *Extractor) ComputedStyle(ctx context.Context, selector string, properties []string) (map[string]string, error) {
	state, err := e.inspect(ctx, selector, properties)
	if err != nil {
		return nil, err
	}
	if state.Count == 0 {
		return nil, probe.NotFound(selector)
	}
	styles := make(map[string]string, len(properties))
	for _, p := range properties {
		styles[p] = state.Styles[p]
	}
	return styles, nil
}

// Classes returns the class list of the first match.
func (e *Extractor) Classes(ctx context.Context, selector string) ([]string, error) {
	state, err := e.inspect(ctx, selector, nil)
	if err != nil {
		return nil, err
	}
	if state.Count == 0 {
		return nil, probe.NotFound(selector)
	}
	return state.Classes, nil
}

// Count returns how many elements match selector.
func (e *Extractor) Count(ctx context.Context, selector string) (int, error) {
	state, err := e.inspect(ctx, selector, nil)
	if err != nil {
		return 0, err
	}
	return state.Count, nil
}

// Snapshot captures geometry, the given style properties and text content of the
// first match. Absence is reported through Snapshot.Found rather than an error.
func (e *Extractor) Snapshot(ctx context.Context, selector string, properties []string) (schemas.Snapshot, error) {
	state, err := e.inspect(ctx, selector, properties)
	if err != nil {
		return schemas.Snapshot{}, err
	}
	if state.Count == 0 {
		return schemas.Snapshot{Found: false}, nil
	}
	snap := schemas.Snapshot{
		Found:    true,
		Geometry: FromState(state),
		Text:     state.Text,
	}
	if len(properties) > 0 {
		snap.Styles = make(map[string]string, len(properties))
		for _, p := range properties {
			snap.Styles[p] = state.Styles[p]
		}
	}
	return snap, nil
}
