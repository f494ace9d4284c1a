package schemas

import (
	"context"
)

// -- Browser Session Schemas --

// Point is a coordinate in CSS pixels relative to the viewport.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NativeViewportName labels the window size a session starts with, before any
// override is applied. Setting a viewport with this name clears the override.
const NativeViewportName = "native"

// ElementState is the raw, page-side view of the first element matching a selector.
// Count is zero when nothing matched; in that case every other field is empty.
type ElementState struct {
	Count int `json:"count"`
	// ClientRect is relative to the viewport (getBoundingClientRect).
	ClientRect     Rect              `json:"rect"`
	ScrollX        float64           `json:"scrollX"`
	ScrollY        float64           `json:"scrollY"`
	ViewportWidth  float64           `json:"viewportWidth"`
	ViewportHeight float64           `json:"viewportHeight"`
	Styles         map[string]string `json:"styles"`
	Text           string            `json:"text"`
	Classes        []string          `json:"classes"`
	// Error is the page-side exception raised by the selector, e.g. a CSS syntax error.
	Error string `json:"error,omitempty"`
}

// BrowserSession is the headless browser capability the harness is given.
// The run loop owns it exclusively: it is opened once per run and closed on every
// exit path. Nothing below the run loop opens or closes a session.
type BrowserSession interface {
	// ID returns a unique identifier for the session.
	ID() string
	// Navigate loads the URL and waits until the document body is ready.
	Navigate(ctx context.Context, url string) error
	// SetViewport resizes the page, triggering a layout reflow.
	SetViewport(ctx context.Context, vp ViewportSpec) error
	// Viewport returns the viewport currently applied to the page.
	Viewport(ctx context.Context) (ViewportSpec, error)
	// Inspect returns the state of the first element matching selector.
	// Properties lists the computed style properties to capture.
	Inspect(ctx context.Context, selector string, properties []string) (*ElementState, error)
	// ScrollIntoView scrolls the first matching element to the viewport centre.
	ScrollIntoView(ctx context.Context, selector string) error
	// HitTest reports whether the topmost element at the given viewport point is the
	// first match for selector or one of its descendants.
	HitTest(ctx context.Context, selector string, at Point) (bool, error)
	// PageState observes the page as a whole, plus the container of the first match
	// for selector when there is one.
	PageState(ctx context.Context, selector string) (*PageState, error)
	// Click dispatches a left mouse click at the given viewport point.
	Click(ctx context.Context, at Point) error
	// Hover moves the mouse pointer to the given viewport point.
	Hover(ctx context.Context, at Point) error
	// Type focuses the element matching selector and types text into it.
	Type(ctx context.Context, selector string, text string) error
	// Screenshot captures the viewport (or full page) as PNG bytes.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	// Close releases the session. It is safe to call more than once.
	Close(ctx context.Context) error
}

// SessionFactory opens browser sessions. Only the run loop calls it.
type SessionFactory interface {
	NewSession(ctx context.Context) (BrowserSession, error)
	// Shutdown releases the underlying browser process.
	Shutdown(ctx context.Context) error
}
