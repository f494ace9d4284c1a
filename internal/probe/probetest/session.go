// Package probetest provides an in-memory BrowserSession for exercising the harness
// without a real browser. Pages are modelled as a set of elements keyed by selector.
package probetest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// Element is a fake DOM element. Rect is viewport relative.
type Element struct {
	Rect    schemas.Rect
	Styles  map[string]string
	Text    string
	Classes []string
	// Count overrides the number of matches reported for the selector (defaults to 1).
	Count int

	// Frames are consumed one per Inspect call and replace Rect, simulating an animation.
	Frames []schemas.Rect
	// Jitter toggles the x coordinate by one pixel on every Inspect, so the element never settles.
	Jitter bool

	OnClick func(s *Session)
	OnHover func(s *Session)
	OnType  func(s *Session, text string)

	jitterFlip bool
}

// Session is a scripted fake of schemas.BrowserSession. It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id       string
	viewport schemas.ViewportSpec
	order    []string
	elements map[string]*Element
	scrollX  float64
	scrollY  float64

	// OnNavigate runs on every successful Navigate, typically to reset page state.
	OnNavigate func(s *Session, url string)
	// OnViewport runs after every SetViewport, for layouts that depend on the window size.
	OnViewport func(s *Session, vp schemas.ViewportSpec)

	failOnce   map[string]error
	failAlways map[string]error

	calls       []string
	viewportLog []schemas.ViewportSpec
	closed      int
	screenshots int
	lastTyped   string
	navigations []string
}

var _ schemas.BrowserSession = (*Session)(nil)

// NewSession returns a fake session with the given initial viewport.
func NewSession(vp schemas.ViewportSpec) *Session {
	return &Session{
		id:         "fake-" + vp.Name,
		viewport:   vp,
		elements:   make(map[string]*Element),
		failOnce:   make(map[string]error),
		failAlways: make(map[string]error),
	}
}

// Set registers or replaces the element for selector. Later registrations sit on top
// when resolving click coordinates.
func (s *Session) Set(selector string, el Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(selector, el)
}

func (s *Session) setLocked(selector string, el Element) {
	if _, ok := s.elements[selector]; !ok {
		s.order = append(s.order, selector)
	}
	cp := el
	s.elements[selector] = &cp
}

// Remove deletes the element for selector.
func (s *Session) Remove(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(selector)
}

func (s *Session) removeLocked(selector string) {
	delete(s.elements, selector)
	for i, sel := range s.order {
		if sel == selector {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Mutate applies fn to the element for selector. It is intended for use inside
// OnClick/OnHover hooks, which already run under the session lock.
func (s *Session) Mutate(selector string, fn func(el *Element)) {
	if el, ok := s.elements[selector]; ok {
		fn(el)
	}
}

// SetUnlocked is Set for use inside hooks.
func (s *Session) SetUnlocked(selector string, el Element) { s.setLocked(selector, el) }

// RemoveUnlocked is Remove for use inside hooks.
func (s *Session) RemoveUnlocked(selector string) { s.removeLocked(selector) }

// FailOnce makes the next call to method return err.
func (s *Session) FailOnce(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[method] = err
}

// FailAlways makes every call to method return err.
func (s *Session) FailAlways(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAlways[method] = err
}

// FailAlwaysUnlocked is FailAlways for use inside hooks.
func (s *Session) FailAlwaysUnlocked(method string, err error) { s.failAlways[method] = err }

func (s *Session) record(method string) error {
	s.calls = append(s.calls, method)
	if err, ok := s.failOnce[method]; ok {
		delete(s.failOnce, method)
		return err
	}
	if err, ok := s.failAlways[method]; ok {
		return err
	}
	return nil
}

// Calls returns the method names invoked so far, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times method was invoked.
func (s *Session) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ViewportLog returns every viewport applied through SetViewport.
func (s *Session) ViewportLog() []schemas.ViewportSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.ViewportSpec(nil), s.viewportLog...)
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigations returns the URLs passed to Navigate.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// LastTyped returns the text of the most recent Type call.
func (s *Session) LastTyped() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTyped
}

// ID implements schemas.BrowserSession.
func (s *Session) ID() string { return s.id }

// Navigate implements schemas.BrowserSession.
func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Navigate"); err != nil {
		return err
	}
	s.navigations = append(s.navigations, url)
	s.scrollX, s.scrollY = 0, 0
	if s.OnNavigate != nil {
		s.OnNavigate(s, url)
	}
	return nil
}

// SetViewport implements schemas.BrowserSession.
func (s *Session) SetViewport(_ context.Context, vp schemas.ViewportSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetViewport"); err != nil {
		return err
	}
	s.viewport = vp
	s.viewportLog = append(s.viewportLog, vp)
	if s.OnViewport != nil {
		s.OnViewport(s, vp)
	}
	return nil
}

// Viewport implements schemas.BrowserSession.
func (s *Session) Viewport(_ context.Context) (schemas.ViewportSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Viewport"); err != nil {
		return schemas.ViewportSpec{}, err
	}
	return s.viewport, nil
}

// Inspect implements schemas.BrowserSession.
func (s *Session) Inspect(_ context.Context, selector string, properties []string) (*schemas.ElementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Inspect"); err != nil {
		return nil, err
	}
	state := &schemas.ElementState{
		ScrollX:        s.scrollX,
		ScrollY:        s.scrollY,
		ViewportWidth:  float64(s.viewport.Width),
		ViewportHeight: float64(s.viewport.Height),
	}
	el, ok := s.elements[selector]
	if !ok {
		return state, nil
	}
	if len(el.Frames) > 0 {
		el.Rect = el.Frames[0]
		el.Frames = el.Frames[1:]
	}
	rect := el.Rect
	if el.Jitter {
		if el.jitterFlip {
			rect.X++
		}
		el.jitterFlip = !el.jitterFlip
	}
	state.Count = el.Count
	if state.Count == 0 {
		state.Count = 1
	}
	state.ClientRect = rect
	state.Text = el.Text
	state.Classes = append([]string(nil), el.Classes...)
	state.Styles = make(map[string]string, len(properties))
	for _, p := range properties {
		state.Styles[p] = el.Styles[p]
	}
	return state, nil
}

// ScrollIntoView implements schemas.BrowserSession. The element is moved so its
// centre sits at the viewport centre, mirroring scrollIntoView({block:"center"}).
// Fake pages never scroll horizontally.
func (s *Session) ScrollIntoView(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ScrollIntoView"); err != nil {
		return err
	}
	el, ok := s.elements[selector]
	if !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	dy := el.Rect.Y + el.Rect.Height/2 - float64(s.viewport.Height)/2
	s.scrollY += dy
	for _, other := range s.elements {
		other.Rect.Y -= dy
	}
	return nil
}

// elementAt returns the topmost element whose rect contains p. Points outside the
// viewport hit nothing, like document.elementFromPoint.
func (s *Session) elementAt(p schemas.Point) *Element {
	vw, vh := float64(s.viewport.Width), float64(s.viewport.Height)
	if vw > 0 && vh > 0 && (p.X < 0 || p.Y < 0 || p.X >= vw || p.Y >= vh) {
		return nil
	}
	for i := len(s.order) - 1; i >= 0; i-- {
		el := s.elements[s.order[i]]
		r := el.Rect
		if p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height {
			return el
		}
	}
	return nil
}

// HitTest implements schemas.BrowserSession. An element whose rect lies inside the
// target's counts as a descendant.
func (s *Session) HitTest(_ context.Context, selector string, at schemas.Point) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("HitTest"); err != nil {
		return false, err
	}
	el, ok := s.elements[selector]
	if !ok {
		return false, fmt.Errorf("no element matches %q", selector)
	}
	hit := s.elementAt(at)
	if hit == nil {
		return false, nil
	}
	return hit == el || contains(el.Rect, hit.Rect), nil
}

func contains(outer, inner schemas.Rect) bool {
	return inner.X >= outer.X && inner.Y >= outer.Y &&
		inner.X+inner.Width <= outer.X+outer.Width &&
		inner.Y+inner.Height <= outer.Y+outer.Height
}

// PageState implements schemas.BrowserSession. The text hash covers every element's
// text in registration order. Fake pages have no scroll containers.
func (s *Session) PageState(_ context.Context, _ string) (*schemas.PageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("PageState"); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	for _, sel := range s.order {
		fmt.Fprintf(h, "%s\n", s.elements[sel].Text)
	}
	return &schemas.PageState{
		TextHash: fmt.Sprintf("%08x", h.Sum32()),
		ScrollX:  s.scrollX,
		ScrollY:  s.scrollY,
	}, nil
}

// Click implements schemas.BrowserSession.
func (s *Session) Click(_ context.Context, at schemas.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Click"); err != nil {
		return err
	}
	if el := s.elementAt(at); el != nil && el.OnClick != nil {
		el.OnClick(s)
	}
	return nil
}

// Hover implements schemas.BrowserSession.
func (s *Session) Hover(_ context.Context, at schemas.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Hover"); err != nil {
		return err
	}
	if el := s.elementAt(at); el != nil && el.OnHover != nil {
		el.OnHover(s)
	}
	return nil
}

// Type implements schemas.BrowserSession.
func (s *Session) Type(_ context.Context, selector string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Type"); err != nil {
		return err
	}
	el, ok := s.elements[selector]
	if !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	s.lastTyped = text
	if el.OnType != nil {
		el.OnType(s, text)
	}
	return nil
}

// Screenshot implements schemas.BrowserSession. It returns a minimal PNG signature
// followed by a counter so consecutive captures differ.
func (s *Session) Screenshot(_ context.Context, _ bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Screenshot"); err != nil {
		return nil, err
	}
	s.screenshots++
	return append([]byte("\x89PNG\r\n\x1a\n"), byte(s.screenshots)), nil
}

// Close implements schemas.BrowserSession.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.record("Close")
}

// Selectors lists registered selectors, sorted.
func (s *Session) Selectors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

// Factory hands out a fixed session. NewSession fails with Err when set.
type Factory struct {
	Session *Session
	Err     error

	mu       sync.Mutex
	opened   int
	shutdown int
}

var _ schemas.SessionFactory = (*Factory)(nil)

// NewSession implements schemas.SessionFactory.
func (f *Factory) NewSession(_ context.Context) (schemas.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.opened++
	return f.Session, nil
}

// Shutdown implements schemas.SessionFactory.
func (f *Factory) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	return nil
}

// Opened returns how many sessions were handed out.
func (f *Factory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}
