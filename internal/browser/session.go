// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/browser/pagescript"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	// operationTimeout bounds every other browser round trip. A tab that does not
	// answer within it is treated as hung.
	operationTimeout = 20 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errSessionClosed is returned by calls made after Close.
var errSessionClosed = errors.New("session is closed")

// Session is one Chrome tab driven over CDP. It implements schemas.BrowserSession.
type Session struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	navTimeout time.Duration
	onClose    func()

	mu       sync.Mutex
	viewport *schemas.ViewportSpec
	closed   bool
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, navTimeout time.Duration, logger *zap.Logger, onClose func()) *Session {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	id := uuid.New().String()
	return &Session{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.Named("session").With(zap.String("session_id", id)),
		navTimeout: navTimeout,
		onClose:    onClose,
	}
}

// ID implements schemas.BrowserSession.
func (s *Session) ID() string { return s.id }

// runActions executes actions on the tab, bounded by ctx and timeout.
// Every failure here is a transport failure; callers decide how to classify it.
func (s *Session) runActions(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}

	opCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	runCtx, cancel := CombineContext(s.ctx, opCtx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %v: %w", timeout, err)
	}
	return err
}

// evaluate runs expr and stores the raw JSON result in out.
func (s *Session) evaluate(ctx context.Context, expr string, out *[]byte) error {
	return s.runActions(ctx, operationTimeout, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
}

// evalError classifies an evaluation failure. An exception thrown by page-side script
// leaves the browser healthy and is not fatal; anything else is a transport failure.
func evalError(op string, err error) error {
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return probe.PageScriptError(op, err)
	}
	return probe.SessionError(op, err)
}

// Navigate implements schemas.BrowserSession. A page that fails to load is a
// navigation failure; a tab that is gone is a session failure.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	err := s.runActions(ctx, s.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil || errors.Is(err, errSessionClosed) {
		return probe.SessionError("navigate", err)
	}
	return fmt.Errorf("%w: %s: %w", probe.ErrNavigation, url, err)
}

// SetViewport implements schemas.BrowserSession.
func (s *Session) SetViewport(ctx context.Context, vp schemas.ViewportSpec) error {
	var action chromedp.Action
	if vp.Name == schemas.NativeViewportName {
		action = emulation.ClearDeviceMetricsOverride()
	} else {
		action = chromedp.EmulateViewport(vp.Width, vp.Height)
	}
	if err := s.runActions(ctx, operationTimeout, action); err != nil {
		return probe.SessionError("set viewport "+vp.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if vp.Name == schemas.NativeViewportName {
		s.viewport = nil
	} else {
		cp := vp
		s.viewport = &cp
	}
	return nil
}

// Viewport implements schemas.BrowserSession. Before any override it reports the
// window's own size under NativeViewportName.
func (s *Session) Viewport(ctx context.Context) (schemas.ViewportSpec, error) {
	s.mu.Lock()
	if s.viewport != nil {
		vp := *s.viewport
		s.mu.Unlock()
		return vp, nil
	}
	s.mu.Unlock()

	var raw []byte
	if err := s.evaluate(ctx, pagescript.Viewport(), &raw); err != nil {
		return schemas.ViewportSpec{}, probe.SessionError("read viewport", err)
	}
	var size pagescript.ViewportSize
	if err := json.Unmarshal(raw, &size); err != nil {
		return schemas.ViewportSpec{}, probe.SessionError("read viewport", err)
	}
	return schemas.ViewportSpec{
		Name:   schemas.NativeViewportName,
		Width:  int64(size.Width),
		Height: int64(size.Height),
	}, nil
}

// Inspect implements schemas.BrowserSession.
func (s *Session) Inspect(ctx context.Context, selector string, properties []string) (*schemas.ElementState, error) {
	expr, err := pagescript.Inspect(selector, properties)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.evaluate(ctx, expr, &raw); err != nil {
		return nil, evalError("inspect", err)
	}
	return pagescript.DecodeState(selector, raw)
}

// ScrollIntoView implements schemas.BrowserSession.
func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	expr, err := pagescript.ScrollIntoView(selector)
	if err != nil {
		return err
	}
	var raw []byte
	if err := s.evaluate(ctx, expr, &raw); err != nil {
		return evalError("scroll into view", err)
	}
	c, err := pagescript.DecodeCheck(selector, raw)
	if err != nil {
		return err
	}
	if !c.Found {
		return probe.NotFound(selector)
	}
	return nil
}

// HitTest implements schemas.BrowserSession.
func (s *Session) HitTest(ctx context.Context, selector string, at schemas.Point) (bool, error) {
	expr, err := pagescript.HitTest(selector, at.X, at.Y)
	if err != nil {
		return false, err
	}
	var raw []byte
	if err := s.evaluate(ctx, expr, &raw); err != nil {
		return false, evalError("hit test", err)
	}
	c, err := pagescript.DecodeCheck(selector, raw)
	if err != nil {
		return false, err
	}
	if !c.Found {
		return false, probe.NotFound(selector)
	}
	return c.OK, nil
}

// PageState implements schemas.BrowserSession.
func (s *Session) PageState(ctx context.Context, selector string) (*schemas.PageState, error) {
	expr, err := pagescript.PageState(selector)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.evaluate(ctx, expr, &raw); err != nil {
		return nil, evalError("page state", err)
	}
	return pagescript.DecodePageState(selector, raw)
}

// Click implements schemas.BrowserSession.
func (s *Session) Click(ctx context.Context, at schemas.Point) error {
	if err := s.runActions(ctx, operationTimeout, chromedp.MouseClickXY(at.X, at.Y)); err != nil {
		return probe.SessionError("click", err)
	}
	return nil
}

// Hover implements schemas.BrowserSession.
func (s *Session) Hover(ctx context.Context, at schemas.Point) error {
	if err := s.runActions(ctx, operationTimeout, input.DispatchMouseEvent(input.MouseMoved, at.X, at.Y)); err != nil {
		return probe.SessionError("hover", err)
	}
	return nil
}

// Type implements schemas.BrowserSession. The element is focused by script rather than
// by chromedp's query actions, which wait indefinitely for a missing node.
func (s *Session) Type(ctx context.Context, selector string, text string) error {
	expr, err := pagescript.Focus(selector)
	if err != nil {
		return err
	}
	var raw []byte
	if err := s.evaluate(ctx, expr, &raw); err != nil {
		return evalError("focus", err)
	}
	c, err := pagescript.DecodeCheck(selector, raw)
	if err != nil {
		return err
	}
	if !c.Found {
		return probe.NotInteractable(selector, "no matching element")
	}
	if !c.OK {
		return probe.NotInteractable(selector, "cannot focus")
	}
	if err := s.runActions(ctx, operationTimeout, chromedp.KeyEvent(text)); err != nil {
		return probe.SessionError("type", err)
	}
	return nil
}

// Screenshot implements schemas.BrowserSession.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps the capture lossless PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.runActions(ctx, operationTimeout, action); err != nil {
		return nil, probe.SessionError("screenshot", err)
	}
	return buf, nil
}

// Close implements schemas.BrowserSession. It closes the tab and is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// chromedp.Cancel closes the target gracefully; the deferred cancel makes sure the
	// context is released even when the browser is already gone.
	closeCtx, cancel := CombineContext(Detach(s.ctx), ctx)
	defer cancel()
	err := chromedp.Cancel(closeCtx)
	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Tab did not close cleanly.", zap.Error(err))
		return probe.SessionError("close", err)
	}
	s.logger.Debug("Session closed.")
	return nil
}
