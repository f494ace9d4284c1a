// internal/browser/rodsession/rodsession.go

// Package rodsession is the go-rod implementation of schemas.BrowserSession, selected
// with browser.driver=rod. It shares its page scripts with the chromedp backend.
package rodsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/browser/pagescript"
	"github.com/xkilldash9x/uiprobe/internal/browser/stealth"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	operationTimeout         = 20 * time.Second
)

var errSessionClosed = errors.New("session is closed")

// Launcher starts (or attaches to) Chrome through go-rod and hands out pages.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	wg      sync.WaitGroup
}

var _ schemas.SessionFactory = (*Launcher)(nil)

// NewLauncher returns a Launcher. Chrome is started on the first NewSession.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger.Named("rod")}
}

func (l *Launcher) connect(ctx context.Context) (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil {
		return l.browser, nil
	}

	wsURL := l.cfg.RemoteURL
	if wsURL == "" {
		ln := launcher.New().Context(context.WithoutCancel(ctx)).Headless(l.cfg.Headless)
		if l.cfg.ExecPath != "" {
			ln = ln.Bin(l.cfg.ExecPath)
		}
		if l.cfg.Stealth {
			ln = ln.Set("disable-blink-features", "AutomationControlled")
		}
		for _, arg := range l.cfg.Args {
			name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
			if hasValue {
				ln = ln.Set(flags.Flag(name), value)
			} else {
				ln = ln.Set(flags.Flag(name))
			}
		}
		u, err := ln.Launch()
		if err != nil {
			return nil, probe.SessionError("launch browser", err)
		}
		wsURL = u
		l.lnch = ln
		l.logger.Info("Launched local browser.", zap.String("url", wsURL))
	} else {
		l.logger.Info("Attaching to remote browser.", zap.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l.lnch != nil {
			l.lnch.Kill()
			l.lnch = nil
		}
		return nil, probe.SessionError("connect browser", err)
	}
	l.browser = b
	return b, nil
}

// NewSession implements schemas.SessionFactory.
func (l *Launcher) NewSession(ctx context.Context) (schemas.BrowserSession, error) {
	b, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if l.cfg.Stealth {
		page, err = rodstealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, probe.SessionError("open tab", err)
	}
	if err := applyPersona(page, stealth.FromConfig(l.cfg)); err != nil {
		_ = page.Close()
		return nil, probe.SessionError("apply page persona", err)
	}

	navTimeout := l.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	l.wg.Add(1)
	id := uuid.New().String()
	return &Session{
		id:         id,
		page:       page,
		logger:     l.logger.With(zap.String("session_id", id)),
		navTimeout: navTimeout,
		onClose:    l.wg.Done,
	}, nil
}

// applyPersona is the rod counterpart of stealth.Tasks, minus the evasions which
// rodstealth.Page already installed.
func applyPersona(page *rod.Page, p stealth.Persona) error {
	al := p.AcceptLanguage()
	if p.UserAgent != "" {
		err := proto.NetworkSetUserAgentOverride{UserAgent: p.UserAgent, AcceptLanguage: al}.Call(page)
		if err != nil {
			return fmt.Errorf("user agent override: %w", err)
		}
	} else if al != "" {
		if _, err := page.SetExtraHeaders([]string{"Accept-Language", al}); err != nil {
			return fmt.Errorf("accept-language header: %w", err)
		}
	}
	if p.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.Timezone}).Call(page); err != nil {
			return fmt.Errorf("timezone override: %w", err)
		}
	}
	if p.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: p.Locale}).Call(page); err != nil {
			return fmt.Errorf("locale override: %w", err)
		}
	}
	return nil
}

// Shutdown waits for open sessions, bounded by ctx, then closes the browser.
func (l *Launcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		l.browser = nil
	}
	if l.lnch != nil {
		l.lnch.Kill()
		l.lnch.Cleanup()
		l.lnch = nil
	}
	return errors.Join(errs...)
}

// Session is one rod page.
type Session struct {
	id         string
	page       *rod.Page
	logger     *zap.Logger
	navTimeout time.Duration
	onClose    func()

	mu       sync.Mutex
	viewport *schemas.ViewportSpec
	closed   bool
}

var _ schemas.BrowserSession = (*Session)(nil)

// ID implements schemas.BrowserSession.
func (s *Session) ID() string { return s.id }

// scoped returns the page bound to ctx with a deadline, and its release func.
func (s *Session) scoped(ctx context.Context, timeout time.Duration) (*rod.Page, func(), error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, errSessionClosed
	}
	p := s.page.Context(ctx).Timeout(timeout)
	return p, func() { p.CancelTimeout() }, nil
}

func (s *Session) eval(ctx context.Context, fn string, args ...any) ([]byte, error) {
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := p.Eval(fn, args...)
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

// evalError keeps an exception thrown by page-side script out of the fatal session
// class. The tab is still usable after one.
func evalError(op string, err error) error {
	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) {
		return probe.PageScriptError(op, err)
	}
	return probe.SessionError(op, err)
}

// Navigate implements schemas.BrowserSession.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p, release, err := s.scoped(ctx, s.navTimeout)
	if err != nil {
		return probe.SessionError("navigate", err)
	}
	defer release()

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %w", probe.ErrNavigation, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: %s: wait load: %w", probe.ErrNavigation, url, err)
	}
	return nil
}

// SetViewport implements schemas.BrowserSession.
func (s *Session) SetViewport(ctx context.Context, vp schemas.ViewportSpec) error {
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return probe.SessionError("set viewport", err)
	}
	defer release()

	var override *proto.EmulationSetDeviceMetricsOverride
	if vp.Name != schemas.NativeViewportName {
		override = &proto.EmulationSetDeviceMetricsOverride{
			Width:             int(vp.Width),
			Height:            int(vp.Height),
			DeviceScaleFactor: 1,
		}
	}
	if err := p.SetViewport(override); err != nil {
		return probe.SessionError("set viewport "+vp.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if override == nil {
		s.viewport = nil
	} else {
		cp := vp
		s.viewport = &cp
	}
	return nil
}

// Viewport implements schemas.BrowserSession.
func (s *Session) Viewport(ctx context.Context) (schemas.ViewportSpec, error) {
	s.mu.Lock()
	if s.viewport != nil {
		vp := *s.viewport
		s.mu.Unlock()
		return vp, nil
	}
	s.mu.Unlock()

	raw, err := s.eval(ctx, pagescript.ViewportFunction())
	if err != nil {
		return schemas.ViewportSpec{}, probe.SessionError("read viewport", err)
	}
	var size pagescript.ViewportSize
	if err := json.Unmarshal(raw, &size); err != nil {
		return schemas.ViewportSpec{}, probe.SessionError("read viewport", err)
	}
	return schemas.ViewportSpec{Name: schemas.NativeViewportName, Width: int64(size.Width), Height: int64(size.Height)}, nil
}

// Inspect implements schemas.BrowserSession.
func (s *Session) Inspect(ctx context.Context, selector string, properties []string) (*schemas.ElementState, error) {
	if properties == nil {
		properties = []string{}
	}
	raw, err := s.eval(ctx, pagescript.InspectFunction(), selector, properties)
	if err != nil {
		return nil, evalError("inspect", err)
	}
	return pagescript.DecodeState(selector, raw)
}

// check evaluates one of the found/ok page scripts against selector.
func (s *Session) check(ctx context.Context, op, fn, selector string, args ...any) (pagescript.Check, error) {
	raw, err := s.eval(ctx, fn, append([]any{selector}, args...)...)
	if err != nil {
		return pagescript.Check{}, evalError(op, err)
	}
	return pagescript.DecodeCheck(selector, raw)
}

// ScrollIntoView implements schemas.BrowserSession.
func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	c, err := s.check(ctx, "scroll into view", pagescript.ScrollFunction(), selector)
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
	c, err := s.check(ctx, "hit test", pagescript.HitTestFunction(), selector, at.X, at.Y)
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
	raw, err := s.eval(ctx, pagescript.PageStateFunction(), selector)
	if err != nil {
		return nil, evalError("page state", err)
	}
	return pagescript.DecodePageState(selector, raw)
}

// Click implements schemas.BrowserSession.
func (s *Session) Click(ctx context.Context, at schemas.Point) error {
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return probe.SessionError("click", err)
	}
	defer release()
	if err := p.Mouse.MoveTo(proto.Point{X: at.X, Y: at.Y}); err != nil {
		return probe.SessionError("click", err)
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return probe.SessionError("click", err)
	}
	return nil
}

// Hover implements schemas.BrowserSession.
func (s *Session) Hover(ctx context.Context, at schemas.Point) error {
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return probe.SessionError("hover", err)
	}
	defer release()
	if err := p.Mouse.MoveTo(proto.Point{X: at.X, Y: at.Y}); err != nil {
		return probe.SessionError("hover", err)
	}
	return nil
}

// Type implements schemas.BrowserSession.
func (s *Session) Type(ctx context.Context, selector string, text string) error {
	c, err := s.check(ctx, "focus", pagescript.FocusFunction(), selector)
	if err != nil {
		return err
	}
	if !c.Found {
		return probe.NotInteractable(selector, "no matching element")
	}
	if !c.OK {
		return probe.NotInteractable(selector, "cannot focus")
	}
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return probe.SessionError("type", err)
	}
	defer release()
	if err := p.InsertText(text); err != nil {
		return probe.SessionError("type", err)
	}
	return nil
}

// Screenshot implements schemas.BrowserSession.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p, release, err := s.scoped(ctx, operationTimeout)
	if err != nil {
		return nil, probe.SessionError("screenshot", err)
	}
	defer release()
	img, err := p.Screenshot(fullPage, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, probe.SessionError("screenshot", err)
	}
	return img, nil
}

// Close implements schemas.BrowserSession.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.page.Close()
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil {
		s.logger.Warn("Page did not close cleanly.", zap.Error(err))
		return probe.SessionError("close", err)
	}
	return nil
}
