// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/browser/stealth"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

const startupTimeout = 30 * time.Second

// Manager owns the Chrome process and opens one tab per BrowserSession.
// The process is started lazily on the first NewSession.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	initOnce sync.Once
	initErr  error

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

var _ schemas.SessionFactory = (*Manager)(nil)

// NewManager creates a browser manager. Initialization is deferred until the first session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
	}
}

// initialize starts (or attaches to) the browser and checks that it responds.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		// The allocator outlives the caller's context; Shutdown ends it.
		base := context.WithoutCancel(ctx)
		if m.cfg.RemoteURL != "" {
			m.logger.Info("Attaching to remote browser.", zap.String("url", m.cfg.RemoteURL))
			m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(base, m.cfg.RemoteURL)
		} else {
			m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
			m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(base, m.buildAllocatorOptions()...)
		}

		probeCtx, cancelProbe := chromedp.NewContext(m.allocatorCtx)
		defer cancelProbe()
		timeoutCtx, cancelTimeout := context.WithTimeout(ctx, startupTimeout)
		defer cancelTimeout()
		runCtx, cancelRun := CombineContext(probeCtx, timeoutCtx)
		defer cancelRun()

		if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
			m.allocatorCancel()
			m.initErr = probe.SessionError("start browser", err)
			return
		}
		m.logger.Info("Browser is responsive.")
	})
	return m.initErr
}

// buildAllocatorOptions assembles the launch flags from configuration. Later flags
// override earlier ones, so the defaults are adjusted by appending.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("hide-scrollbars", m.cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
	)
	if m.cfg.Stealth {
		opts = append(opts,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Containers rarely allow the sandbox or a large /dev/shm.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// NewSession opens a tab. The returned session is released by its Close method.
func (m *Manager) NewSession(ctx context.Context) (schemas.BrowserSession, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)
	// The first Run allocates the target and must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, probe.SessionError("open tab", err)
	}

	if tasks := stealth.Tasks(stealth.FromConfig(m.cfg), m.cfg.Stealth, m.logger); len(tasks) > 0 {
		if err := chromedp.Run(tabCtx, tasks); err != nil {
			cancel()
			return nil, probe.SessionError("apply page persona", err)
		}
	}

	m.wg.Add(1)
	s := newSession(tabCtx, cancel, m.cfg.NavigationTimeout, m.logger, m.wg.Done)
	m.logger.Debug("Session opened.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown waits for open sessions, bounded by ctx, and then terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.allocatorCancel == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	m.allocatorCancel()
	<-m.allocatorCtx.Done()
	m.logger.Info("Browser shut down.")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("browser shutdown: %w", err)
	}
	return nil
}
