// Package interaction performs scripted UI actions and captures before/after state.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/geometry"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

const (
	DefaultSettleTimeout = 3 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultTolerance     = 0.5
)

// Settings are the run-wide settle wait parameters.
type Settings struct {
	SettleTimeout time.Duration
	PollInterval  time.Duration
	// Tolerance is the pixel distance under which two geometry readings are considered equal.
	Tolerance float64
}

func (s Settings) withDefaults() Settings {
	if s.SettleTimeout <= 0 {
		s.SettleTimeout = DefaultSettleTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Tolerance < 0 {
		s.Tolerance = 0
	}
	return s
}

// Options tune a single interaction.
type Options struct {
	// ID names the result so later assertions can refer to it.
	ID string
	// Observe is the selector whose state is compared before and after. When empty the
	// target is observed together with the page text and the scroll state around it.
	Observe string
	// Properties lists computed style properties included in the observation.
	Properties []string
	// SettleTimeout overrides Settings.SettleTimeout when positive.
	SettleTimeout time.Duration
}

// Driver clicks, hovers and types against a session, then waits for the page to settle.
type Driver struct {
	session   schemas.BrowserSession
	extractor *geometry.Extractor
	settings  Settings
	logger    *zap.Logger
	equal     cmp.Options
}

// NewDriver creates a Driver. Zero settings fall back to the package defaults.
func NewDriver(session schemas.BrowserSession, extractor *geometry.Extractor, settings Settings, logger *zap.Logger) *Driver {
	settings = settings.withDefaults()
	return &Driver{
		session:   session,
		extractor: extractor,
		settings:  settings,
		logger:    logger.Named("interaction"),
		equal:     SnapshotOptions(settings.Tolerance),
	}
}

// SnapshotOptions returns the comparison used for settle detection and change detection.
// Box coordinates compare within tolerance pixels; ratios and everything else compare exactly
// (ratios within 1e-6).
func SnapshotOptions(tolerance float64) cmp.Options {
	return cmp.Options{
		cmp.FilterPath(isPixelField, cmpopts.EquateApprox(0, tolerance)),
		cmp.FilterPath(func(p cmp.Path) bool { return !isPixelField(p) }, cmpopts.EquateApprox(0, 1e-6)),
		cmpopts.EquateEmpty(),
	}
}

func isPixelField(p cmp.Path) bool {
	sf, ok := p.Last().(cmp.StructField)
	if !ok {
		return false
	}
	switch sf.Name() {
	case "X", "Y", "Width", "Height", "ScrollX", "ScrollY", "ScrollLeft", "ScrollTop":
		return true
	}
	return false
}

// Equal reports whether two snapshots are indistinguishable under the driver's tolerance.
func (d *Driver) Equal(a, b schemas.Snapshot) bool {
	return cmp.Equal(a, b, d.equal)
}

// Click clicks the centre of the first element matching selector.
func (d *Driver) Click(ctx context.Context, selector string, opts Options) (*schemas.InteractionResult, error) {
	return d.Perform(ctx, schemas.ActionClick, selector, "", opts)
}

// Hover moves the pointer over the centre of the first element matching selector.
func (d *Driver) Hover(ctx context.Context, selector string, opts Options) (*schemas.InteractionResult, error) {
	return d.Perform(ctx, schemas.ActionHover, selector, "", opts)
}

// Type focuses the first element matching selector and types text.
func (d *Driver) Type(ctx context.Context, selector, text string, opts Options) (*schemas.InteractionResult, error) {
	return d.Perform(ctx, schemas.ActionTypeText, selector, text, opts)
}

// Perform runs one action. The target is scrolled into view when it is clipped, and a
// click or hover is refused with probe.ErrElementNotInteractable when the target is
// absent, has zero area, lies outside the viewport or is covered by another element.
// A settle timeout is not an error; the result carries Settled=false.
func (d *Driver) Perform(ctx context.Context, action schemas.ActionKind, selector, text string, opts Options) (*schemas.InteractionResult, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	target, err := d.target(ctx, action, selector)
	if err != nil {
		return nil, err
	}

	obs := observation{selector: opts.Observe, properties: opts.Properties}
	if obs.selector == "" {
		obs.selector = selector
		obs.page = true
	}
	before, err := d.observe(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("snapshot before %s: %w", action, err)
	}

	if err := d.act(ctx, action, selector, text, target.Rect); err != nil {
		return nil, err
	}

	timeout := d.settings.SettleTimeout
	if opts.SettleTimeout > 0 {
		timeout = opts.SettleTimeout
	}
	after, settled, err := d.settle(ctx, obs, timeout)
	if err != nil {
		return nil, fmt.Errorf("snapshot after %s: %w", action, err)
	}

	result := &schemas.InteractionResult{
		ID:       opts.ID,
		Action:   action,
		Selector: selector,
		Observed: obs.selector,
		Before:   before,
		After:    after,
		Changed:  !d.Equal(before, after),
		Settled:  settled,
	}
	d.logger.Debug("Interaction complete.",
		zap.String("action", string(action)),
		zap.String("selector", selector),
		zap.String("observed", obs.selector),
		zap.Bool("page_observed", obs.page),
		zap.Bool("changed", result.Changed),
		zap.Bool("settled", settled),
	)
	if !settled {
		d.logger.Info("Page did not settle before timeout.",
			zap.String("selector", obs.selector),
			zap.Duration("timeout", timeout),
		)
	}
	return result, nil
}

// target resolves the element an action is aimed at, scrolling it into view first when
// the viewport clips it.
func (d *Driver) target(ctx context.Context, action schemas.ActionKind, selector string) (geometry.Target, error) {
	t, err := d.locate(ctx, selector)
	if err != nil {
		return geometry.Target{}, err
	}
	if t.VisibleRatio < 1 {
		if err := d.session.ScrollIntoView(ctx, selector); err != nil {
			return geometry.Target{}, fmt.Errorf("scroll %q into view: %w", selector, err)
		}
		if t, err = d.locate(ctx, selector); err != nil {
			return geometry.Target{}, err
		}
		d.logger.Debug("Scrolled target into view.",
			zap.String("selector", selector),
			zap.Float64("visible_ratio", t.VisibleRatio),
		)
	}
	if action == schemas.ActionTypeText {
		return t, nil
	}

	if !t.CenterInViewport() {
		return geometry.Target{}, probe.NotInteractable(selector, "outside the viewport")
	}
	hit, err := d.session.HitTest(ctx, selector, t.Rect.Center())
	if err != nil {
		return geometry.Target{}, fmt.Errorf("hit test %q: %w", selector, err)
	}
	if !hit {
		return geometry.Target{}, probe.NotInteractable(selector, "covered by another element")
	}
	return t, nil
}

func (d *Driver) locate(ctx context.Context, selector string) (geometry.Target, error) {
	t, err := d.extractor.Locate(ctx, selector)
	if err != nil {
		if errors.Is(err, probe.ErrElementNotFound) {
			return geometry.Target{}, probe.NotInteractable(selector, "no matching element")
		}
		return geometry.Target{}, err
	}
	if t.Rect.Area() == 0 {
		return geometry.Target{}, probe.NotInteractable(selector, "zero area")
	}
	return t, nil
}

func (d *Driver) act(ctx context.Context, action schemas.ActionKind, selector, text string, rect schemas.Rect) error {
	var err error
	switch action {
	case schemas.ActionClick:
		err = d.session.Click(ctx, rect.Center())
	case schemas.ActionHover:
		err = d.session.Hover(ctx, rect.Center())
	case schemas.ActionTypeText:
		err = d.session.Type(ctx, selector, text)
	}
	if err != nil {
		return fmt.Errorf("%s %q: %w", action, selector, err)
	}
	return nil
}

// observation is what an interaction compares before and after.
type observation struct {
	selector   string
	properties []string
	// page adds the document text and the scroll state around selector.
	page bool
}

func (d *Driver) observe(ctx context.Context, obs observation) (schemas.Snapshot, error) {
	snap, err := d.extractor.Snapshot(ctx, obs.selector, obs.properties)
	if err != nil {
		return schemas.Snapshot{}, err
	}
	if obs.page {
		if snap.Page, err = d.extractor.Page(ctx, obs.selector); err != nil {
			return schemas.Snapshot{}, err
		}
	}
	return snap, nil
}

// settle polls the observation until two consecutive snapshots, spaced by the poll
// interval, are equal, or until timeout elapses. On timeout it returns the last snapshot
// with settled=false.
func (d *Driver) settle(ctx context.Context, obs observation, timeout time.Duration) (schemas.Snapshot, bool, error) {
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(d.settings.PollInterval), 1)
	limiter.Allow()

	last, err := d.observe(ctx, obs)
	if err != nil {
		return schemas.Snapshot{}, false, err
	}
	polls := 1
	for {
		// Wait fails early when the next tick would overshoot the deadline.
		if err := limiter.Wait(settleCtx); err != nil {
			d.logger.Debug("Settle wait expired.", zap.String("selector", obs.selector), zap.Int("polls", polls))
			return last, false, nil
		}
		next, err := d.observe(ctx, obs)
		if err != nil {
			return last, false, err
		}
		polls++
		if d.Equal(last, next) {
			return next, true, nil
		}
		last = next
	}
}
