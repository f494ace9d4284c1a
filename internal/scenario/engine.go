package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/geometry"
	"github.com/xkilldash9x/uiprobe/internal/interaction"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

// ScreenshotWriter persists PNG captures and returns the path recorded in the report.
type ScreenshotWriter interface {
	WriteScreenshot(name string, data []byte) (string, error)
}

// Options configure an Engine.
type Options struct {
	Settle interaction.Settings
	// FullPage forces full page captures for every screenshot step.
	FullPage bool
}

// Engine runs scenarios against one browser session. It never opens or closes the session.
type Engine struct {
	session   schemas.BrowserSession
	extractor *geometry.Extractor
	driver    *interaction.Driver
	shots     ScreenshotWriter
	fullPage  bool
	logger    *zap.Logger
}

// NewEngine wires an extractor and driver around session.
func NewEngine(session schemas.BrowserSession, shots ScreenshotWriter, opts Options, logger *zap.Logger) *Engine {
	ext := geometry.NewExtractor(session, logger)
	return &Engine{
		session:   session,
		extractor: ext,
		driver:    interaction.NewDriver(session, ext, opts.Settle, logger),
		shots:     shots,
		fullPage:  opts.FullPage,
		logger:    logger.Named("scenario"),
	}
}

// run is the mutable state of one scenario execution.
type run struct {
	scenario     Scenario
	viewport     schemas.ViewportSpec
	result       schemas.ScenarioResult
	interactions map[string]*schemas.InteractionResult
	last         *schemas.InteractionResult
	// step is the index of the executing step.
	step int
	// shots holds the screenshot names already written by this run.
	shots map[string]bool
}

// Run executes the scenario's steps in order against the current viewport.
//
// A failing step records the error in the result and skips the remaining steps. The
// returned error is non-nil only for conditions that must stop the whole run: a fatal
// browser error, or cancellation observed between steps (probe.ErrCancelled).
func (e *Engine) Run(ctx context.Context, sc Scenario, vp schemas.ViewportSpec) (schemas.ScenarioResult, error) {
	r := &run{
		scenario: sc,
		viewport: vp,
		result: schemas.ScenarioResult{
			Name:       sc.Name,
			Viewport:   vp,
			Assertions: []schemas.Assertion{},
		},
		interactions: make(map[string]*schemas.InteractionResult),
		shots:        make(map[string]bool),
	}
	logger := e.logger.With(zap.String("scenario", sc.Name), zap.Stringer("viewport", vp))
	// In-flight browser calls are never interrupted.
	callCtx := context.WithoutCancel(ctx)

	for i, step := range sc.Steps {
		if err := probe.Cancelled(ctx); err != nil {
			r.result.Error = err.Error()
			r.result.ErrorKind = string(probe.KindCancelled)
			r.result.Status = schemas.StatusCancelled
			logger.Info("Scenario cancelled.", zap.Int("next_step", i))
			return r.result, err
		}

		r.step = i
		if err := e.exec(callCtx, r, step); err != nil {
			stepErr := &probe.StepError{Index: i, Step: step.Kind(), Err: err}
			r.result.Error = stepErr.Error()
			r.result.ErrorKind = string(stepErr.Kind())
			r.result.Status = schemas.StatusErrored
			if probe.IsFatal(err) {
				logger.Error("Fatal error in scenario.", zap.Int("step", i), zap.Error(err))
				return r.result, stepErr
			}
			logger.Warn("Step failed, skipping the rest of the scenario.",
				zap.Int("step", i),
				zap.String("type", step.Kind()),
				zap.Int("skipped", len(sc.Steps)-i-1),
				zap.Error(err),
			)
			return r.result, nil
		}
	}

	r.result.Status = schemas.StatusPassed
	if r.result.FailedAssertions() > 0 {
		r.result.Status = schemas.StatusFailed
	}
	logger.Debug("Scenario finished.",
		zap.String("status", string(r.result.Status)),
		zap.Int("assertions", len(r.result.Assertions)),
	)
	return r.result, nil
}

func (e *Engine) exec(ctx context.Context, r *run, step Step) error {
	switch s := step.(type) {
	case Measure:
		return e.measure(ctx, r, s)
	case Interact:
		return e.interact(ctx, r, s)
	case AssertVisibility:
		return e.assertVisibility(ctx, r, s)
	case AssertChanged:
		return e.assertChanged(r, s)
	case Screenshot:
		return e.screenshot(ctx, r, s)
	case ScrollIntoView:
		return e.scrollIntoView(ctx, s)
	case AssertStyle:
		return e.assertStyle(ctx, r, s)
	case AssertClass:
		return e.assertClass(ctx, r, s)
	case AssertCount:
		return e.assertCount(ctx, r, s)
	}
	return fmt.Errorf("unsupported step %T", step)
}

func (e *Engine) measure(ctx context.Context, r *run, s Measure) error {
	geom, err := e.extractor.Measure(ctx, s.Selector)
	if errors.Is(err, probe.ErrElementNotFound) {
		r.result.Measurements = append(r.result.Measurements, schemas.Measurement{Selector: s.Selector, Found: false})
		return nil
	}
	if err != nil {
		return err
	}
	r.result.Measurements = append(r.result.Measurements, schemas.Measurement{Selector: s.Selector, Found: true, Geometry: geom})
	return nil
}

func (e *Engine) interact(ctx context.Context, r *run, s Interact) error {
	res, err := e.driver.Perform(ctx, s.Action, s.Selector, s.Text, interaction.Options{
		ID:            s.ID,
		Observe:       s.Observe,
		Properties:    s.Properties,
		SettleTimeout: s.SettleTimeout,
	})
	if err != nil {
		return err
	}
	r.result.Interactions = append(r.result.Interactions, *res)
	if s.ID != "" {
		r.interactions[s.ID] = res
	}
	r.last = res
	return nil
}

func (e *Engine) assertVisibility(ctx context.Context, r *run, s AssertVisibility) error {
	desc := fmt.Sprintf("%s is at least %s visible", s.Selector, percent(s.MinRatio))
	geom, err := e.extractor.Measure(ctx, s.Selector)
	if errors.Is(err, probe.ErrElementNotFound) {
		r.assert(desc, false, absent())
		return nil
	}
	if err != nil {
		return err
	}
	ratio := round6(geom.VisibleRatio)
	r.assert(desc, geom.VisibleRatio >= s.MinRatio, map[string]any{"visibleRatio": ratio})
	return nil
}

func (e *Engine) assertChanged(r *run, s AssertChanged) error {
	res := r.last
	label := "last interaction"
	if s.Ref != "" {
		res = r.interactions[s.Ref]
		label = fmt.Sprintf("interaction %q", s.Ref)
	}
	if res == nil {
		return fmt.Errorf("no %s to assert on", label)
	}
	verb := "changes"
	if !s.Expected {
		verb = "does not change"
	}
	observed := res.Observed
	if res.Before.Page != nil {
		observed = "the page"
	}
	desc := fmt.Sprintf("%s on %s %s %s", res.Action, res.Selector, verb, observed)
	r.assert(desc, res.Changed == s.Expected, map[string]any{"changed": res.Changed})
	return nil
}

func (e *Engine) screenshot(ctx context.Context, r *run, s Screenshot) error {
	if e.shots == nil {
		return fmt.Errorf("no screenshot writer configured")
	}
	data, err := e.session.Screenshot(ctx, s.FullPage || e.fullPage)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	path, err := e.shots.WriteScreenshot(r.screenshotName(s.Name), data)
	if err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	r.result.Screenshots = append(r.result.Screenshots, path)
	r.result.ScreenshotPath = path
	return nil
}

func (e *Engine) scrollIntoView(ctx context.Context, s ScrollIntoView) error {
	n, err := e.extractor.Count(ctx, s.Selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return probe.NotFound(s.Selector)
	}
	if err := e.session.ScrollIntoView(ctx, s.Selector); err != nil {
		return fmt.Errorf("scroll %q into view: %w", s.Selector, err)
	}
	return nil
}

func (e *Engine) assertStyle(ctx context.Context, r *run, s AssertStyle) error {
	desc := fmt.Sprintf("%s has %s: %s", s.Selector, s.Property, s.Expected)
	styles, err := e.extractor.ComputedStyle(ctx, s.Selector, []string{s.Property})
	if errors.Is(err, probe.ErrElementNotFound) {
		r.assert(desc, false, absent())
		return nil
	}
	if err != nil {
		return err
	}
	actual := styles[s.Property]
	r.assert(desc, actual == s.Expected, map[string]any{
		"property": s.Property,
		"expected": s.Expected,
		"actual":   actual,
	})
	return nil
}

func (e *Engine) assertClass(ctx context.Context, r *run, s AssertClass) error {
	desc := fmt.Sprintf("%s has class %s", s.Selector, s.Class)
	if !s.Present {
		desc = fmt.Sprintf("%s lacks class %s", s.Selector, s.Class)
	}
	classes, err := e.extractor.Classes(ctx, s.Selector)
	if errors.Is(err, probe.ErrElementNotFound) {
		r.assert(desc, false, absent())
		return nil
	}
	if err != nil {
		return err
	}
	has := slices.Contains(classes, s.Class)
	r.assert(desc, has == s.Present, map[string]any{"class": s.Class, "present": has})
	return nil
}

func (e *Engine) assertCount(ctx context.Context, r *run, s AssertCount) error {
	n, err := e.extractor.Count(ctx, s.Selector)
	if err != nil {
		return err
	}
	r.assert(fmt.Sprintf("%s matches %d element(s)", s.Selector, s.Count), n == s.Count, map[string]any{
		"expected": s.Count,
		"actual":   n,
	})
	return nil
}

// screenshotName returns the file name for a capture, adding the step index when an
// earlier step of the same run already used the name.
func (r *run) screenshotName(suffix string) string {
	name := ScreenshotName(r.scenario.Name, r.viewport.Name, suffix)
	if r.shots[name] {
		indexed := strconv.Itoa(r.step)
		if suffix != "" {
			indexed = suffix + "-" + indexed
		}
		name = ScreenshotName(r.scenario.Name, r.viewport.Name, indexed)
	}
	r.shots[name] = true
	return name
}

func (r *run) assert(desc string, passed bool, details map[string]any) {
	r.result.Assertions = append(r.result.Assertions, schemas.Assertion{
		Description: desc,
		Passed:      passed,
		Details:     details,
	})
}

func absent() map[string]any {
	return map[string]any{"reason": "element absent"}
}

// round6 trims float noise so identical layouts serialise identically.
func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

func percent(ratio float64) string {
	return fmt.Sprintf("%g%%", round6(ratio*100))
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScreenshotName returns the PNG file name for a capture:
// {scenario}-{viewport}.png, or {scenario}-{viewport}-{suffix}.png.
func ScreenshotName(scenario, viewport, suffix string) string {
	parts := []string{scenario, viewport}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	for i, p := range parts {
		parts[i] = unsafeName.ReplaceAllString(p, "_")
	}
	return strings.Join(parts, "-") + ".png"
}
