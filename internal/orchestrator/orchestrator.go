// File: internal/orchestrator/orchestrator.go
// Description: The outer run loop. It owns the browser session for the whole run and
// drives every (scenario, viewport) pair through the viewport matrix and scenario engine.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/history"
	"github.com/xkilldash9x/uiprobe/internal/interaction"
	"github.com/xkilldash9x/uiprobe/internal/observability"
	"github.com/xkilldash9x/uiprobe/internal/probe"
	"github.com/xkilldash9x/uiprobe/internal/reporting"
	"github.com/xkilldash9x/uiprobe/internal/scenario"
	"github.com/xkilldash9x/uiprobe/internal/viewport"
)

// closeTimeout bounds session release, which runs even after cancellation.
const closeTimeout = 10 * time.Second

// Recorder stores finished runs. The history store satisfies it.
type Recorder interface {
	Record(ctx context.Context, run history.Run, report schemas.Report) error
}

// Outcome is what a single run produced.
type Outcome struct {
	RunID   string
	Target  string
	Report  schemas.Report
	Written reporting.WrittenReport
	// Err is the fatal error or probe.ErrCancelled that stopped the run early, if any.
	Err error
}

// Passed is the CI gate: the run finished and every scenario result passed.
func (o *Outcome) Passed() bool {
	return o.Err == nil && o.Report.Passed()
}

// Orchestrator runs the configured scenarios against targets.
type Orchestrator struct {
	cfg       config.ProbeConfig
	scenarios []scenario.Scenario
	factory   schemas.SessionFactory
	fs        afero.Fs
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New validates the scenarios and returns an Orchestrator. recorder may be nil.
func New(cfg config.ProbeConfig, factory schemas.SessionFactory, fs afero.Fs, recorder Recorder, logger *zap.Logger) (*Orchestrator, error) {
	if factory == nil || fs == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	scenarios, err := scenario.CompileAll(cfg.Scenarios)
	if err != nil {
		return nil, fmt.Errorf("invalid scenarios: %w", err)
	}
	return &Orchestrator{
		cfg:       cfg,
		scenarios: scenarios,
		factory:   factory,
		fs:        fs,
		recorder:  recorder,
		logger:    logger.Named("orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunAll runs every target concurrently, each on its own session and with no shared
// page state. With more than one target, each writes into its own subdirectory of the
// output directory. Outcomes are returned in target order.
func (o *Orchestrator) RunAll(ctx context.Context, targets []string) ([]*Outcome, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target URL given")
	}
	outcomes := make([]*Outcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		dir := o.cfg.OutputDir
		if len(targets) > 1 {
			dir = filepath.Join(dir, Slug(target))
		}
		g.Go(func() error {
			out, err := o.Run(gctx, target, dir)
			outcomes[i] = out
			// Only infrastructure failures stop sibling targets; a fatal page error is
			// that target's own outcome.
			if err != nil && !probe.IsFatal(err) && !errors.Is(err, probe.ErrCancelled) {
				return fmt.Errorf("%s: %w", target, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return outcomes, err
}

// Run executes the full matrix for one target and writes the report into dir.
//
// The session is opened once and closed on every exit path. The returned error is the
// outcome's Err, or an artifact write failure.
func (o *Orchestrator) Run(ctx context.Context, target, dir string) (*Outcome, error) {
	runID := uuid.New().String()
	logger := observability.ForRun(o.logger, runID, target)
	started := o.now()

	report := schemas.Report{
		Timestamp:       started,
		Target:          target,
		Viewports:       o.cfg.Viewports,
		Scenarios:       make([]schemas.ScenarioInfo, len(o.scenarios)),
		ScenarioResults: []schemas.ScenarioResult{},
	}
	for i, sc := range o.scenarios {
		report.Scenarios[i] = schemas.ScenarioInfo{Name: sc.Name, Description: sc.Description}
	}
	emitter := reporting.NewEmitter(o.fs, dir, logger)
	out := &Outcome{RunID: runID, Target: target}

	logger.Info("Run starting.",
		zap.Int("scenarios", len(o.scenarios)),
		zap.Int("viewports", len(o.cfg.Viewports)),
		zap.String("output_dir", dir),
	)
	out.Err = o.execute(ctx, target, emitter, &report, logger)
	if out.Err != nil && !errors.Is(out.Err, probe.ErrCancelled) {
		report.Error = out.Err.Error()
	}

	report.Summary = report.Summarize()
	written, emitErr := emitter.Emit(report)
	out.Report = reporting.Normalize(report)
	out.Written = written
	o.record(ctx, out, started, logger)

	logger.Info("Run finished.",
		zap.String("status", history.StatusOf(out.Report)),
		zap.Int("passed", out.Report.Summary.Passed),
		zap.Int("total", out.Report.Summary.Total),
		zap.Duration("duration", o.now().Sub(started)),
	)
	if emitErr != nil {
		return out, errors.Join(out.Err, emitErr)
	}
	return out, out.Err
}

// execute holds the session for the duration of the run.
func (o *Orchestrator) execute(ctx context.Context, target string, emitter *reporting.Emitter, report *schemas.Report, logger *zap.Logger) error {
	if err := probe.Cancelled(ctx); err != nil {
		return err
	}
	session, err := o.factory.NewSession(ctx)
	if err != nil {
		return probe.SessionError("open session", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			logger.Warn("Failed to close browser session.", zap.Error(cerr))
		}
	}()

	callCtx := context.WithoutCancel(ctx)
	if err := session.Navigate(callCtx, target); err != nil {
		return err
	}

	engine := scenario.NewEngine(session, emitter, scenario.Options{
		Settle: interaction.Settings{
			SettleTimeout: o.cfg.SettleTimeout(),
			PollInterval:  o.cfg.PollInterval(),
			Tolerance:     o.cfg.GeometryTolerancePx,
		},
		FullPage: o.cfg.FullPageScreenshots,
	}, logger)
	matrix := viewport.NewMatrix(session, logger)

	// The page is fresh for the first pair only; every later pair reloads when configured.
	fresh := true
	for _, sc := range o.scenarios {
		body := func(ctx context.Context, vp schemas.ViewportSpec) (schemas.ScenarioResult, error) {
			if o.cfg.ReloadBetweenScenarios && !fresh {
				if err := session.Navigate(callCtx, target); err != nil {
					return erroredResult(sc.Name, vp, err), err
				}
			}
			fresh = false
			return engine.Run(ctx, sc, vp)
		}

		results, err := matrix.ForEach(ctx, o.cfg.Viewports, body)
		report.ScenarioResults = append(report.ScenarioResults, results...)
		if err == nil {
			continue
		}
		if errors.Is(err, probe.ErrCancelled) {
			// Cancellation seen by the matrix, before a viewport started: the pair that was
			// about to run is the current one.
			if len(results) < len(o.cfg.Viewports) && !lastCancelled(results) {
				report.ScenarioResults = append(report.ScenarioResults, cancelledResult(sc.Name, o.cfg.Viewports[len(results)]))
			}
			logger.Warn("Run cancelled.", zap.String("scenario", sc.Name))
			return probe.ErrCancelled
		}
		logger.Error("Fatal error, stopping run.", zap.String("scenario", sc.Name), zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, out *Outcome, started time.Time, logger *zap.Logger) {
	if o.recorder == nil {
		return
	}
	run := history.Run{
		ID:         out.RunID,
		Target:     out.Target,
		StartedAt:  started,
		FinishedAt: o.now(),
		Status:     history.StatusOf(out.Report),
		Summary:    out.Report.Summary,
		ReportPath: out.Written.JSONPath,
		Error:      out.Report.Error,
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), run, out.Report); err != nil {
		logger.Warn("Failed to record run history.", zap.Error(err))
	}
}

func lastCancelled(results []schemas.ScenarioResult) bool {
	return len(results) > 0 && results[len(results)-1].Status == schemas.StatusCancelled
}

func cancelledResult(name string, vp schemas.ViewportSpec) schemas.ScenarioResult {
	return schemas.ScenarioResult{
		Name:       name,
		Viewport:   vp,
		Status:     schemas.StatusCancelled,
		Assertions: []schemas.Assertion{},
		Error:      probe.ErrCancelled.Error(),
		ErrorKind:  string(probe.KindCancelled),
	}
}

func erroredResult(name string, vp schemas.ViewportSpec, err error) schemas.ScenarioResult {
	return schemas.ScenarioResult{
		Name:       name,
		Viewport:   vp,
		Status:     schemas.StatusErrored,
		Assertions: []schemas.Assertion{},
		Error:      err.Error(),
		ErrorKind:  string(probe.KindOf(err)),
	}
}

var nonSlug = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slug turns a target URL into a directory name, e.g. http://localhost:3000/app -> localhost-3000-app.
func Slug(target string) string {
	s := target
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.Trim(nonSlug.ReplaceAllString(s, "-"), "-.")
	if s == "" {
		return "target"
	}
	return s
}
