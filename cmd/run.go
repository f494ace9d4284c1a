// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/browser"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/history"
	"github.com/xkilldash9x/uiprobe/internal/observability"
	"github.com/xkilldash9x/uiprobe/internal/orchestrator"
	"github.com/xkilldash9x/uiprobe/internal/probe"
	"github.com/xkilldash9x/uiprobe/internal/reporting"
)

// Seams for tests.
var (
	newSessionFactory = browser.NewFactory
	artifactFs        = afero.NewOsFs
)

const browserShutdownTimeout = 15 * time.Second

type runFlags struct {
	output        string
	viewports     []string
	scenarios     []string
	settleTimeout int
	pollInterval  int
	driver        string
	headless      bool
	noHistory     bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [target-urls...]",
		Short: "Run every scenario across every viewport against the target pages",
		Long: `Runs the configured scenarios across the configured viewports and writes
report.json, report.html, report.md and screenshots/ to the output directory.

With no arguments probe.target_url is used. With several targets each one gets its own
browser session and output subdirectory, and they run concurrently.

Exit status: 0 when every assertion passed and nothing errored, 1 when an assertion
failed, a scenario errored or the run was cancelled, 2 when the run could not complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, f); err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			return runProbe(cmd, cfg, args, f.noHistory)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "output directory for the report artifacts")
	flags.StringSliceVar(&f.viewports, "viewport", nil, "run only the named viewports (repeatable)")
	flags.StringSliceVar(&f.scenarios, "scenario", nil, "run only the named scenarios (repeatable)")
	flags.IntVar(&f.settleTimeout, "settle-timeout", 0, "settle wait timeout in milliseconds")
	flags.IntVar(&f.pollInterval, "poll-interval", 0, "settle poll interval in milliseconds")
	flags.StringVar(&f.driver, "driver", "", "browser driver: chromedp or rod")
	flags.BoolVar(&f.headless, "headless", true, "run the browser without a window")
	flags.BoolVar(&f.noHistory, "no-history", false, "do not record this run in the history store")
	return cmd
}

// applyRunFlags overrides configuration with the flags the user actually set.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface, f runFlags) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.SetOutputDir(f.output)
	}
	if flags.Changed("settle-timeout") {
		cfg.SetSettleTimeoutMs(f.settleTimeout)
	}
	if flags.Changed("poll-interval") {
		cfg.SetPollIntervalMs(f.pollInterval)
	}
	if flags.Changed("driver") {
		cfg.SetBrowserDriver(f.driver)
	}
	if flags.Changed("headless") {
		cfg.SetBrowserHeadless(f.headless)
	}
	if err := cfg.RestrictViewports(f.viewports); err != nil {
		return err
	}
	return cfg.RestrictScenarios(f.scenarios)
}

func runProbe(cmd *cobra.Command, cfg *config.Config, args []string, noHistory bool) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("invalid configuration: %w", err)}
	}
	targets := args
	if len(targets) == 0 && cfg.Probe().TargetURL != "" {
		targets = []string{cfg.Probe().TargetURL}
	}
	if len(targets) == 0 {
		return &ExitError{Code: ExitFatal, Err: errors.New("no target URL: pass one as an argument or set probe.target_url")}
	}
	if len(cfg.Probe().Scenarios) == 0 {
		return &ExitError{Code: ExitFatal, Err: errors.New("no scenarios configured")}
	}

	factory, err := newSessionFactory(cfg.Browser(), logger)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), browserShutdownTimeout)
		defer cancel()
		if err := factory.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(err))
		}
	}()

	var recorder orchestrator.Recorder
	if cfg.History().Enabled && !noHistory {
		store, err := history.Open(ctx, cfg.History().Path, logger)
		if err != nil {
			// History is a convenience; a broken store must not block the CI gate.
			logger.Warn("Run history unavailable.", zap.String("path", cfg.History().Path), zap.Error(err))
		} else {
			defer store.Close()
			recorder = store
		}
	}

	o, err := orchestrator.New(cfg.Probe(), factory, artifactFs(), recorder, logger)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	outcomes, runErr := o.RunAll(ctx, targets)

	out := cmd.OutOrStdout()
	for _, oc := range outcomes {
		if oc == nil {
			continue
		}
		if err := reporting.PrintConsole(out, oc.Report); err != nil {
			logger.Warn("Failed to print console summary.", zap.Error(err))
		}
		if oc.Written.HTMLPath != "" {
			fmt.Fprintf(out, "Report: %s\n", oc.Written.HTMLPath)
		}
	}

	code := outcomeExitCode(outcomes, runErr)
	if code == ExitPassed {
		return nil
	}
	if runErr != nil {
		return &ExitError{Code: code, Err: runErr}
	}
	return &ExitError{Code: code}
}

// outcomeExitCode applies the CI gate across all targets: fatal beats failed beats passed.
func outcomeExitCode(outcomes []*orchestrator.Outcome, runErr error) int {
	if runErr != nil {
		return ExitFatal
	}
	code := ExitPassed
	for _, oc := range outcomes {
		switch {
		case oc == nil:
			return ExitFatal
		case oc.Err != nil && probe.IsFatal(oc.Err):
			return ExitFatal
		case !oc.Passed():
			code = ExitFailed
		}
	}
	return code
}
