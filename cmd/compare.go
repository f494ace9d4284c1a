// File: cmd/compare.go
package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/jsoncompare"
	"github.com/xkilldash9x/uiprobe/internal/observability"
)

func newCompareCmd() *cobra.Command {
	var (
		strict         bool
		tolerance      float64
		maskTimestamps bool
		maskEntropy    bool
	)
	cmd := &cobra.Command{
		Use:   "compare <a/report.json> <b/report.json>",
		Short: "Check two reports of the same page for drift",
		Long: `Compares two report.json files produced against an unchanged page. The report
timestamp is ignored and box coordinates may differ by up to --tolerance pixels.
Pages that render the current time or per-request tokens can be compared with
--mask-timestamps and --mask-entropy. Exits 1 when the reports differ.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := jsoncompare.DefaultOptions()
			if strict {
				opts.Rules = jsoncompare.StrictRules()
				opts.PixelTolerance = 0
			}
			if cmd.Flags().Changed("tolerance") {
				opts.PixelTolerance = tolerance
			}
			if maskTimestamps {
				opts.Rules = opts.Rules.WithTimestampValues()
			}
			if maskEntropy {
				opts.Rules = opts.Rules.WithHighEntropyValues()
			}
			return runCompare(cmd, artifactFs(), args[0], args[1], opts)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "compare every field, including the timestamp")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 1, "pixel tolerance for x, y, width and height")
	cmd.Flags().BoolVar(&maskTimestamps, "mask-timestamps", false, "ignore values that look like timestamps")
	cmd.Flags().BoolVar(&maskEntropy, "mask-entropy", false, "ignore long random-looking strings such as tokens")
	return cmd
}

func runCompare(cmd *cobra.Command, fs afero.Fs, pathA, pathB string, opts jsoncompare.Options) error {
	logger := observability.GetLogger()
	a, err := afero.ReadFile(fs, pathA)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("reading %s: %w", pathA, err)}
	}
	b, err := afero.ReadFile(fs, pathB)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("reading %s: %w", pathB, err)}
	}

	result, err := jsoncompare.NewService(logger).CompareWithOptions(a, b, opts)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	out := cmd.OutOrStdout()
	if result.AreEquivalent {
		fmt.Fprintln(out, "Reports are equivalent.")
		return nil
	}
	if !result.IsJSON {
		logger.Warn("At least one input is not JSON.", zap.String("a", pathA), zap.String("b", pathB))
	}
	fmt.Fprintf(out, "Reports differ (-%s +%s):\n%s\n", pathA, pathB, result.Diff)
	return &ExitError{Code: ExitFailed}
}
