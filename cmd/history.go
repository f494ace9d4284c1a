// File: cmd/history.go
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/history"
	"github.com/xkilldash9x/uiprobe/internal/observability"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newHistoryCmd() *cobra.Command {
	var (
		target string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), target, limit)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only runs against this target URL")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	cmd.AddCommand(newHistoryShowCmd(), newHistoryPruneCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-scenario results of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, results, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s against %s\n", run.ID, run.Target)
			fmt.Fprintf(out, "Started %s, took %s, status %s\n",
				run.StartedAt.Format(time.RFC3339), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), run.Status)
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			if run.ReportPath != "" {
				fmt.Fprintf(out, "Report: %s\n", run.ReportPath)
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Scenario, r.Viewport, r.Status, r.ErrorKind, strconv.Itoa(r.FailedAssertions)})
			}
			fmt.Fprintln(out, renderTable([]string{"SCENARIO", "VIEWPORT", "STATUS", "ERROR", "FAILED"}, rows))
			return nil
		},
	}
}

func newHistoryPruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s).\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 100, "number of most recent runs to keep")
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	return openHistoryStore(cmd, cfg.History())
}

func openHistoryStore(cmd *cobra.Command, hc config.HistoryConfig) (*history.Store, error) {
	if hc.Path == "" {
		return nil, &ExitError{Code: ExitFatal, Err: fmt.Errorf("history.path is not set")}
	}
	store, err := history.Open(cmd.Context(), hc.Path, observability.GetLogger())
	if err != nil {
		return nil, &ExitError{Code: ExitFatal, Err: err}
	}
	return store, nil
}

func printRuns(w io.Writer, runs []history.Run) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Target,
			r.Status,
			fmt.Sprintf("%d/%d", r.Summary.Passed, r.Summary.Total),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"RUN ID", "STARTED", "TARGET", "STATUS", "PASSED"}, rows))
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}
