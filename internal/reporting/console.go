// internal/reporting/console.go
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

const (
	nameColumnWidth = 36
	barWidth        = 20
)

var (
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderConsole formats a compact terminal summary: one line per scenario/viewport
// with an assertion pass bar, followed by the failures that need attention.
func RenderConsole(report schemas.Report) string {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render("UI PROBE: " + report.Target))
	sb.WriteString("\n")
	s := report.Summary
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("Results: %d    Passed: %d    Failed: %d    Errored: %d    Cancelled: %d",
		s.Total, s.Passed, s.Failed, s.Errored, s.Cancelled)))
	sb.WriteString("\n\n")

	for _, r := range report.ScenarioResults {
		label := fmt.Sprintf("%s @ %s", r.Name, r.Viewport.Name)
		label = runewidth.FillRight(runewidth.Truncate(label, nameColumnWidth, "…"), nameColumnWidth)

		total := len(r.Assertions)
		passed := total - r.FailedAssertions()
		filled := barWidth
		if total > 0 {
			filled = barWidth * passed / total
		}
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

		icon, style := "✓", successStyle
		switch r.Status {
		case schemas.StatusFailed:
			icon, style = "✗", errorStyle
		case schemas.StatusErrored:
			icon, style = "!", warningStyle
		case schemas.StatusCancelled:
			icon, style = "-", mutedStyle
		}
		sb.WriteString(fmt.Sprintf("  %s %s %s  %2d/%-2d\n", style.Render(icon), label, style.Render(bar), passed, total))
	}

	var attention []string
	for _, r := range report.ScenarioResults {
		for _, a := range r.Assertions {
			if !a.Passed {
				attention = append(attention, errorStyle.Render(fmt.Sprintf("  ✗ %s @ %s: %s %s", r.Name, r.Viewport.Name, a.Description, formatDetails(a.Details))))
			}
		}
		if r.Error != "" {
			attention = append(attention, warningStyle.Render(fmt.Sprintf("  ! %s @ %s: %s", r.Name, r.Viewport.Name, r.Error)))
		}
	}
	if report.Error != "" {
		attention = append(attention, errorStyle.Render("  ! run aborted: "+report.Error))
	}
	if len(attention) > 0 {
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("NEEDS ATTENTION"))
		sb.WriteString("\n")
		sb.WriteString(strings.Join(attention, "\n"))
		sb.WriteString("\n")
	}

	return boxStyle.Render(strings.TrimRight(sb.String(), "\n"))
}

// PrintConsole writes RenderConsole output to w.
func PrintConsole(w io.Writer, report schemas.Report) error {
	_, err := fmt.Fprintln(w, RenderConsole(report))
	return err
}
