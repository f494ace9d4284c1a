// internal/reporting/html.go
package reporting

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// Scenario descriptions come from user configuration and may carry inline markup.
var descriptionPolicy = bluemonday.UGCPolicy()

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"details":     formatDetails,
	"timestamp":   func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"description": sanitizeDescription,
	"mark": func(passed bool) string {
		if passed {
			return "✓"
		}
		return "✗"
	},
}).Parse(reportHTML))

// htmlView is the template input. It is derived from the report alone.
type htmlView struct {
	schemas.Report
	Descriptions map[string]string
}

// RenderHTML renders the human readable report. It is a pure function of report.
func RenderHTML(report schemas.Report) ([]byte, error) {
	view := htmlView{Report: report, Descriptions: make(map[string]string, len(report.Scenarios))}
	for _, s := range report.Scenarios {
		view.Descriptions[s.Name] = s.Description
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdown converts the rendered HTML report into Markdown.
func RenderMarkdown(htmlReport []byte) ([]byte, error) {
	md, err := mdConverter.ConvertString(string(htmlReport))
	if err != nil {
		return nil, fmt.Errorf("failed to convert report to markdown: %w", err)
	}
	return []byte(md + "\n"), nil
}

func sanitizeDescription(s string) template.HTML {
	return template.HTML(descriptionPolicy.Sanitize(s))
}

// formatDetails renders assertion details as "key=value" pairs in key order.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return strings.Join(parts, ", ")
}

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>UI probe report: {{.Target}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2937; }
h1 { margin-bottom: 0.25rem; }
.meta { color: #6b7280; }
.summary td, .summary th { padding: 0.25rem 0.75rem; text-align: left; }
section { border: 1px solid #e5e7eb; border-radius: 8px; padding: 1rem; margin: 1rem 0; }
section.passed { border-left: 6px solid #16a34a; }
section.failed { border-left: 6px solid #dc2626; }
section.errored { border-left: 6px solid #d97706; }
section.cancelled { border-left: 6px solid #6b7280; }
.status { font-weight: bold; text-transform: uppercase; }
li.check-pass { color: #166534; }
li.check-fail { color: #b91c1c; font-weight: bold; }
.error { background: #fef3c7; padding: 0.5rem; border-radius: 4px; }
img { max-width: 480px; border: 1px solid #d1d5db; margin: 0.5rem 0.5rem 0 0; }
</style>
</head>
<body>
<h1>UI probe report</h1>
<p class="meta">Target: {{.Target}} · Generated: {{timestamp .Timestamp}}</p>
{{if .Error}}<p class="error"><strong>Run aborted:</strong> {{.Error}}</p>{{end}}
<table class="summary">
<tr><th>Results</th><th>Passed</th><th>Failed</th><th>Errored</th><th>Cancelled</th><th>Assertions</th><th>Failed assertions</th></tr>
<tr><td>{{.Summary.Total}}</td><td>{{.Summary.Passed}}</td><td>{{.Summary.Failed}}</td><td>{{.Summary.Errored}}</td><td>{{.Summary.Cancelled}}</td><td>{{.Summary.Assertions}}</td><td>{{.Summary.FailedAssertions}}</td></tr>
</table>
{{range .ScenarioResults}}
<section class="{{.Status}}">
<h2>{{.Name}} · {{.Viewport.Name}} ({{.Viewport.Width}}×{{.Viewport.Height}})</h2>
{{with index $.Descriptions .Name}}<p>{{description .}}</p>{{end}}
<p class="status">{{if eq .Status "failed"}}Assertion failed{{else if eq .Status "errored"}}Scenario errored{{else if eq .Status "cancelled"}}Cancelled{{else}}Passed{{end}}</p>
{{if .Error}}<p class="error"><strong>{{if .ErrorKind}}{{.ErrorKind}}: {{end}}</strong>{{.Error}}</p>{{end}}
{{if .Assertions}}<ul>
{{range .Assertions}}<li class="{{if .Passed}}check-pass{{else}}check-fail{{end}}">{{mark .Passed}} {{.Description}}{{with details .Details}} <code>{{.}}</code>{{end}}</li>
{{end}}</ul>{{end}}
{{if .Interactions}}<table>
<tr><th>Action</th><th>Selector</th><th>Observed</th><th>Changed</th><th>Settled</th></tr>
{{range .Interactions}}<tr><td>{{.Action}}</td><td><code>{{.Selector}}</code></td><td><code>{{.Observed}}</code></td><td>{{.Changed}}</td><td>{{.Settled}}</td></tr>
{{end}}</table>{{end}}
{{range .Screenshots}}<a href="{{.}}"><img src="{{.}}" alt="{{.}}"></a>{{end}}
</section>
{{else}}
<p>No scenario results were recorded.</p>
{{end}}
</body>
</html>
`
