// internal/reporting/emitter.go
package reporting

import (
	"cmp"
	"fmt"
	"path"
	"path/filepath"
	"slices"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// Artifact names inside the output directory.
const (
	JSONFile       = "report.json"
	HTMLFile       = "report.html"
	MarkdownFile   = "report.md"
	ScreenshotsDir = "screenshots"
)

// json mirrors encoding/json output (sorted map keys, HTML escaping) so report.json
// is byte-stable across runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WrittenReport lists the artifacts produced by Emit.
type WrittenReport struct {
	JSONPath     string `json:"jsonPath"`
	HTMLPath     string `json:"htmlPath"`
	MarkdownPath string `json:"markdownPath"`
}

// Emitter writes report artifacts and screenshots beneath a single output directory.
type Emitter struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// NewEmitter creates an Emitter rooted at dir on fs.
func NewEmitter(fs afero.Fs, dir string, logger *zap.Logger) *Emitter {
	return &Emitter{fs: fs, dir: dir, logger: logger.Named("reporting")}
}

// Dir returns the output directory.
func (e *Emitter) Dir() string { return e.dir }

// WriteScreenshot stores a PNG under screenshots/ and returns its path relative to
// the output directory, which is what the HTML report links to.
func (e *Emitter) WriteScreenshot(name string, data []byte) (string, error) {
	dir := filepath.Join(e.dir, ScreenshotsDir)
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	if err := afero.WriteFile(e.fs, filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot %s: %w", name, err)
	}
	return path.Join(ScreenshotsDir, name), nil
}

// Emit normalises the report and writes report.json, report.html and report.md.
func (e *Emitter) Emit(report schemas.Report) (WrittenReport, error) {
	report = Normalize(report)

	data, err := MarshalJSON(report)
	if err != nil {
		return WrittenReport{}, err
	}
	htmlBytes, err := RenderHTML(report)
	if err != nil {
		return WrittenReport{}, err
	}
	md, err := RenderMarkdown(htmlBytes)
	if err != nil {
		return WrittenReport{}, err
	}

	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return WrittenReport{}, fmt.Errorf("failed to create output directory %s: %w", e.dir, err)
	}
	written := WrittenReport{
		JSONPath:     filepath.Join(e.dir, JSONFile),
		HTMLPath:     filepath.Join(e.dir, HTMLFile),
		MarkdownPath: filepath.Join(e.dir, MarkdownFile),
	}
	for _, f := range []struct {
		path string
		data []byte
	}{
		{written.JSONPath, data},
		{written.HTMLPath, htmlBytes},
		{written.MarkdownPath, md},
	} {
		if err := afero.WriteFile(e.fs, f.path, f.data, 0o644); err != nil {
			return WrittenReport{}, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}

	e.logger.Info("Report written.",
		zap.String("json", written.JSONPath),
		zap.String("html", written.HTMLPath),
		zap.Int("results", len(report.ScenarioResults)),
	)
	return written, nil
}

// MarshalJSON encodes a report with two-space indentation and a trailing newline.
func MarshalJSON(report schemas.Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// ReadJSON decodes a report.json document.
func ReadJSON(fs afero.Fs, file string) (schemas.Report, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return schemas.Report{}, fmt.Errorf("failed to read report %s: %w", file, err)
	}
	var report schemas.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return schemas.Report{}, fmt.Errorf("failed to decode report %s: %w", file, err)
	}
	return report, nil
}

// Normalize returns a copy of report whose results are ordered by declared scenario
// then declared viewport, with the summary recomputed. Completion order never leaks
// into the artifact.
func Normalize(report schemas.Report) schemas.Report {
	scenarioRank := make(map[string]int, len(report.Scenarios))
	for i, s := range report.Scenarios {
		scenarioRank[s.Name] = i
	}
	viewportRank := make(map[string]int, len(report.Viewports))
	for i, v := range report.Viewports {
		viewportRank[v.Name] = i
	}
	rank := func(m map[string]int, name string) int {
		if r, ok := m[name]; ok {
			return r
		}
		return len(m)
	}

	results := slices.Clone(report.ScenarioResults)
	if results == nil {
		results = []schemas.ScenarioResult{}
	}
	slices.SortStableFunc(results, func(a, b schemas.ScenarioResult) int {
		return cmp.Or(
			cmp.Compare(rank(scenarioRank, a.Name), rank(scenarioRank, b.Name)),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(rank(viewportRank, a.Viewport.Name), rank(viewportRank, b.Viewport.Name)),
			cmp.Compare(a.Viewport.Name, b.Viewport.Name),
		)
	})
	report.ScenarioResults = results
	report.Summary = report.Summarize()
	return report
}
