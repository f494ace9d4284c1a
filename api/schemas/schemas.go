package schemas

import (
	"fmt"
	"time"
)

// -- Probe Data Model --

// ActionKind identifies a scripted UI action performed by the interaction driver.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionHover    ActionKind = "hover"
	ActionTypeText ActionKind = "type"
)

// Valid reports whether the action is one the driver knows how to perform.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionClick, ActionHover, ActionTypeText:
		return true
	}
	return false
}

// ViewportSpec is a named browser window size. Values are supplied by configuration
// and treated as immutable once a run starts.
type ViewportSpec struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Width  int64  `json:"width" yaml:"width" mapstructure:"width"`
	Height int64  `json:"height" yaml:"height" mapstructure:"height"`
}

// Validate checks the viewport invariants (non-empty name, positive dimensions).
func (v ViewportSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("viewport name must not be empty")
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("viewport %q must have positive dimensions (got %dx%d)", v.Name, v.Width, v.Height)
	}
	return nil
}

func (v ViewportSpec) String() string {
	return fmt.Sprintf("%s(%dx%d)", v.Name, v.Width, v.Height)
}

// Rect is an axis aligned rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rectangle area, treating negative extents as empty.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// ElementGeometry is the measured box of an element in page coordinates together
// with the fraction of that box that intersects the current viewport.
type ElementGeometry struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	VisibleRatio float64 `json:"visibleRatio"`
}

// Measurement records the outcome of a Measure step.
type Measurement struct {
	Selector string           `json:"selector"`
	Found    bool             `json:"found"`
	Geometry *ElementGeometry `json:"geometry,omitempty"`
}

// Snapshot captures every observed property of an element at one instant.
// Page is set when the interaction named no element to observe.
type Snapshot struct {
	Found    bool              `json:"found"`
	Geometry *ElementGeometry  `json:"geometry,omitempty"`
	Styles   map[string]string `json:"styles,omitempty"`
	Text     string            `json:"text"`
	Page     *PageState        `json:"page,omitempty"`
}

// PageState is a coarse, page-wide observation. It catches effects that land outside
// the element that was interacted with, such as a carousel advancing its slide title.
type PageState struct {
	// TextHash fingerprints document.body.innerText.
	TextHash string  `json:"textHash"`
	ScrollX  float64 `json:"scrollX"`
	ScrollY  float64 `json:"scrollY"`
	// Container is the target's nearest scrollable ancestor, or its parent.
	Container *ContainerState `json:"container,omitempty"`
}

// ContainerState is the box and scroll offset of an element's container.
type ContainerState struct {
	Rect       Rect    `json:"rect"`
	ScrollLeft float64 `json:"scrollLeft"`
	ScrollTop  float64 `json:"scrollTop"`
}

// InteractionResult is the before/after record of one scripted action.
type InteractionResult struct {
	ID       string     `json:"id,omitempty"`
	Action   ActionKind `json:"action"`
	Selector string     `json:"selector"`
	Observed string     `json:"observed"`
	Before   Snapshot   `json:"before"`
	After    Snapshot   `json:"after"`
	Changed  bool       `json:"changed"`
	Settled  bool       `json:"settled"`
}

// Assertion is one checked condition within a scenario.
type Assertion struct {
	Description string         `json:"description"`
	Passed      bool           `json:"passed"`
	Details     map[string]any `json:"details,omitempty"`
}

// ScenarioStatus summarises how a scenario/viewport pair ended.
type ScenarioStatus string

const (
	StatusPassed    ScenarioStatus = "passed"
	StatusFailed    ScenarioStatus = "failed"
	StatusErrored   ScenarioStatus = "errored"
	StatusCancelled ScenarioStatus = "cancelled"
)

// ScenarioResult is the outcome of running one scenario against one viewport.
// It is created when execution begins and never modified after the scenario completes.
type ScenarioResult struct {
	Name           string              `json:"name"`
	Viewport       ViewportSpec        `json:"viewport"`
	Status         ScenarioStatus      `json:"status"`
	Assertions     []Assertion         `json:"assertions"`
	Measurements   []Measurement       `json:"measurements,omitempty"`
	Interactions   []InteractionResult `json:"interactions,omitempty"`
	ScreenshotPath string              `json:"screenshotPath,omitempty"`
	Screenshots    []string            `json:"screenshots,omitempty"`
	Error          string              `json:"error,omitempty"`
	ErrorKind      string              `json:"errorKind,omitempty"`
}

// Passed reports whether every assertion passed and no error was recorded.
func (r *ScenarioResult) Passed() bool {
	if r.Error != "" {
		return false
	}
	for _, a := range r.Assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// FailedAssertions counts assertions with passed=false.
func (r *ScenarioResult) FailedAssertions() int {
	n := 0
	for _, a := range r.Assertions {
		if !a.Passed {
			n++
		}
	}
	return n
}

// ScenarioInfo describes a declared scenario. The declaration order drives report ordering.
type ScenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ReportSummary aggregates counts over all scenario results.
type ReportSummary struct {
	Total            int `json:"total"`
	Passed           int `json:"passed"`
	Failed           int `json:"failed"`
	Errored          int `json:"errored"`
	Cancelled        int `json:"cancelled"`
	Assertions       int `json:"assertions"`
	FailedAssertions int `json:"failedAssertions"`
}

// Report is the root artifact of a run. It is written once and never mutated afterwards.
type Report struct {
	Timestamp       time.Time        `json:"timestamp"`
	Target          string           `json:"target"`
	Viewports       []ViewportSpec   `json:"viewports"`
	Scenarios       []ScenarioInfo   `json:"scenarios"`
	ScenarioResults []ScenarioResult `json:"scenarioResults"`
	Summary         ReportSummary    `json:"summary"`
	Error           string           `json:"error,omitempty"`
}

// Summarize recomputes the summary from the scenario results.
func (r *Report) Summarize() ReportSummary {
	var s ReportSummary
	for i := range r.ScenarioResults {
		res := &r.ScenarioResults[i]
		s.Total++
		s.Assertions += len(res.Assertions)
		s.FailedAssertions += res.FailedAssertions()
		switch res.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusErrored:
			s.Errored++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Passed is true only if the run finished without a run-level error and every
// scenario result passed. This is the CI gate.
func (r *Report) Passed() bool {
	if r.Error != "" {
		return false
	}
	for i := range r.ScenarioResults {
		if !r.ScenarioResults[i].Passed() {
			return false
		}
	}
	return true
}
