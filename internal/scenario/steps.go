// Package scenario interprets declarative scenarios step by step against one viewport.
package scenario

import (
	"time"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/config"
)

// Scenario is a named, ordered sequence of steps evaluated once per viewport.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
}

// Step is one element of a scenario. The set of implementations is closed.
type Step interface {
	// Kind returns the configuration name of the step type.
	Kind() string
	isStep()
}

// Measure records the geometry of a selector. Absence is recorded, not raised.
type Measure struct {
	Selector string
}

// Interact performs an action and records the before/after state.
type Interact struct {
	ID            string
	Action        schemas.ActionKind
	Selector      string
	Text          string
	Observe       string
	Properties    []string
	SettleTimeout time.Duration
}

// AssertVisibility passes iff the selector's visible ratio is at least MinRatio.
type AssertVisibility struct {
	Selector string
	MinRatio float64
}

// AssertChanged passes iff the referenced interaction's changed flag equals Expected.
// An empty Ref refers to the most recent interaction.
type AssertChanged struct {
	Ref      string
	Expected bool
}

// Screenshot captures the page into the screenshots directory.
type Screenshot struct {
	Name     string
	FullPage bool
}

// ScrollIntoView centres the first match in the viewport.
type ScrollIntoView struct {
	Selector string
}

// AssertStyle passes iff a computed style property equals Expected.
type AssertStyle struct {
	Selector string
	Property string
	Expected string
}

// AssertClass passes iff class list membership matches Present.
type AssertClass struct {
	Selector string
	Class    string
	Present  bool
}

// AssertCount passes iff exactly Count elements match.
type AssertCount struct {
	Selector string
	Count    int
}

func (Measure) Kind() string          { return config.StepMeasure }
func (Interact) Kind() string         { return config.StepInteract }
func (AssertVisibility) Kind() string { return config.StepAssertVisibility }
func (AssertChanged) Kind() string    { return config.StepAssertChanged }
func (Screenshot) Kind() string       { return config.StepScreenshot }
func (ScrollIntoView) Kind() string   { return config.StepScrollIntoView }
func (AssertStyle) Kind() string      { return config.StepAssertStyle }
func (AssertClass) Kind() string      { return config.StepAssertClass }
func (AssertCount) Kind() string      { return config.StepAssertCount }

func (Measure) isStep()          {}
func (Interact) isStep()         {}
func (AssertVisibility) isStep() {}
func (AssertChanged) isStep()    {}
func (Screenshot) isStep()       {}
func (ScrollIntoView) isStep()   {}
func (AssertStyle) isStep()      {}
func (AssertClass) isStep()      {}
func (AssertCount) isStep()      {}
