package scenario_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/scenario"
)

func ptr[T any](v T) *T { return &v }

func TestCompile(t *testing.T) {
	sc := config.ScenarioConfig{
		Name:        "carousel-navigation",
		Description: "Next arrow advances the slide",
		Steps: []config.StepConfig{
			{Type: config.StepScrollIntoView, Selector: "#projects"},
			{Type: config.StepMeasure, Selector: ".first-item"},
			{Type: config.StepAssertVisibility, Selector: ".first-item", MinRatio: 0.5},
			{Type: config.StepInteract, ID: "next", Action: "click", Selector: ".next-arrow", Observe: "h3", Properties: []string{"opacity"}, SettleTimeoutMs: 1500},
			{Type: config.StepAssertChanged, Ref: "next"},
			{Type: config.StepAssertChanged, Expected: ptr(false)},
			{Type: config.StepAssertStyle, Selector: ".dot.active", Property: "background-color", Value: "rgb(96, 165, 250)"},
			{Type: config.StepAssertClass, Selector: ".dot.active", Class: "bg-blue-400"},
			{Type: config.StepAssertClass, Selector: ".dot", Class: "bg-blue-400", Present: ptr(false)},
			{Type: config.StepAssertCount, Selector: ".dot", Count: ptr(3)},
			{Type: config.StepScreenshot, Name: "after", FullPage: true},
		},
	}

	got, err := scenario.Compile(sc)
	require.NoError(t, err)
	assert.Equal(t, "carousel-navigation", got.Name)
	assert.Equal(t, "Next arrow advances the slide", got.Description)
	assert.Equal(t, []scenario.Step{
		scenario.ScrollIntoView{Selector: "#projects"},
		scenario.Measure{Selector: ".first-item"},
		scenario.AssertVisibility{Selector: ".first-item", MinRatio: 0.5},
		scenario.Interact{ID: "next", Action: schemas.ActionClick, Selector: ".next-arrow", Observe: "h3", Properties: []string{"opacity"}, SettleTimeout: 1500 * time.Millisecond},
		scenario.AssertChanged{Ref: "next", Expected: true},
		scenario.AssertChanged{Expected: false},
		scenario.AssertStyle{Selector: ".dot.active", Property: "background-color", Expected: "rgb(96, 165, 250)"},
		scenario.AssertClass{Selector: ".dot.active", Class: "bg-blue-400", Present: true},
		scenario.AssertClass{Selector: ".dot", Class: "bg-blue-400", Present: false},
		scenario.AssertCount{Selector: ".dot", Count: 3},
		scenario.Screenshot{Name: "after", FullPage: true},
	}, got.Steps)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		steps   []config.StepConfig
		wantErr string
	}{
		{"missing selector", []config.StepConfig{{Type: config.StepMeasure}}, "selector is required"},
		{"bad action", []config.StepConfig{{Type: config.StepInteract, Selector: "a", Action: "drag"}}, `got "drag"`},
		{"ratio above one", []config.StepConfig{{Type: config.StepAssertVisibility, Selector: "a", MinRatio: 1.5}}, "min_ratio must be within [0,1]"},
		{"unknown ref", []config.StepConfig{{Type: config.StepAssertChanged, Ref: "later"}}, `ref "later" does not name an earlier interaction`},
		{"ref before its interaction", []config.StepConfig{
			{Type: config.StepAssertChanged, Ref: "x"},
			{Type: config.StepInteract, ID: "x", Action: "click", Selector: "a"},
		}, "does not name an earlier interaction"},
		{"changed without interaction", []config.StepConfig{{Type: config.StepAssertChanged}}, "needs a preceding interaction"},
		{"duplicate interaction id", []config.StepConfig{
			{Type: config.StepInteract, ID: "x", Action: "click", Selector: "a"},
			{Type: config.StepInteract, ID: "x", Action: "hover", Selector: "a"},
		}, `duplicate interaction id "x"`},
		{"style without property", []config.StepConfig{{Type: config.StepAssertStyle, Selector: "a"}}, "property is required"},
		{"class without class", []config.StepConfig{{Type: config.StepAssertClass, Selector: "a"}}, "class is required"},
		{"count unset", []config.StepConfig{{Type: config.StepAssertCount, Selector: "a"}}, "count must be set"},
		{"negative count", []config.StepConfig{{Type: config.StepAssertCount, Selector: "a", Count: ptr(-1)}}, "count must be set"},
		{"unknown type", []config.StepConfig{{Type: "teleport"}}, `unknown step type "teleport"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scenario.Compile(config.ScenarioConfig{Name: "s", Steps: tt.steps})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), `scenario "s"`)
		})
	}
}

func TestCompileAll_PreservesOrder(t *testing.T) {
	out, err := scenario.CompileAll([]config.ScenarioConfig{{Name: "b"}, {Name: "a"}, {Name: "c"}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Name)
	assert.Equal(t, "a", out[1].Name)
	assert.Equal(t, "c", out[2].Name)

	_, err = scenario.CompileAll([]config.ScenarioConfig{{Name: "ok"}, {Name: "bad", Steps: []config.StepConfig{{Type: "nope"}}}})
	assert.Error(t, err)
}
