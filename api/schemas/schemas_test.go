package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// -- Test Helpers --

func result(status schemas.ScenarioStatus, passed ...bool) schemas.ScenarioResult {
	r := schemas.ScenarioResult{Name: "s", Status: status, Assertions: []schemas.Assertion{}}
	for _, p := range passed {
		r.Assertions = append(r.Assertions, schemas.Assertion{Passed: p})
	}
	return r
}

// -- Test Cases --

func TestViewportSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		vp      schemas.ViewportSpec
		wantErr string
	}{
		{"valid", schemas.ViewportSpec{Name: "Mobile", Width: 375, Height: 667}, ""},
		{"empty name", schemas.ViewportSpec{Width: 375, Height: 667}, "name must not be empty"},
		{"zero width", schemas.ViewportSpec{Name: "Bad", Height: 667}, "positive dimensions"},
		{"negative height", schemas.ViewportSpec{Name: "Bad", Width: 10, Height: -1}, "positive dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vp.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, "Mobile(375x667)", schemas.ViewportSpec{Name: "Mobile", Width: 375, Height: 667}.String())
}

func TestRect(t *testing.T) {
	r := schemas.Rect{X: 10, Y: 20, Width: 100, Height: 50}
	assert.Equal(t, 5000.0, r.Area())
	assert.Equal(t, schemas.Point{X: 60, Y: 45}, r.Center())
	assert.Zero(t, schemas.Rect{Width: -5, Height: 10}.Area())
	assert.Zero(t, schemas.Rect{Width: 5}.Area())
}

func TestActionKind_Valid(t *testing.T) {
	for _, a := range []schemas.ActionKind{schemas.ActionClick, schemas.ActionHover, schemas.ActionTypeText} {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, schemas.ActionKind("drag").Valid())
}

func TestScenarioResult_Passed(t *testing.T) {
	empty := result(schemas.StatusPassed)
	assert.True(t, empty.Passed(), "no assertions and no error")
	allPassed := result(schemas.StatusPassed, true, true)
	assert.True(t, allPassed.Passed())

	failed := result(schemas.StatusFailed, true, false, false)
	assert.False(t, failed.Passed())
	assert.Equal(t, 2, failed.FailedAssertions())

	errored := result(schemas.StatusErrored, true)
	errored.Error = "step 1 (interact): element not interactable"
	assert.False(t, errored.Passed(), "an error fails the pair even when every assertion passed")
}

func TestReport_SummarizeAndPassed(t *testing.T) {
	cancelled := result(schemas.StatusCancelled)
	cancelled.Error = "cancelled"
	errored := result(schemas.StatusErrored)
	errored.Error = "boom"

	report := schemas.Report{ScenarioResults: []schemas.ScenarioResult{
		result(schemas.StatusPassed, true, true),
		result(schemas.StatusFailed, true, false),
		errored,
		cancelled,
	}}
	assert.Equal(t, schemas.ReportSummary{
		Total: 4, Passed: 1, Failed: 1, Errored: 1, Cancelled: 1,
		Assertions: 4, FailedAssertions: 1,
	}, report.Summarize())
	assert.False(t, report.Passed())

	t.Run("all passed", func(t *testing.T) {
		ok := schemas.Report{ScenarioResults: []schemas.ScenarioResult{result(schemas.StatusPassed, true)}}
		assert.True(t, ok.Passed())
	})

	t.Run("run level error", func(t *testing.T) {
		aborted := schemas.Report{Error: "navigation failed"}
		assert.False(t, aborted.Passed())
	})
}

// TestStructJSONTags pins the report.json field names, which downstream tooling reads.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    any
		expectedTags map[string]string
	}{
		{
			name:      "Report",
			structRef: schemas.Report{},
			expectedTags: map[string]string{
				"Timestamp":       "timestamp",
				"Target":          "target",
				"Viewports":       "viewports",
				"Scenarios":       "scenarios",
				"ScenarioResults": "scenarioResults",
				"Summary":         "summary",
				"Error":           "error,omitempty",
			},
		},
		{
			name:      "ScenarioResult",
			structRef: schemas.ScenarioResult{},
			expectedTags: map[string]string{
				"Name":           "name",
				"Viewport":       "viewport",
				"Status":         "status",
				"Assertions":     "assertions",
				"Measurements":   "measurements,omitempty",
				"Interactions":   "interactions,omitempty",
				"ScreenshotPath": "screenshotPath,omitempty",
				"Screenshots":    "screenshots,omitempty",
				"Error":          "error,omitempty",
				"ErrorKind":      "errorKind,omitempty",
			},
		},
		{
			name:      "ElementGeometry",
			structRef: schemas.ElementGeometry{},
			expectedTags: map[string]string{
				"X":            "x",
				"Y":            "y",
				"Width":        "width",
				"Height":       "height",
				"VisibleRatio": "visibleRatio",
			},
		},
		{
			name:      "InteractionResult",
			structRef: schemas.InteractionResult{},
			expectedTags: map[string]string{
				"ID":       "id,omitempty",
				"Action":   "action",
				"Selector": "selector",
				"Observed": "observed",
				"Before":   "before",
				"After":    "after",
				"Changed":  "changed",
				"Settled":  "settled",
			},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			require.Equal(t, reflect.Struct, structType.Kind())
			actualTags := make(map[string]string)
			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if tag := field.Tag.Get("json"); tag != "" {
					actualTags[field.Name] = tag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
