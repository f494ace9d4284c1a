package scenario

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/config"
)

// CompileAll turns configured scenarios into executable ones, preserving order.
func CompileAll(configs []config.ScenarioConfig) ([]Scenario, error) {
	out := make([]Scenario, 0, len(configs))
	for _, sc := range configs {
		compiled, err := Compile(sc)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

// Compile validates one scenario configuration and builds its steps.
func Compile(sc config.ScenarioConfig) (Scenario, error) {
	s := Scenario{Name: sc.Name, Description: sc.Description, Steps: make([]Step, 0, len(sc.Steps))}
	interactions := make(map[string]bool)
	seenInteract := false

	for i, st := range sc.Steps {
		step, err := compileStep(st)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %q step %d (%s): %w", sc.Name, i, st.Type, err)
		}
		switch v := step.(type) {
		case Interact:
			if v.ID != "" {
				if interactions[v.ID] {
					return Scenario{}, fmt.Errorf("scenario %q step %d: duplicate interaction id %q", sc.Name, i, v.ID)
				}
				interactions[v.ID] = true
			}
			seenInteract = true
		case AssertChanged:
			if v.Ref != "" && !interactions[v.Ref] {
				return Scenario{}, fmt.Errorf("scenario %q step %d: ref %q does not name an earlier interaction", sc.Name, i, v.Ref)
			}
			if v.Ref == "" && !seenInteract {
				return Scenario{}, fmt.Errorf("scenario %q step %d: assert_changed needs a preceding interaction", sc.Name, i)
			}
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func compileStep(st config.StepConfig) (Step, error) {
	needSelector := func() error {
		if st.Selector == "" {
			return fmt.Errorf("selector is required")
		}
		return nil
	}

	switch st.Type {
	case config.StepMeasure:
		if err := needSelector(); err != nil {
			return nil, err
		}
		return Measure{Selector: st.Selector}, nil

	case config.StepInteract:
		if err := needSelector(); err != nil {
			return nil, err
		}
		action := schemas.ActionKind(st.Action)
		if !action.Valid() {
			return nil, fmt.Errorf("action must be click, hover or type, got %q", st.Action)
		}
		if st.SettleTimeoutMs < 0 {
			return nil, fmt.Errorf("settle_timeout_ms must not be negative")
		}
		return Interact{
			ID:            st.ID,
			Action:        action,
			Selector:      st.Selector,
			Text:          st.Text,
			Observe:       st.Observe,
			Properties:    st.Properties,
			SettleTimeout: time.Duration(st.SettleTimeoutMs) * time.Millisecond,
		}, nil

	case config.StepAssertVisibility:
		if err := needSelector(); err != nil {
			return nil, err
		}
		if st.MinRatio < 0 || st.MinRatio > 1 {
			return nil, fmt.Errorf("min_ratio must be within [0,1], got %g", st.MinRatio)
		}
		return AssertVisibility{Selector: st.Selector, MinRatio: st.MinRatio}, nil

	case config.StepAssertChanged:
		expected := true
		if st.Expected != nil {
			expected = *st.Expected
		}
		return AssertChanged{Ref: st.Ref, Expected: expected}, nil

	case config.StepScreenshot:
		return Screenshot{Name: st.Name, FullPage: st.FullPage}, nil

	case config.StepScrollIntoView:
		if err := needSelector(); err != nil {
			return nil, err
		}
		return ScrollIntoView{Selector: st.Selector}, nil

	case config.StepAssertStyle:
		if err := needSelector(); err != nil {
			return nil, err
		}
		if st.Property == "" {
			return nil, fmt.Errorf("property is required")
		}
		return AssertStyle{Selector: st.Selector, Property: st.Property, Expected: st.Value}, nil

	case config.StepAssertClass:
		if err := needSelector(); err != nil {
			return nil, err
		}
		if st.Class == "" {
			return nil, fmt.Errorf("class is required")
		}
		present := true
		if st.Present != nil {
			present = *st.Present
		}
		return AssertClass{Selector: st.Selector, Class: st.Class, Present: present}, nil

	case config.StepAssertCount:
		if err := needSelector(); err != nil {
			return nil, err
		}
		if st.Count == nil || *st.Count < 0 {
			return nil, fmt.Errorf("count must be set to a non-negative integer")
		}
		return AssertCount{Selector: st.Selector, Count: *st.Count}, nil
	}
	return nil, fmt.Errorf("unknown step type %q", st.Type)
}
