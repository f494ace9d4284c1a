// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "uiprobe", cfg.Logger().ServiceName)
	assert.Equal(t, DriverChromedp, cfg.Browser().Driver)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, "UTC", cfg.Browser().Timezone)
	assert.Equal(t, "en-US", cfg.Browser().Locale)
	assert.Empty(t, cfg.Browser().UserAgent)
	assert.Equal(t, 3000, cfg.Probe().SettleTimeoutMs)
	assert.Equal(t, 100, cfg.Probe().PollIntervalMs)
	assert.Equal(t, 3*time.Second, cfg.Probe().SettleTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Probe().PollInterval())
	assert.True(t, cfg.Probe().ReloadBetweenScenarios)
	assert.Equal(t, 0.5, cfg.Probe().GeometryTolerancePx)
	assert.Equal(t, []schemas.ViewportSpec{
		{Name: "Mobile", Width: 375, Height: 667},
		{Name: "Tablet", Width: 768, Height: 1024},
		{Name: "Desktop", Width: 1920, Height: 1080},
	}, cfg.Probe().Viewports)
	assert.NoError(t, cfg.Validate(), "defaults must be valid on their own")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Browser Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BrowserCfg.Driver = "playwright"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "driver must be")

		cfg = NewDefaultConfig()
		cfg.BrowserCfg.NavigationTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "navigation_timeout must be a positive duration")
	})

	t.Run("Viewport Validation", func(t *testing.T) {
		tests := []struct {
			name      string
			viewports []schemas.ViewportSpec
			wantErr   string
		}{
			{"empty list", nil, "at least one viewport is required"},
			{"empty name", []schemas.ViewportSpec{{Width: 10, Height: 10}}, "viewport name must not be empty"},
			{"zero width", []schemas.ViewportSpec{{Name: "A", Width: 0, Height: 10}}, "positive dimensions"},
			{"negative height", []schemas.ViewportSpec{{Name: "A", Width: 10, Height: -1}}, "positive dimensions"},
			{"duplicate", []schemas.ViewportSpec{{Name: "A", Width: 1, Height: 1}, {Name: "A", Width: 2, Height: 2}}, "duplicate viewport name"},
			{"reserved name", []schemas.ViewportSpec{{Name: "native", Width: 800, Height: 600}}, `viewport name "native" is reserved`},
			{"reserved name any case", []schemas.ViewportSpec{{Name: "Native", Width: 800, Height: 600}}, "is reserved"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := NewDefaultConfig()
				cfg.ProbeCfg.Viewports = tt.viewports
				assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
			})
		}
	})

	t.Run("Timing Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ProbeCfg.SettleTimeoutMs = 0
		assert.ErrorContains(t, cfg.Validate(), "settle_timeout_ms must be a positive integer")

		cfg = NewDefaultConfig()
		cfg.ProbeCfg.PollIntervalMs = -5
		assert.ErrorContains(t, cfg.Validate(), "poll_interval_ms must be a positive integer")

		cfg = NewDefaultConfig()
		cfg.ProbeCfg.PollIntervalMs = 3000
		assert.ErrorContains(t, cfg.Validate(), "must be smaller than settle_timeout_ms")

		cfg = NewDefaultConfig()
		cfg.ProbeCfg.GeometryTolerancePx = -1
		assert.ErrorContains(t, cfg.Validate(), "geometry_tolerance_px")
	})

	t.Run("Scenario Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ProbeCfg.Scenarios = []ScenarioConfig{{Name: "a"}, {Name: "a"}}
		assert.ErrorContains(t, cfg.Validate(), "duplicate scenario name")

		cfg = NewDefaultConfig()
		cfg.ProbeCfg.Scenarios = []ScenarioConfig{{Name: ""}}
		assert.ErrorContains(t, cfg.Validate(), "scenario name must not be empty")

		cfg = NewDefaultConfig()
		cfg.ProbeCfg.Scenarios = []ScenarioConfig{{Name: "a", Steps: []StepConfig{{Type: "wiggle"}}}}
		assert.ErrorContains(t, cfg.Validate(), `unknown step type "wiggle"`)
	})

	t.Run("History Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.HistoryCfg.Path = ""
		assert.ErrorContains(t, cfg.Validate(), "history.path is required")

		cfg.HistoryCfg.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

const sampleYAML = `
logger:
  level: debug
browser:
  driver: rod
  navigation_timeout: 10s
  timezone: Europe/Zurich
probe:
  target_url: http://localhost:5181
  settle_timeout_ms: 2000
  viewports:
    - name: Mobile
      width: 375
      height: 667
  scenarios:
    - name: carousel-first-item-visible
      description: First project card is on screen
      steps:
        - type: scroll_into_view
          selector: "#projects"
        - type: measure
          selector: .first-item
        - type: assert_visibility
          selector: .first-item
          min_ratio: 0.5
    - name: carousel-navigation
      steps:
        - type: interact
          id: next
          action: click
          selector: .next-arrow
          observe: h3
          properties: [opacity, transform]
        - type: assert_changed
          ref: next
          expected: true
        - type: assert_count
          selector: .dot
          count: 3
        - type: assert_class
          selector: .dot:nth-child(2)
          class: bg-blue-400
        - type: screenshot
          name: after-next
`

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(sampleYAML)))
		v.Set("history.path", filepath.Join(t.TempDir(), "history.db"))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logger().Level)
		assert.Equal(t, DriverRod, cfg.Browser().Driver)
		assert.Equal(t, 10*time.Second, cfg.Browser().NavigationTimeout)
		assert.Equal(t, "Europe/Zurich", cfg.Browser().Timezone)
		assert.Equal(t, "en-US", cfg.Browser().Locale, "default survives partial override")
		assert.Equal(t, "http://localhost:5181", cfg.Probe().TargetURL)
		assert.Equal(t, 2000, cfg.Probe().SettleTimeoutMs)
		assert.Equal(t, 100, cfg.Probe().PollIntervalMs, "default survives partial override")
		require.Len(t, cfg.Probe().Viewports, 1)
		assert.Equal(t, int64(375), cfg.Probe().Viewports[0].Width)

		require.Len(t, cfg.Probe().Scenarios, 2)
		assert.Equal(t, []string{"carousel-first-item-visible", "carousel-navigation"}, cfg.Probe().ScenarioNames())
		vis := cfg.Probe().Scenarios[0].Steps[2]
		assert.Equal(t, StepAssertVisibility, vis.Type)
		assert.Equal(t, 0.5, vis.MinRatio)

		nav := cfg.Probe().Scenarios[1].Steps
		assert.Equal(t, []string{"opacity", "transform"}, nav[0].Properties)
		require.NotNil(t, nav[1].Expected)
		assert.True(t, *nav[1].Expected)
		require.NotNil(t, nav[2].Count)
		assert.Equal(t, 3, *nav[2].Count)
		assert.Nil(t, nav[3].Present, "unset present stays nil so the default can apply")
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("probe.poll_interval_ms", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "poll_interval_ms must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("probe:\n  target_url: http://configfile:1\n")))

		t.Setenv("UIPROBE_TARGET_URL", "http://envvar:2")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "http://envvar:2", cfg.Probe().TargetURL)
	})

	t.Run("Scenarios File", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "scenarios.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - name: from-file
    steps:
      - type: measure
        selector: .hero
`), 0o644))

		v := viper.New()
		SetDefaults(v)
		v.Set("probe.scenarios", []map[string]any{{"name": "inline"}})
		v.Set("probe.scenarios_file", path)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, []string{"inline", "from-file"}, cfg.Probe().ScenarioNames())
	})

	t.Run("Missing Scenarios File", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("probe.scenarios_file", filepath.Join(t.TempDir(), "nope.yaml"))

		_, err := NewConfigFromViper(v)
		assert.ErrorContains(t, err, "reading scenarios file")
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("probe.output_dir", "~/uiprobe-out")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.NotContains(t, cfg.Probe().OutputDir, "~")
		assert.True(t, filepath.IsAbs(cfg.Probe().OutputDir))
	})
}

func TestParseScenarios(t *testing.T) {
	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := ParseScenarios([]byte("scenarios:\n  - name: x\n    stepz: []\n"))
		assert.ErrorContains(t, err, "parsing scenarios")
	})

	t.Run("empty document", func(t *testing.T) {
		scenarios, err := ParseScenarios(nil)
		require.NoError(t, err)
		assert.Empty(t, scenarios)
	})
}

// -- Override Tests --

func TestRestrictions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ProbeCfg.Scenarios = []ScenarioConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	require.NoError(t, cfg.RestrictViewports([]string{"Desktop", "Mobile"}))
	assert.Equal(t, "Mobile", cfg.Probe().Viewports[0].Name, "configured order is preserved")
	assert.Equal(t, "Desktop", cfg.Probe().Viewports[1].Name)

	require.NoError(t, cfg.RestrictScenarios([]string{"c", "a"}))
	assert.Equal(t, []string{"a", "c"}, cfg.Probe().ScenarioNames())

	assert.ErrorContains(t, cfg.RestrictViewports([]string{"Watch", "Fridge"}), "unknown viewport(s): Fridge, Watch")
	assert.ErrorContains(t, cfg.RestrictScenarios([]string{"zzz"}), "unknown scenario(s): zzz")

	require.NoError(t, cfg.RestrictScenarios(nil), "empty restriction keeps everything")
	assert.Len(t, cfg.Probe().Scenarios, 2)
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetOutputDir("/tmp/out")
	cfg.SetSettleTimeoutMs(500)
	cfg.SetPollIntervalMs(25)
	cfg.SetBrowserDriver(DriverRod)
	cfg.SetBrowserHeadless(false)

	assert.Equal(t, "/tmp/out", cfg.Probe().OutputDir)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe().SettleTimeout())
	assert.Equal(t, 25*time.Millisecond, cfg.Probe().PollInterval())
	assert.Equal(t, DriverRod, cfg.Browser().Driver)
	assert.False(t, cfg.Browser().Headless)
}
