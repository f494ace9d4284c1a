// File: internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Probe() ProbeConfig
	History() HistoryConfig
	Serve() ServeConfig

	// CLI overrides
	SetOutputDir(dir string)
	SetSettleTimeoutMs(ms int)
	SetPollIntervalMs(ms int)
	SetBrowserDriver(driver string)
	SetBrowserHeadless(headless bool)
	RestrictViewports(names []string) error
	RestrictScenarios(names []string) error
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	ProbeCfg   ProbeConfig   `mapstructure:"probe" yaml:"probe"`
	HistoryCfg HistoryConfig `mapstructure:"history" yaml:"history"`
	ServeCfg   ServeConfig   `mapstructure:"serve" yaml:"serve"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Probe() ProbeConfig     { return c.ProbeCfg }
func (c *Config) History() HistoryConfig { return c.HistoryCfg }
func (c *Config) Serve() ServeConfig     { return c.ServeCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetOutputDir(dir string)          { c.ProbeCfg.OutputDir = dir }
func (c *Config) SetSettleTimeoutMs(ms int)        { c.ProbeCfg.SettleTimeoutMs = ms }
func (c *Config) SetPollIntervalMs(ms int)         { c.ProbeCfg.PollIntervalMs = ms }
func (c *Config) SetBrowserDriver(driver string)   { c.BrowserCfg.Driver = driver }
func (c *Config) SetBrowserHeadless(headless bool) { c.BrowserCfg.Headless = headless }

// RestrictViewports keeps only the named viewports, preserving configured order.
func (c *Config) RestrictViewports(names []string) error {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var kept []schemas.ViewportSpec
	for _, vp := range c.ProbeCfg.Viewports {
		if want[vp.Name] {
			kept = append(kept, vp)
			delete(want, vp.Name)
		}
	}
	if len(want) > 0 {
		return fmt.Errorf("unknown viewport(s): %s", strings.Join(sortedKeys(want), ", "))
	}
	c.ProbeCfg.Viewports = kept
	return nil
}

// RestrictScenarios keeps only the named scenarios, preserving configured order.
func (c *Config) RestrictScenarios(names []string) error {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var kept []ScenarioConfig
	for _, sc := range c.ProbeCfg.Scenarios {
		if want[sc.Name] {
			kept = append(kept, sc)
			delete(want, sc.Name)
		}
	}
	if len(want) > 0 {
		return fmt.Errorf("unknown scenario(s): %s", strings.Join(sortedKeys(want), ", "))
	}
	c.ProbeCfg.Scenarios = kept
	return nil
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// Stealth injects the go-rod/stealth evasions into every new document.
	Stealth bool `mapstructure:"stealth" yaml:"stealth"`
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// UserAgent, Timezone and Locale pin the page persona. Empty keeps the browser's own.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
}

// ProbeConfig describes what to probe and how.
type ProbeConfig struct {
	TargetURL              string                 `mapstructure:"target_url" yaml:"target_url"`
	Viewports              []schemas.ViewportSpec `mapstructure:"viewports" yaml:"viewports"`
	Scenarios              []ScenarioConfig       `mapstructure:"scenarios" yaml:"scenarios"`
	ScenariosFile          string                 `mapstructure:"scenarios_file" yaml:"scenarios_file"`
	SettleTimeoutMs        int                    `mapstructure:"settle_timeout_ms" yaml:"settle_timeout_ms"`
	PollIntervalMs         int                    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	OutputDir              string                 `mapstructure:"output_dir" yaml:"output_dir"`
	ReloadBetweenScenarios bool                   `mapstructure:"reload_between_scenarios" yaml:"reload_between_scenarios"`
	GeometryTolerancePx    float64                `mapstructure:"geometry_tolerance_px" yaml:"geometry_tolerance_px"`
	FullPageScreenshots    bool                   `mapstructure:"full_page_screenshots" yaml:"full_page_screenshots"`
}

func (p ProbeConfig) SettleTimeout() time.Duration {
	return time.Duration(p.SettleTimeoutMs) * time.Millisecond
}

func (p ProbeConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// ScenarioNames lists the configured scenario names in declaration order.
func (p ProbeConfig) ScenarioNames() []string {
	names := make([]string, len(p.Scenarios))
	for i, sc := range p.Scenarios {
		names[i] = sc.Name
	}
	return names
}

// Step types recognised in scenario configuration.
const (
	StepMeasure          = "measure"
	StepInteract         = "interact"
	StepAssertVisibility = "assert_visibility"
	StepAssertChanged    = "assert_changed"
	StepScreenshot       = "screenshot"
	StepScrollIntoView   = "scroll_into_view"
	StepAssertStyle      = "assert_style"
	StepAssertClass      = "assert_class"
	StepAssertCount      = "assert_count"
)

var knownSteps = map[string]bool{
	StepMeasure:          true,
	StepInteract:         true,
	StepAssertVisibility: true,
	StepAssertChanged:    true,
	StepScreenshot:       true,
	StepScrollIntoView:   true,
	StepAssertStyle:      true,
	StepAssertClass:      true,
	StepAssertCount:      true,
}

// ScenarioConfig is the declarative form of a scenario.
type ScenarioConfig struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Description string       `mapstructure:"description" yaml:"description"`
	Steps       []StepConfig `mapstructure:"steps" yaml:"steps"`
}

// StepConfig is a flat, tagged representation of one step. Type selects which
// of the remaining fields are meaningful.
type StepConfig struct {
	Type     string `mapstructure:"type" yaml:"type"`
	Selector string `mapstructure:"selector" yaml:"selector"`

	// interact
	ID              string   `mapstructure:"id" yaml:"id"`
	Action          string   `mapstructure:"action" yaml:"action"`
	Text            string   `mapstructure:"text" yaml:"text"`
	Observe         string   `mapstructure:"observe" yaml:"observe"`
	Properties      []string `mapstructure:"properties" yaml:"properties"`
	SettleTimeoutMs int      `mapstructure:"settle_timeout_ms" yaml:"settle_timeout_ms"`

	// assert_visibility
	MinRatio float64 `mapstructure:"min_ratio" yaml:"min_ratio"`

	// assert_changed
	Ref      string `mapstructure:"ref" yaml:"ref"`
	Expected *bool  `mapstructure:"expected" yaml:"expected"`

	// assert_style
	Property string `mapstructure:"property" yaml:"property"`
	Value    string `mapstructure:"value" yaml:"value"`

	// assert_class
	Class   string `mapstructure:"class" yaml:"class"`
	Present *bool  `mapstructure:"present" yaml:"present"`

	// assert_count
	Count *int `mapstructure:"count" yaml:"count"`

	// screenshot
	Name     string `mapstructure:"name" yaml:"name"`
	FullPage bool   `mapstructure:"full_page" yaml:"full_page"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ServeConfig controls the local report server.
type ServeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "uiprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.stealth", false)
	v.SetDefault("browser.timezone", "UTC")
	v.SetDefault("browser.locale", "en-US")

	// -- Probe --
	v.SetDefault("probe.target_url", "")
	v.SetDefault("probe.viewports", []map[string]any{
		{"name": "Mobile", "width": 375, "height": 667},
		{"name": "Tablet", "width": 768, "height": 1024},
		{"name": "Desktop", "width": 1920, "height": 1080},
	})
	v.SetDefault("probe.settle_timeout_ms", 3000)
	v.SetDefault("probe.poll_interval_ms", 100)
	v.SetDefault("probe.output_dir", "uiprobe-report")
	v.SetDefault("probe.reload_between_scenarios", true)
	v.SetDefault("probe.geometry_tolerance_px", 0.5)
	v.SetDefault("probe.full_page_screenshots", false)

	// -- History --
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "~/.uiprobe/history.db")

	// -- Serve --
	v.SetDefault("serve.addr", "127.0.0.1:8089")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Scenarios from probe.scenarios_file are appended after any inline scenarios.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("probe.target_url", "UIPROBE_TARGET_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if cfg.ProbeCfg.ScenariosFile != "" {
		scenarios, err := LoadScenariosFile(cfg.ProbeCfg.ScenariosFile)
		if err != nil {
			return nil, err
		}
		cfg.ProbeCfg.Scenarios = append(cfg.ProbeCfg.Scenarios, scenarios...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.ProbeCfg.OutputDir,
		&c.ProbeCfg.ScenariosFile,
		&c.HistoryCfg.Path,
		&c.BrowserCfg.ExecPath,
		&c.LoggerCfg.LogFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// scenarioFile is the document layout of probe.scenarios_file.
type scenarioFile struct {
	Scenarios []ScenarioConfig `yaml:"scenarios"`
}

// LoadScenariosFile reads scenarios from a YAML document with a top-level
// "scenarios" list.
func LoadScenariosFile(path string) ([]ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios file: %w", err)
	}
	return ParseScenarios(data)
}

// ParseScenarios decodes a scenarios document. Unknown keys are rejected so typos
// in step fields surface at load time.
func ParseScenarios(data []byte) ([]ScenarioConfig, error) {
	var doc scenarioFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	return doc.Scenarios, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.ProbeCfg.Validate(); err != nil {
		return fmt.Errorf("probe configuration invalid: %w", err)
	}
	if c.HistoryCfg.Enabled && c.HistoryCfg.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

// Validate checks the browser configuration.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverChromedp, DriverRod, b.Driver)
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the probe configuration.
func (p *ProbeConfig) Validate() error {
	if len(p.Viewports) == 0 {
		return fmt.Errorf("at least one viewport is required")
	}
	seen := make(map[string]bool, len(p.Viewports))
	for _, vp := range p.Viewports {
		if err := vp.Validate(); err != nil {
			return err
		}
		if strings.EqualFold(vp.Name, schemas.NativeViewportName) {
			return fmt.Errorf("viewport name %q is reserved for the browser's own window size", vp.Name)
		}
		if seen[vp.Name] {
			return fmt.Errorf("duplicate viewport name %q", vp.Name)
		}
		seen[vp.Name] = true
	}
	if p.SettleTimeoutMs <= 0 {
		return fmt.Errorf("settle_timeout_ms must be a positive integer")
	}
	if p.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be a positive integer")
	}
	if p.PollIntervalMs >= p.SettleTimeoutMs {
		return fmt.Errorf("poll_interval_ms must be smaller than settle_timeout_ms")
	}
	if p.GeometryTolerancePx < 0 {
		return fmt.Errorf("geometry_tolerance_px must not be negative")
	}
	if p.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	names := make(map[string]bool, len(p.Scenarios))
	for _, sc := range p.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario name must not be empty")
		}
		if names[sc.Name] {
			return fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		names[sc.Name] = true
		for i, st := range sc.Steps {
			if !knownSteps[st.Type] {
				return fmt.Errorf("scenario %q step %d: unknown step type %q", sc.Name, i, st.Type)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
