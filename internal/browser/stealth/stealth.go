// Package stealth prepares every new tab before the target page loads: a pinned
// persona (timezone, locale, user agent) so dates and number formats render the same
// on every machine, and optionally the go-rod/stealth evasions that hide automation.
package stealth

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	rodstealth "github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/config"
)

// EvasionsJS is evaluated in every new document when evasions are enabled.
var EvasionsJS = rodstealth.JS

// Persona defines the browser characteristics to emulate. Empty fields keep the
// browser's own value.
type Persona struct {
	UserAgent string
	Timezone  string
	Locale    string
}

// FromConfig reads the persona from the browser configuration.
func FromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Timezone:  cfg.Timezone,
		Locale:    cfg.Locale,
	}
}

// IsZero reports whether the persona changes nothing.
func (p Persona) IsZero() bool {
	return p == Persona{}
}

// AcceptLanguage derives the Accept-Language header from the locale,
// e.g. "de-CH" -> "de-CH,de;q=0.9". It is empty when no locale is set.
func (p Persona) AcceptLanguage() string {
	if p.Locale == "" {
		return ""
	}
	lang, _, found := strings.Cut(p.Locale, "-")
	if !found || lang == "" {
		return p.Locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", p.Locale, lang)
}

// Tasks builds the actions that prepare a fresh tab. It returns nil when there is
// nothing to apply.
func Tasks(p Persona, evasions bool, logger *zap.Logger) chromedp.Tasks {
	var tasks chromedp.Tasks
	if p.IsZero() && !evasions {
		return tasks
	}
	logger.Debug("Applying page persona.",
		zap.String("user_agent", p.UserAgent),
		zap.String("timezone", p.Timezone),
		zap.String("locale", p.Locale),
		zap.Bool("evasions", evasions),
	)

	if p.UserAgent != "" {
		override := emulation.SetUserAgentOverride(p.UserAgent)
		if al := p.AcceptLanguage(); al != "" {
			override = override.WithAcceptLanguage(al)
		}
		tasks = append(tasks, override)
	} else if al := p.AcceptLanguage(); al != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": al}))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if evasions && EvasionsJS != "" {
		// AddScriptToEvaluateOnNewDocument returns an identifier as well, so it needs a wrapper.
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(EvasionsJS).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}))
	}
	return tasks
}
