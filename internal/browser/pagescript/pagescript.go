// internal/browser/pagescript/pagescript.go

// Package pagescript holds the page-side JavaScript shared by every browser backend,
// so chromedp and rod observe the DOM identically.
//
// Every script that takes a selector catches the exception querySelector raises for
// malformed input and reports it as data. A selector typo is then a scenario error
// rather than an evaluation failure that looks like a broken browser.
package pagescript

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// inspectFn reads everything the harness observes about the first match in one
// evaluation, so geometry, styles and scroll offsets come from the same frame.
const inspectFn = `(sel, props) => {
	const out = {
		count: 0,
		rect: {x: 0, y: 0, width: 0, height: 0},
		scrollX: window.scrollX,
		scrollY: window.scrollY,
		viewportWidth: window.innerWidth,
		viewportHeight: window.innerHeight,
		styles: {},
		text: "",
		classes: []
	};
	let all;
	try {
		all = document.querySelectorAll(sel);
	} catch (e) {
		out.error = String((e && e.message) || e);
		return out;
	}
	out.count = all.length;
	if (all.length === 0) return out;
	const el = all[0];
	const r = el.getBoundingClientRect();
	out.rect = {x: r.left, y: r.top, width: r.width, height: r.height};
	const cs = window.getComputedStyle(el);
	for (const p of props) out.styles[p] = cs.getPropertyValue(p);
	out.text = (el.innerText || el.textContent || "").trim();
	out.classes = Array.from(el.classList);
	return out;
}`

const scrollFn = `(sel) => {
	let el;
	try {
		el = document.querySelector(sel);
	} catch (e) {
		return {found: false, ok: false, error: String((e && e.message) || e)};
	}
	if (!el) return {found: false, ok: false};
	el.scrollIntoView({block: "center", inline: "center", behavior: "instant"});
	return {found: true, ok: true};
}`

const focusFn = `(sel) => {
	let el;
	try {
		el = document.querySelector(sel);
	} catch (e) {
		return {found: false, ok: false, error: String((e && e.message) || e)};
	}
	if (!el) return {found: false, ok: false};
	el.focus();
	if ("value" in el && typeof el.select === "function") el.select();
	return {found: true, ok: document.activeElement === el};
}`

// hitFn asks the browser which element would receive a pointer event at (x, y).
const hitFn = `(sel, x, y) => {
	let el;
	try {
		el = document.querySelector(sel);
	} catch (e) {
		return {found: false, ok: false, error: String((e && e.message) || e)};
	}
	if (!el) return {found: false, ok: false};
	const hit = document.elementFromPoint(x, y);
	return {found: true, ok: hit !== null && (hit === el || el.contains(hit))};
}`

// pageFn fingerprints the visible text with 32-bit FNV-1a and reads the scroll state
// of the window and of the container around sel.
const pageFn = `(sel) => {
	const text = document.body ? (document.body.innerText || "") : "";
	let h = 0x811c9dc5;
	for (let i = 0; i < text.length; i++) {
		h ^= text.charCodeAt(i);
		h = Math.imul(h, 0x01000193) >>> 0;
	}
	const out = {
		textHash: h.toString(16).padStart(8, "0"),
		scrollX: window.scrollX,
		scrollY: window.scrollY
	};
	if (!sel) return out;
	let el;
	try {
		el = document.querySelector(sel);
	} catch (e) {
		out.error = String((e && e.message) || e);
		return out;
	}
	if (!el || !el.parentElement) return out;
	let c = el.parentElement;
	for (let p = c; p && p !== document.body && p !== document.documentElement; p = p.parentElement) {
		if (p.scrollWidth > p.clientWidth || p.scrollHeight > p.clientHeight) {
			c = p;
			break;
		}
	}
	const r = c.getBoundingClientRect();
	out.container = {
		rect: {x: r.left, y: r.top, width: r.width, height: r.height},
		scrollLeft: c.scrollLeft,
		scrollTop: c.scrollTop
	};
	return out;
}`

const viewportFn = `() => ({width: window.innerWidth, height: window.innerHeight})`

// InspectFunction is the arrow function form for drivers that pass arguments natively.
func InspectFunction() string { return inspectFn }

// ScrollFunction is the arrow function form of the scroll-into-view script.
func ScrollFunction() string { return scrollFn }

// FocusFunction is the arrow function form of the focus script.
func FocusFunction() string { return focusFn }

// HitTestFunction is the arrow function form of the hit-test script.
func HitTestFunction() string { return hitFn }

// PageStateFunction is the arrow function form of the page observation script.
func PageStateFunction() string { return pageFn }

// ViewportFunction reports the layout viewport size.
func ViewportFunction() string { return viewportFn }

// Inspect returns an expression that evaluates inspectFn for selector and properties.
func Inspect(selector string, properties []string) (string, error) {
	if properties == nil {
		properties = []string{}
	}
	return call(inspectFn, selector, properties)
}

// ScrollIntoView returns an expression that scrolls selector to the viewport centre.
func ScrollIntoView(selector string) (string, error) {
	return call(scrollFn, selector)
}

// Focus returns an expression that focuses selector.
func Focus(selector string) (string, error) {
	return call(focusFn, selector)
}

// HitTest returns an expression that checks whether a pointer event at (x, y) lands on
// selector or inside it.
func HitTest(selector string, x, y float64) (string, error) {
	return call(hitFn, selector, x, y)
}

// PageState returns an expression that observes the page and the container of selector.
func PageState(selector string) (string, error) {
	return call(pageFn, selector)
}

// Viewport returns an expression evaluating to {width, height}.
func Viewport() string {
	return "(" + viewportFn + ")()"
}

// ViewportSize is the decoded result of Viewport.
type ViewportSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DecodeState parses an inspect result for selector. A selector the page rejected
// yields an error wrapping probe.ErrInvalidSelector.
func DecodeState(selector string, raw []byte) (*schemas.ElementState, error) {
	var st schemas.ElementState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode element state: %w (payload: %.200s)", err, raw)
	}
	if st.Error != "" {
		return nil, probe.InvalidSelector(selector, st.Error)
	}
	return &st, nil
}

// Check is the result of the scroll, focus and hit-test scripts.
type Check struct {
	Found bool   `json:"found"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DecodeCheck parses a Check for selector, mapping a page-side selector exception to
// probe.ErrInvalidSelector.
func DecodeCheck(selector string, raw []byte) (Check, error) {
	var c Check
	if err := json.Unmarshal(raw, &c); err != nil {
		return Check{}, fmt.Errorf("decode script result: %w (payload: %.200s)", err, raw)
	}
	if c.Error != "" {
		return c, probe.InvalidSelector(selector, c.Error)
	}
	return c, nil
}

// DecodePageState parses a page observation for selector.
func DecodePageState(selector string, raw []byte) (*schemas.PageState, error) {
	var out struct {
		schemas.PageState
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode page state: %w (payload: %.200s)", err, raw)
	}
	if out.Error != "" {
		return nil, probe.InvalidSelector(selector, out.Error)
	}
	return &out.PageState, nil
}

// call renders fn applied to JSON-encoded args. Selectors are arbitrary user input, so
// they are never spliced into script text unencoded.
func call(fn string, args ...any) (string, error) {
	expr := "(" + fn + ")("
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode script argument: %w", err)
		}
		if i > 0 {
			expr += ", "
		}
		expr += string(b)
	}
	return expr + ")", nil
}
