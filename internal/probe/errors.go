// Package probe holds the error taxonomy shared by every harness component.
package probe

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Components wrap these so callers can classify with errors.Is.
var (
	// ErrElementNotFound means a selector matched no elements. Recoverable.
	ErrElementNotFound = errors.New("element not found")
	// ErrElementNotInteractable means the target is absent, has zero area, or is covered.
	// Aborts the current scenario only.
	ErrElementNotInteractable = errors.New("element not interactable")
	// ErrNavigation means the target page failed to load. Fatal for the run.
	ErrNavigation = errors.New("navigation failure")
	// ErrBrowserSession means the browser crashed or disconnected. Fatal for the run.
	ErrBrowserSession = errors.New("browser session error")
	// ErrCancelled marks cooperative cancellation observed between steps or viewports.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidSelector means the page rejected a selector, e.g. a CSS syntax error.
	// Aborts the current scenario only.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrPageScript means a page-side evaluation threw. The browser itself is healthy,
	// so it aborts the current scenario only.
	ErrPageScript = errors.New("page script error")
)

// ErrorKind is the stable, serialisable name of an error class.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindNotFound        ErrorKind = "element_not_found"
	KindNotInteractable ErrorKind = "element_not_interactable"
	KindNavigation      ErrorKind = "navigation_failure"
	KindBrowserSession  ErrorKind = "browser_session_error"
	KindCancelled       ErrorKind = "cancelled"
	KindInvalidSelector ErrorKind = "invalid_selector"
	KindPageScript      ErrorKind = "page_script_error"
	KindStepFailed      ErrorKind = "step_failed"
)

// KindOf classifies err against the taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrNavigation):
		return KindNavigation
	case errors.Is(err, ErrBrowserSession):
		return KindBrowserSession
	case errors.Is(err, ErrElementNotInteractable):
		return KindNotInteractable
	case errors.Is(err, ErrElementNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidSelector):
		return KindInvalidSelector
	case errors.Is(err, ErrPageScript):
		return KindPageScript
	default:
		return KindStepFailed
	}
}

// IsFatal reports whether err must stop the whole run rather than a single scenario.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNavigation) || errors.Is(err, ErrBrowserSession)
}

// SelectorError attaches the offending selector to a taxonomy error.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("%s: %q", e.Err, e.Selector)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// NotFound builds the error returned when selector matched nothing.
func NotFound(selector string) error {
	return &SelectorError{Selector: selector, Err: ErrElementNotFound}
}

// NotInteractable builds the error returned when selector cannot receive input.
func NotInteractable(selector, reason string) error {
	return &SelectorError{Selector: selector, Err: fmt.Errorf("%w (%s)", ErrElementNotInteractable, reason)}
}

// InvalidSelector builds the error returned when the page cannot parse selector.
func InvalidSelector(selector, reason string) error {
	return &SelectorError{Selector: selector, Err: fmt.Errorf("%w (%s)", ErrInvalidSelector, reason)}
}

// PageScriptError wraps an exception thrown by page-side script during op.
func PageScriptError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPageScript, op, err)
}

// SessionError wraps a browser transport failure as fatal.
func SessionError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBrowserSession) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrBrowserSession, op, err)
}

// Cancelled returns ErrCancelled when ctx is done, nil otherwise.
// It is the check performed between steps and between viewports.
func Cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// StepError records which step of a scenario failed.
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Kind classifies the underlying error.
func (e *StepError) Kind() ErrorKind { return KindOf(e.Err) }
