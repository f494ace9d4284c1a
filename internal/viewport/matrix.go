// Package viewport replays a body of probes across a list of window sizes.
package viewport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

// Body runs against the page once the viewport has been applied.
type Body func(ctx context.Context, vp schemas.ViewportSpec) (schemas.ScenarioResult, error)

// Matrix applies viewports to a single session strictly in order.
type Matrix struct {
	session schemas.BrowserSession
	logger  *zap.Logger
}

// NewMatrix creates a Matrix for session.
func NewMatrix(session schemas.BrowserSession, logger *zap.Logger) *Matrix {
	return &Matrix{session: session, logger: logger.Named("viewport")}
}

// ForEach applies each viewport in list order and invokes body. The viewport that was
// active before the call is restored on every exit path.
//
// Cancellation is checked before each viewport. A cancelled context, a failure to apply
// a viewport, or a fatal error from body stops the loop; results gathered so far are
// returned together with the error. Non-fatal body errors are the body's own business
// and are expected to be recorded in the result it returns.
func (m *Matrix) ForEach(ctx context.Context, viewports []schemas.ViewportSpec, body Body) (results []schemas.ScenarioResult, err error) {
	// Browser calls must not be torn down mid-flight; cancellation is observed between viewports.
	callCtx := context.WithoutCancel(ctx)

	previous, err := m.session.Viewport(callCtx)
	if err != nil {
		return nil, probe.SessionError("read viewport", err)
	}
	defer func() {
		if restoreErr := m.session.SetViewport(callCtx, previous); restoreErr != nil {
			m.logger.Warn("Failed to restore viewport.", zap.Stringer("viewport", previous), zap.Error(restoreErr))
			err = errors.Join(err, probe.SessionError("restore viewport", restoreErr))
			return
		}
		m.logger.Debug("Restored viewport.", zap.Stringer("viewport", previous))
	}()

	results = make([]schemas.ScenarioResult, 0, len(viewports))
	for _, vp := range viewports {
		if cerr := probe.Cancelled(ctx); cerr != nil {
			return results, cerr
		}
		if serr := m.session.SetViewport(callCtx, vp); serr != nil {
			return results, probe.SessionError(fmt.Sprintf("apply viewport %s", vp), serr)
		}
		m.logger.Debug("Applied viewport.", zap.Stringer("viewport", vp))

		res, berr := body(ctx, vp)
		results = append(results, res)
		if berr != nil {
			if errors.Is(berr, probe.ErrCancelled) || probe.IsFatal(berr) {
				return results, berr
			}
			m.logger.Debug("Viewport body reported an error.", zap.Stringer("viewport", vp), zap.Error(berr))
		}
	}
	return results, nil
}
