// internal/browser/factory.go
package browser

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/browser/rodsession"
	"github.com/xkilldash9x/uiprobe/internal/config"
)

// NewFactory returns the session factory for the configured driver.
func NewFactory(cfg config.BrowserConfig, logger *zap.Logger) (schemas.SessionFactory, error) {
	switch cfg.Driver {
	case config.DriverChromedp, "":
		return NewManager(cfg, logger), nil
	case config.DriverRod:
		return rodsession.NewLauncher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
