// internal/browser/factory.go
package browser

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

// launchFunc starts one browser for one session.
type launchFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (agent.Actuator, error)

// Factory launches a fresh browser per session using the configured driver.
type Factory struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	launch launchFunc
}

var _ agent.ActuatorFactory = (*Factory)(nil)

// NewFactory validates the browser settings and selects the driver.
func NewFactory(cfg config.BrowserConfig, logger *zap.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser configuration: %w", err)
	}
	f := &Factory{cfg: cfg, logger: logger.Named("browser").With(zap.String("driver", string(cfg.Driver)))}

	switch cfg.Driver {
	case config.DriverChromedp:
		f.launch = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (agent.Actuator, error) {
			a, err := newChromedpActuator(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return a, nil
		}
	case config.DriverRod:
		f.launch = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (agent.Actuator, error) {
			a, err := newRodActuator(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return a, nil
		}
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", cfg.Driver)
	}
	return f, nil
}

// Driver names the backend in use.
func (f *Factory) Driver() config.BrowserDriver { return f.cfg.Driver }

// NewActuator launches an isolated browser. The process outlives ctx; only its
// launch is bounded by it.
func (f *Factory) NewActuator(ctx context.Context) (agent.Actuator, error) {
	logger := f.logger.With(zap.String("browser_id", uuid.NewString()))
	a, err := f.launch(ctx, f.cfg, logger)
	if err != nil {
		logger.Error("Browser launch failed.", zap.Error(err))
		return nil, err
	}
	logger.Debug("Browser launched.",
		zap.Int("viewport_width", f.cfg.Viewport.Width),
		zap.Int("viewport_height", f.cfg.Viewport.Height))
	return a, nil
}
