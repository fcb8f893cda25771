// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/api"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// defaultShutdownTimeout bounds session teardown when the config leaves it unset.
const defaultShutdownTimeout = 30 * time.Second

// Components holds everything a running navigator needs, wired together.
// This struct centralizes the lifecycle management of the session stack.
type Components struct {
	Config   *config.Config
	Metrics  *observability.Metrics
	Reasoner agent.Reasoner
	Browsers agent.ActuatorFactory
	Sessions *agent.Manager
	Server   *api.Server

	logger *zap.Logger
}

// Shutdown cancels every running session and waits for their browsers to close.
// It uses its own timeout so it completes even when the caller's context is gone.
func (c *Components) Shutdown() error {
	if c.Sessions == nil {
		return nil
	}
	timeout := defaultShutdownTimeout
	if c.Config != nil && c.Config.Server.ShutdownTimeout > 0 {
		timeout = c.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.logger.Debug("Beginning components shutdown sequence.", zap.Int("active_sessions", c.Sessions.Active()))
	if err := c.Sessions.Shutdown(ctx); err != nil {
		c.logger.Warn("Sessions did not shut down cleanly.", zap.Error(err))
		return err
	}
	c.logger.Info("All components shut down successfully.")
	return nil
}
