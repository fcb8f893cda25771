// File: internal/service/initializers.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/browser"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/llmclient"
)

// InitializeReasoner creates the reasoning client for the configured provider.
func InitializeReasoner(ctx context.Context, cfg config.AgentConfig, viewport config.ViewportConfig, logger *zap.Logger) (agent.Reasoner, error) {
	bounds := agent.Bounds{Width: viewport.Width, Height: viewport.Height}
	reasoner, err := llmclient.NewReasoner(ctx, cfg.LLM, bounds, logger)
	if err != nil {
		logger.Error("Failed to initialize reasoning client. Sessions cannot run without it.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize reasoning client: %w", err)
	}
	return reasoner, nil
}

// InitializeBrowsers creates the actuator factory for the configured driver.
func InitializeBrowsers(cfg config.BrowserConfig, logger *zap.Logger) (agent.ActuatorFactory, error) {
	f, err := browser.NewFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Serve runs the HTTP server until ctx is cancelled or the server fails, then
// shuts the sessions down. When ln is nil it listens on the configured address.
func Serve(ctx context.Context, c *Components, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if ln == nil {
			return c.Server.ListenAndServe(gctx)
		}
		return c.Server.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("Stopping sessions...")
		return c.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunOnce runs a single session in-process and blocks until it is terminal.
// Progress is delivered to sink as it happens; sink may be nil.
func RunOnce(ctx context.Context, c *Components, req agent.RunRequest, sink agent.Sink, screenshots bool) (*agent.Session, error) {
	req, err := req.Normalize(c.Config.Server.DefaultStartURL)
	if err != nil {
		return nil, err
	}
	return c.Sessions.Run(ctx, req, agent.RunOptions{Mode: agent.Incremental, Sink: sink, Screenshots: screenshots})
}
