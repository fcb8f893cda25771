// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/api"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// ComponentFactory defines the interface for creating the set of components a
// command needs. This abstraction is the key to making the commands testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

type (
	reasonerFunc func(ctx context.Context, cfg config.AgentConfig, viewport config.ViewportConfig, logger *zap.Logger) (agent.Reasoner, error)
	browsersFunc func(cfg config.BrowserConfig, logger *zap.Logger) (agent.ActuatorFactory, error)
)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	newReasoner reasonerFunc
	newBrowsers browsersFunc
}

// FactoryOption overrides how a ComponentFactory builds a collaborator.
type FactoryOption func(*concreteFactory)

// WithReasoner makes the factory use r instead of the configured provider.
func WithReasoner(r agent.Reasoner) FactoryOption {
	return func(f *concreteFactory) {
		f.newReasoner = func(context.Context, config.AgentConfig, config.ViewportConfig, *zap.Logger) (agent.Reasoner, error) {
			return r, nil
		}
	}
}

// WithActuatorFactory makes the factory use browsers instead of launching the
// configured driver.
func WithActuatorFactory(browsers agent.ActuatorFactory) FactoryOption {
	return func(f *concreteFactory) {
		f.newBrowsers = func(config.BrowserConfig, *zap.Logger) (agent.ActuatorFactory, error) {
			return browsers, nil
		}
	}
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{
		newReasoner: InitializeReasoner,
		newBrowsers: InitializeBrowsers,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates the configuration and wires the session stack: metrics, the
// reasoning client, the browser factory, the orchestrator, the session manager and
// the HTTP server. Nothing is launched until a session starts.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	metrics := observability.NewMetrics(nil)
	logger.Debug("Metrics registry initialized.")

	reasoner, err := f.newReasoner(ctx, cfg.Agent, cfg.Browser.Viewport, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Reasoning client initialized.", zap.String("model", reasoner.Model()))

	browsers, err := f.newBrowsers(cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser factory: %w", err)
	}
	logger.Debug("Browser factory initialized.", zap.String("driver", string(cfg.Browser.Driver)))

	orch, err := agent.NewOrchestrator(browsers, reasoner, cfg.Agent.Loop, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	sessions := agent.NewManager(orch, cfg.Server.MaxSessions, logger)

	components := &Components{
		Config:   cfg,
		Metrics:  metrics,
		Reasoner: reasoner,
		Browsers: browsers,
		Sessions: sessions,
		Server:   api.NewServer(cfg.Server, sessions, metrics, logger),
		logger:   logger,
	}
	logger.Info("All components initialized successfully.",
		zap.Int("max_sessions", cfg.Server.MaxSessions),
		zap.Int("max_steps", cfg.Agent.Loop.MaxSteps))
	return components, nil
}
