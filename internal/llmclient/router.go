// internal/llmclient/router.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// FallbackRouter implements agent.Reasoner over a primary and a fallback model.
// A request goes to the fallback only when the primary is rate limited or unavailable.
type FallbackRouter struct {
	logger   *zap.Logger
	primary  agent.Reasoner
	fallback agent.Reasoner
}

// NewFallbackRouter creates a router over the two reasoners.
func NewFallbackRouter(logger *zap.Logger, primary, fallback agent.Reasoner) (*FallbackRouter, error) {
	if primary == nil || fallback == nil {
		return nil, fmt.Errorf("both primary and fallback reasoners must be provided")
	}
	return &FallbackRouter{
		logger:   logger.Named("llm_router"),
		primary:  primary,
		fallback: fallback,
	}, nil
}

// Model reports the primary model.
func (r *FallbackRouter) Model() string { return r.primary.Model() }

// Infer asks the primary model and falls back on capacity errors.
func (r *FallbackRouter) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	out, err := r.primary.Infer(ctx, req)
	if err == nil || !shouldFallback(err) || ctx.Err() != nil {
		return out, err
	}

	r.logger.Info("Primary model unavailable, routing to fallback.",
		zap.String("primary", r.primary.Model()),
		zap.String("fallback", r.fallback.Model()),
		zap.Error(err))
	return r.fallback.Infer(ctx, req)
}

func shouldFallback(err error) bool {
	var rerr *agent.ReasoningError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Kind == agent.KindRateLimited || rerr.Kind == agent.KindUnavailable
}
