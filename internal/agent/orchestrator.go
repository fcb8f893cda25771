// internal/agent/orchestrator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// FailureReasonCancelled is the failure reason of a session stopped by its caller.
const FailureReasonCancelled = "cancelled"

// Orchestrator drives sessions from initialization to a terminal status. It holds
// only process-wide, read-only collaborators; every session gets its own actuator.
type Orchestrator struct {
	factory  ActuatorFactory
	reasoner Reasoner
	cfg      config.LoopConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewOrchestrator validates the loop configuration and returns an orchestrator.
func NewOrchestrator(factory ActuatorFactory, reasoner Reasoner, cfg config.LoopConfig, logger *zap.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	if factory == nil || reasoner == nil {
		return nil, errors.New("orchestrator requires an actuator factory and a reasoner")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop configuration: %w", err)
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &Orchestrator{
		factory:  factory,
		reasoner: reasoner,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

// Model returns the reasoning model identifier.
func (o *Orchestrator) Model() string { return o.reasoner.Model() }

// Run drives sess until it is terminal and returns the final snapshot. Progress is
// published through streamer, which may be nil. The browser is closed exactly once
// on every path, even when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, streamer *Streamer) *Session {
	logger := o.logger.With(zap.String("session_id", sess.ID))
	o.metrics.SessionStarted()
	logger.Info("Session starting.", zap.String("goal", sess.Goal), zap.String("start_url", sess.StartURL))

	// Sink failures mean the consumer went away; treat them as cancellation.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	status, summary, reason := o.drive(runCtx, sess, streamer, cancel, logger)
	if sess.finish(status, summary, reason, o.now()) {
		o.metrics.SessionFinished(string(status))
	}

	final := sess.Snapshot()
	logger.Info("Session finished.",
		zap.String("status", string(final.Status)),
		zap.Int("steps", len(final.Steps)),
		zap.String("reason", final.FailureReason))

	if streamer != nil {
		// The caller may be gone; the final event gets its own bounded context.
		finCtx, finCancel := o.teardownContext(ctx)
		defer finCancel()
		if err := streamer.Finish(finCtx, FinalEvent{
			Status:        final.Status,
			Summary:       final.Summary,
			FailureReason: final.FailureReason,
			TotalSteps:    len(final.Steps),
		}); err != nil {
			logger.Debug("Final event not delivered.", zap.Error(err))
		}
	}
	return final
}

// drive runs initialization and the step loop and reports the terminal status.
// Teardown happens here, before the status is published.
func (o *Orchestrator) drive(ctx context.Context, sess *Session, streamer *Streamer, cancel context.CancelFunc, logger *zap.Logger) (SessionStatus, string, string) {
	actuator, err := o.factory.NewActuator(ctx)
	if err != nil {
		logger.Error("Failed to launch browser.", zap.Error(err))
		return StatusFailed, "", fmt.Sprintf("browser launch failed: %v", err)
	}
	closer := &onceCloser{actuator: actuator}
	defer o.teardown(ctx, closer, logger)

	openCtx, openCancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	err = actuator.Open(openCtx, sess.StartURL)
	openCancel()
	if err != nil {
		if ctx.Err() != nil {
			return StatusFailed, "", FailureReasonCancelled
		}
		logger.Error("Failed to open start URL.", zap.Error(err))
		return StatusFailed, "", fmt.Sprintf("could not open %s: %v", sess.StartURL, err)
	}

	executor := NewStepExecutor(actuator, o.reasoner, o.cfg, logger, o.metrics)
	executor.now = o.now

	for index := 0; index < o.cfg.MaxSteps; index++ {
		if ctx.Err() != nil {
			return StatusFailed, "", FailureReasonCancelled
		}

		out := executor.Run(ctx, sess, index)
		if out.recorded {
			if err := sess.appendStep(out.step); err != nil {
				// Only possible through a programming error; stop rather than corrupt the trail.
				logger.Error("Step rejected by session.", zap.Error(err))
				return StatusFailed, "", err.Error()
			}
			if streamer != nil {
				if err := streamer.StepRecorded(ctx, out.step); err != nil {
					logger.Info("Stream consumer unavailable; cancelling session.", zap.Error(err))
					cancel()
				}
			}
		}

		switch {
		case out.done:
			return StatusSucceeded, out.step.Action.Summary, ""
		case out.fatal != nil:
			logger.Error("Fatal browser error.", zap.Int("step", index), zap.Error(out.fatal))
			return StatusFailed, "", fmt.Sprintf("browser crashed at step %d: %v", index, out.fatal)
		case out.cancelled:
			return StatusFailed, "", FailureReasonCancelled
		}
	}

	if ctx.Err() != nil {
		return StatusFailed, "", FailureReasonCancelled
	}
	logger.Info("Step budget exhausted.", zap.Int("max_steps", o.cfg.MaxSteps))
	return StatusMaxStepsReached, "", ""
}

// teardown closes the actuator with a context detached from the caller's
// cancellation. Errors are logged and never change the session status.
func (o *Orchestrator) teardown(ctx context.Context, closer *onceCloser, logger *zap.Logger) {
	closeCtx, cancel := o.teardownContext(ctx)
	defer cancel()
	if err := closer.Close(closeCtx); err != nil {
		logger.Warn("Browser close failed.", zap.Error(err))
	}
}

func (o *Orchestrator) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
}

// onceCloser guarantees a single Close call per actuator.
type onceCloser struct {
	actuator Actuator
	once     sync.Once
	err      error
}

func (c *onceCloser) Close(ctx context.Context) error {
	c.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("panic during close: %v", r)
			}
		}()
		c.err = c.actuator.Close(ctx)
	})
	return c.err
}
