// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// Collaborator operations, as named in retry metrics and logs.
const (
	opCapture = "capture"
	opInfer   = "infer"
	opExecute = "execute"
)

// stepOutcome tells the orchestrator what one iteration produced.
type stepOutcome struct {
	step      Step
	recorded  bool  // step must be appended
	done      bool  // a done action was parsed
	fatal     error // the session cannot continue
	cancelled bool  // ctx ended while the step was in flight
}

// StepExecutor performs one capture, reason, parse, act iteration.
type StepExecutor struct {
	actuator Actuator
	reasoner Reasoner
	cfg      config.LoopConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewStepExecutor binds an executor to one session's actuator.
func NewStepExecutor(actuator Actuator, reasoner Reasoner, cfg config.LoopConfig, logger *zap.Logger, metrics *observability.Metrics) *StepExecutor {
	return &StepExecutor{
		actuator: actuator,
		reasoner: reasoner,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run executes step index of sess. It never appends to the session itself.
func (e *StepExecutor) Run(ctx context.Context, sess *Session, index int) stepOutcome {
	started := e.now()
	step := Step{Index: index, Timestamp: started}
	logger := e.logger.With(zap.Int("step", index))

	// 1. Observe.
	shot, n, err := withRetry(ctx, e, opCapture, e.cfg.StepTimeout, func(c context.Context) (Screenshot, error) {
		return e.actuator.Capture(c)
	})
	step.Attempts += n
	if err != nil {
		if ctx.Err() != nil {
			return stepOutcome{cancelled: true}
		}
		logger.Warn("Screenshot capture failed after retries.", zap.Int("attempts", n), zap.Error(err))
		return e.failed(step, err, started, "capture_failure")
	}
	step.Screenshot = shot

	// 2. Reason over a bounded history.
	recent, omitted := sess.recentSteps(e.cfg.HistoryWindow)
	req := InferenceRequest{
		Goal:       sess.Goal,
		Screenshot: shot,
		History:    BuildHistory(recent, omitted, e.cfg.HistoryWindow, e.cfg.HistoryEntryMaxLen),
		StepIndex:  index,
		MaxSteps:   e.cfg.MaxSteps,
	}
	raw, n, err := withRetry(ctx, e, opInfer, e.cfg.StepTimeout, func(c context.Context) (string, error) {
		callStart := e.now()
		out, err := e.reasoner.Infer(c, req)
		status := "ok"
		if err != nil {
			status = errorKind(err)
		}
		e.metrics.ObserveReasoning(e.reasoner.Model(), status, e.now().Sub(callStart))
		return out, err
	})
	step.Attempts += n
	if err != nil {
		if ctx.Err() != nil {
			return stepOutcome{cancelled: true}
		}
		logger.Warn("Reasoning failed after retries.", zap.Int("attempts", n), zap.Error(err))
		return e.failed(step, err, started, "reasoning_failure")
	}
	step.RawResponse = raw

	// 3. Parse. A rejected response is recorded and never executed.
	parsed := Parse(raw, shot.Bounds())
	step.Reasoning = parsed.Reasoning
	if !parsed.OK() {
		step.ParseFailure = parsed.Failure
		step.Result = ActionResult{ErrorKind: ResultKindParseFailure, Error: parsed.Failure.Reason}
		logger.Info("Model response rejected.", zap.String("reason", parsed.Failure.Reason))
		e.metrics.StepRecorded("parse_failure", e.now().Sub(started))
		return stepOutcome{step: step, recorded: true}
	}
	action := *parsed.Action
	step.Action = &action

	// 4. Done is terminal and never reaches the browser.
	if action.Type == ActionDone {
		step.Result = ActionResult{OK: true, Message: resultMessage(action)}
		logger.Info("Model declared the goal achieved.", zap.String("summary", action.Summary))
		e.metrics.StepRecorded("done", e.now().Sub(started))
		return stepOutcome{step: step, recorded: true, done: true}
	}

	// 5. Act.
	logger.Debug("Executing action.", zap.Stringer("action", action), zap.String("reasoning", step.Reasoning))
	_, n, err = withRetry(ctx, e, opExecute, e.executeTimeout(action), func(c context.Context) (struct{}, error) {
		return struct{}{}, e.actuator.Execute(c, action)
	})
	step.Attempts += n
	if err != nil {
		if ctx.Err() != nil {
			// The action may already have taken effect, so the step is kept.
			step.Result = ActionResult{ErrorKind: ResultKindCancelled, Error: err.Error()}
			return stepOutcome{step: step, recorded: true, cancelled: true}
		}
		logger.Warn("Action failed.", zap.Stringer("action", action), zap.Error(err))
		return e.failed(step, err, started, "execution_failure")
	}

	step.Result = ActionResult{OK: true, Message: resultMessage(action)}
	e.metrics.StepRecorded("ok", e.now().Sub(started))
	return stepOutcome{step: step, recorded: true}
}

// failed records a collaborator failure on the step. A crashed driver is fatal.
func (e *StepExecutor) failed(step Step, err error, started time.Time, outcome string) stepOutcome {
	step.Result = ActionResult{ErrorKind: errorKind(err), Error: err.Error()}
	e.metrics.StepRecorded(outcome, e.now().Sub(started))
	out := stepOutcome{step: step, recorded: true}
	if isFatal(err) {
		out.fatal = err
	}
	return out
}

// policy builds the bounded exponential backoff for one collaborator call.
func (e *StepExecutor) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if e.cfg.Retry.InitialInterval > 0 {
		b.InitialInterval = e.cfg.Retry.InitialInterval
	}
	if e.cfg.Retry.MaxInterval > 0 {
		b.MaxInterval = e.cfg.Retry.MaxInterval
	}
	if e.cfg.Retry.Multiplier >= 1 {
		b.Multiplier = e.cfg.Retry.Multiplier
	}
	// The retry count is the only bound; elapsed time is bounded per call instead.
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.Retry.MaxRetries)), ctx)
}

// executeTimeout bounds one Execute call. A wait is allowed its own duration on top
// of the step timeout.
func (e *StepExecutor) executeTimeout(action Action) time.Duration {
	if action.Type == ActionWait {
		return e.cfg.StepTimeout + time.Duration(action.DurationMS)*time.Millisecond
	}
	return e.cfg.StepTimeout
}

// withRetry runs call under timeout, retrying transient failures per policy.
// It returns the number of attempts made. Permanent and context errors stop at once.
func withRetry[T any](ctx context.Context, e *StepExecutor, op string, timeout time.Duration, call func(context.Context) (T, error)) (T, int, error) {
	var (
		result   T
		attempts int
	)
	operation := func() error {
		attempts++
		r, err := callWithTimeout(ctx, timeout, op, call)
		if err == nil {
			result = r
			return nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.Retried(op)
		e.logger.Debug("Retrying collaborator call.",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, e.policy(ctx), notify)
	return result, attempts, err
}

// callWithTimeout bounds one call by timeout even if the collaborator ignores its
// context. An abandoned call keeps running until it returns on its own. A panic in
// the collaborator comes back as an error of the kind recoveredError assigns to op.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: recoveredError(op, r)}
			}
		}()
		v, err := call(callCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-done:
			return r.val, r.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("call abandoned: %w", callCtx.Err())
	}
}

// resultMessage describes a successful action in the words the history uses.
func resultMessage(a Action) string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("Clicked at (%d, %d)", a.X, a.Y)
	case ActionTypeText:
		return "Typed: " + a.Text
	case ActionScroll:
		return fmt.Sprintf("Scrolled %s %dpx", a.Direction, a.Amount)
	case ActionNavigate:
		return "Navigated to " + a.URL
	case ActionWait:
		return fmt.Sprintf("Waited %dms", a.DurationMS)
	case ActionDone:
		return "DONE: " + a.Summary
	default:
		return string(a.Type)
	}
}
