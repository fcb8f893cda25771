// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// errDriverCrashed is reported once a session has seen its browser die.
var errDriverCrashed = errors.New("browser connection lost")

// classify turns a driver error into the error the loop expects. crashed is the
// driver's own verdict on whether the browser is gone; fallback is the kind used for
// failures a live browser reported.
//
// Cancellation of ctx is not a failure and is returned unwrapped.
func classify(ctx context.Context, err error, crashed bool, fallback agent.ExecutionKind) error {
	if err == nil {
		return nil
	}
	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	switch {
	case crashed:
		return &agent.ExecutionError{Kind: agent.KindDriverCrashed, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &agent.ExecutionError{Kind: agent.KindTimeout, Err: err}
	default:
		return &agent.ExecutionError{Kind: fallback, Err: err}
	}
}

// checkBounds rejects click targets outside the viewport before anything is sent to
// the browser.
func checkBounds(x, y int, viewport agent.Bounds) error {
	if !viewport.Known() {
		return nil
	}
	if x < 0 || y < 0 || x >= viewport.Width || y >= viewport.Height {
		return &agent.ExecutionError{
			Kind: agent.KindTargetOutOfBounds,
			Err:  fmt.Errorf("(%d, %d) is outside the %dx%d viewport", x, y, viewport.Width, viewport.Height),
		}
	}
	return nil
}

// scrollDelta converts a scroll action into a vertical wheel delta.
func scrollDelta(action agent.Action) float64 {
	if action.Direction == agent.ScrollUp {
		return -float64(action.Amount)
	}
	return float64(action.Amount)
}

// waitFor runs a wait action. An expired step deadline is a timeout; cancellation
// passes through.
func waitFor(ctx context.Context, action agent.Action) error {
	err := sleepCtx(ctx, time.Duration(action.DurationMS)*time.Millisecond)
	if errors.Is(err, context.DeadlineExceeded) {
		return &agent.ExecutionError{Kind: agent.KindTimeout, Err: err}
	}
	return err
}

// settle pauses after an input event so the page can react before the next capture.
// Only cancellation is reported; a step deadline hit while settling is not a failure
// of the action itself.
func settle(ctx context.Context, d time.Duration) error {
	if err := sleepCtx(ctx, d); errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
