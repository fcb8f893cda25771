// internal/browser/actuator_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
)

var testViewport = agent.Bounds{Width: 1280, Height: 720}

func requireExecKind(t *testing.T, err error, want agent.ExecutionKind) {
	t.Helper()
	var execErr *agent.ExecutionError
	require.True(t, errors.As(err, &execErr), "expected *ExecutionError, got %T: %v", err, err)
	assert.Equal(t, want, execErr.Kind)
}

// -- Classification --

func TestClassify(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	boom := errors.New("boom")

	assert.NoError(t, classify(live, nil, true, agent.KindTimeout))
	requireExecKind(t, classify(live, boom, true, agent.KindTimeout), agent.KindDriverCrashed)
	requireExecKind(t, classify(expired, boom, false, agent.KindNavigationFailed), agent.KindTimeout)
	requireExecKind(t, classify(live, boom, false, agent.KindNavigationFailed), agent.KindNavigationFailed)
	assert.ErrorIs(t, classify(cancelled, boom, false, agent.KindTimeout), context.Canceled)

	t.Run("TypedErrorsPassThrough", func(t *testing.T) {
		oob := &agent.ExecutionError{Kind: agent.KindTargetOutOfBounds}
		requireExecKind(t, classify(live, fmt.Errorf("wrapped: %w", oob), true, agent.KindTimeout), agent.KindTargetOutOfBounds)
	})
}

func TestNavigationError(t *testing.T) {
	budget := &agent.ExecutionError{Kind: agent.KindTimeout, Err: context.DeadlineExceeded}

	// The navigation budget ran out while the step still had time.
	requireExecKind(t, navigationError(context.Background(), budget), agent.KindNavigationFailed)

	// The step itself ran out.
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	requireExecKind(t, navigationError(expired, budget), agent.KindTimeout)

	assert.NoError(t, navigationError(context.Background(), nil))
}

func TestCheckBounds(t *testing.T) {
	tests := []struct {
		x, y int
		ok   bool
	}{
		{0, 0, true},
		{1279, 719, true},
		{640, 360, true},
		{1280, 10, false},
		{10, 720, false},
		{-1, 10, false},
		{10, -1, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.x, tt.y), func(t *testing.T) {
			err := checkBounds(tt.x, tt.y, testViewport)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				requireExecKind(t, err, agent.KindTargetOutOfBounds)
			}
		})
	}
	assert.NoError(t, checkBounds(5000, 5000, agent.Bounds{}), "unknown viewport skips the check")
}

func TestScrollDelta(t *testing.T) {
	assert.Equal(t, 300.0, scrollDelta(agent.Action{Type: agent.ActionScroll, Direction: agent.ScrollDown, Amount: 300}))
	assert.Equal(t, -120.0, scrollDelta(agent.Action{Type: agent.ActionScroll, Direction: agent.ScrollUp, Amount: 120}))
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	require.NoError(t, waitFor(context.Background(), agent.Action{Type: agent.ActionWait, DurationMS: 20}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	requireExecKind(t, waitFor(ctx, agent.Action{Type: agent.ActionWait, DurationMS: 60_000}), agent.KindTimeout)

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	assert.ErrorIs(t, waitFor(cctx, agent.Action{Type: agent.ActionWait, DurationMS: 60_000}), context.Canceled)
}

func TestSettle(t *testing.T) {
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.NoError(t, settle(expired, time.Second), "a deadline hit while settling does not fail the action")

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	assert.ErrorIs(t, settle(cctx, time.Second), context.Canceled)
}

// -- chromedp actuator without a browser --

// deadChromedp returns an actuator whose browser context is already gone, as it is
// after chromedp loses the connection.
func deadChromedp() *chromedpActuator {
	browserCtx, cancel := context.WithCancel(context.Background())
	cancel()
	return &chromedpActuator{
		viewport:   testViewport,
		format:     captureFormat{quality: 80},
		logger:     zap.NewNop(),
		browserCtx: browserCtx,
	}
}

func TestChromedpActuator_OutOfBoundsNeverReachesBrowser(t *testing.T) {
	a := deadChromedp()
	err := a.Execute(context.Background(), agent.Action{Type: agent.ActionClick, X: 1280, Y: 5})
	requireExecKind(t, err, agent.KindTargetOutOfBounds)
}

func TestChromedpActuator_LostBrowserIsCrash(t *testing.T) {
	a := deadChromedp()

	err := a.Execute(context.Background(), agent.Action{Type: agent.ActionClick, X: 10, Y: 10})
	requireExecKind(t, err, agent.KindDriverCrashed)

	_, err = a.Capture(context.Background())
	var capErr *agent.CaptureError
	require.True(t, errors.As(err, &capErr))
	requireExecKind(t, err, agent.KindDriverCrashed)

	requireExecKind(t, a.Open(context.Background(), "https://example.com"), agent.KindDriverCrashed)
}

func TestChromedpActuator_WaitDoesNotNeedBrowser(t *testing.T) {
	a := deadChromedp()
	assert.NoError(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionWait, DurationMS: 1}))
}

func TestChromedpActuator_DoneIsRejected(t *testing.T) {
	a := deadChromedp()
	assert.Error(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionDone, Summary: "x"}))
}

// -- rod actuator without a browser --

func TestRodActuator_CrashedShortCircuits(t *testing.T) {
	a := &rodActuator{viewport: testViewport, logger: zap.NewNop()}
	a.crashed.Store(true)

	requireExecKind(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionClick, X: 1, Y: 1}), agent.KindDriverCrashed)
	requireExecKind(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionTypeText, Text: "hi"}), agent.KindDriverCrashed)
	requireExecKind(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionScroll, Direction: agent.ScrollDown, Amount: 10}), agent.KindDriverCrashed)

	_, err := a.Capture(context.Background())
	var capErr *agent.CaptureError
	require.True(t, errors.As(err, &capErr))
	requireExecKind(t, err, agent.KindDriverCrashed)
}

func TestRodActuator_OutOfBounds(t *testing.T) {
	a := &rodActuator{viewport: testViewport, logger: zap.NewNop()}
	requireExecKind(t, a.Execute(context.Background(), agent.Action{Type: agent.ActionClick, X: 3, Y: 9000}), agent.KindTargetOutOfBounds)
}
