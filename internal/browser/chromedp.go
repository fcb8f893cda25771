// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

// chromedpActuator drives one Chrome process through chromedp. Every call runs on a
// context combined from the browser context (which holds the target) and the
// caller's context (which holds the step deadline).
type chromedpActuator struct {
	cfg      config.BrowserConfig
	viewport agent.Bounds
	format   captureFormat
	pointer  *pointer
	logger   *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	crashed   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ agent.Actuator = (*chromedpActuator)(nil)

// newChromedpActuator launches a browser and waits until its first tab is attached.
func newChromedpActuator(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*chromedpActuator, error) {
	a := &chromedpActuator{
		cfg:      cfg,
		viewport: viewportBounds(cfg.Viewport),
		format:   newCaptureFormat(cfg),
		pointer:  newPointer(cfg.PointerSteps, viewportBounds(cfg.Viewport)),
		logger:   logger,
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), execAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error.", zap.String("detail", fmt.Sprintf(format, args...)))
		}),
	)
	a.allocCancel, a.browserCtx, a.browserCancel = allocCancel, browserCtx, browserCancel

	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()

	select {
	case err := <-launched:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		if _, ok := ev.(*inspector.EventTargetCrashed); ok {
			a.crashed.Store(true)
			logger.Warn("Browser target crashed.")
		}
	})
	return a, nil
}

// isCrashed reports whether the browser is gone. chromedp cancels the browser
// context when the connection is lost.
func (a *chromedpActuator) isCrashed(err error) bool {
	if a.crashed.Load() {
		return true
	}
	if a.browserCtx.Err() != nil ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidContext) {
		a.crashed.Store(true)
		return true
	}
	return false
}

func (a *chromedpActuator) run(ctx context.Context, fallback agent.ExecutionKind, actions ...chromedp.Action) error {
	if a.isCrashed(nil) {
		return &agent.ExecutionError{Kind: agent.KindDriverCrashed, Err: errDriverCrashed}
	}
	runCtx, cancel := CombineContext(a.browserCtx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	return classify(ctx, err, a.isCrashed(err), fallback)
}

// Open sizes the viewport and loads the start URL.
func (a *chromedpActuator) Open(ctx context.Context, startURL string) error {
	err := a.run(ctx, agent.KindNavigationFailed,
		chromedp.EmulateViewport(int64(a.viewport.Width), int64(a.viewport.Height)))
	if err != nil {
		return err
	}
	return a.navigate(ctx, startURL)
}

func (a *chromedpActuator) navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if a.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, a.cfg.NavigationTimeout)
		defer cancel()
	}
	err := a.run(navCtx, agent.KindNavigationFailed, chromedp.Navigate(url))
	return navigationError(ctx, err)
}

// navigationError reports a navigation that ran out of its own budget as
// navigation_failed. Only the caller's deadline makes it a timeout.
func navigationError(ctx context.Context, err error) error {
	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) && execErr.Kind == agent.KindTimeout && ctx.Err() == nil {
		return &agent.ExecutionError{Kind: agent.KindNavigationFailed, Err: execErr.Err}
	}
	return err
}

// Capture screenshots the viewport.
func (a *chromedpActuator) Capture(ctx context.Context) (agent.Screenshot, error) {
	params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatJpeg)
	if a.format.png {
		params = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
	} else if a.format.quality > 0 {
		params = params.WithQuality(int64(a.format.quality))
	}

	var buf []byte
	err := a.run(ctx, agent.KindTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return agent.Screenshot{}, &agent.CaptureError{Err: err}
	}
	if len(buf) == 0 {
		return agent.Screenshot{}, &agent.CaptureError{Err: errors.New("browser returned an empty screenshot")}
	}
	return agent.Screenshot{
		Data:     buf,
		MIMEType: a.format.mimeType(),
		Width:    a.viewport.Width,
		Height:   a.viewport.Height,
	}, nil
}

// Execute performs one action. done never reaches the actuator.
func (a *chromedpActuator) Execute(ctx context.Context, action agent.Action) error {
	switch action.Type {
	case agent.ActionClick:
		if err := checkBounds(action.X, action.Y, a.viewport); err != nil {
			return err
		}
		var actions []chromedp.Action
		for _, pt := range a.pointer.glideTo(action.X, action.Y) {
			actions = append(actions, input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y))
		}
		actions = append(actions, chromedp.MouseClickXY(float64(action.X), float64(action.Y)))
		if err := a.run(ctx, agent.KindTimeout, actions...); err != nil {
			return err
		}
		return settle(ctx, a.cfg.ClickSettle)

	case agent.ActionTypeText:
		return a.run(ctx, agent.KindTimeout, chromedp.KeyEvent(action.Text))

	case agent.ActionScroll:
		cx, cy := float64(a.viewport.Width)/2, float64(a.viewport.Height)/2
		wheel := input.DispatchMouseEvent(input.MouseWheel, cx, cy).
			WithDeltaX(0).
			WithDeltaY(scrollDelta(action))
		if err := a.run(ctx, agent.KindTimeout, wheel); err != nil {
			return err
		}
		return settle(ctx, a.cfg.ScrollSettle)

	case agent.ActionNavigate:
		return a.navigate(ctx, action.URL)

	case agent.ActionWait:
		return waitFor(ctx, action)

	default:
		return fmt.Errorf("action %q cannot be executed by the browser", action.Type)
	}
}

// Close shuts the browser down gracefully and then kills the process. It is safe to
// call more than once.
func (a *chromedpActuator) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			err := chromedp.Cancel(a.browserCtx)
			a.browserCancel()
			a.allocCancel()
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			// Killing the process does not wait for a graceful shutdown.
			a.allocCancel()
			a.closeErr = fmt.Errorf("browser close interrupted: %w", ctx.Err())
		}
	})
	return a.closeErr
}
