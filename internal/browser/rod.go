// internal/browser/rod.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

// probeTimeout bounds the liveness check run after an unexplained driver error.
const probeTimeout = 2 * time.Second

// rodActuator drives one browser through go-rod. Calls go through proto requests on
// a page clone bound to the caller's context, so a step deadline cancels the request
// in flight.
type rodActuator struct {
	cfg      config.BrowserConfig
	viewport agent.Bounds
	format   captureFormat
	pointer  *pointer
	logger   *zap.Logger

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	stopEvents func()

	crashed   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ agent.Actuator = (*rodActuator)(nil)

// newRodActuator launches a browser process, connects to it and opens a blank page.
func newRodActuator(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*rodActuator, error) {
	l := newLauncher(cfg).Context(Detach(ctx))

	type launchResult struct {
		url string
		err error
	}
	launched := make(chan launchResult, 1)
	go func() {
		u, err := l.Launch()
		launched <- launchResult{u, err}
	}()

	var controlURL string
	select {
	case res := <-launched:
		if res.err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", res.err)
		}
		controlURL = res.url
	case <-ctx.Done():
		l.Kill()
		return nil, ctx.Err()
	}

	browser := rod.New().ControlURL(controlURL).Context(Detach(ctx))
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	a := &rodActuator{
		cfg:      cfg,
		viewport: viewportBounds(cfg.Viewport),
		format:   newCaptureFormat(cfg),
		pointer:  newPointer(cfg.PointerSteps, viewportBounds(cfg.Viewport)),
		logger:   logger,
		launcher: l,
		browser:  browser,
		page:     p,
	}
	events, stopEvents := p.WithCancel()
	a.stopEvents = stopEvents
	go events.EachEvent(func(*proto.InspectorTargetCrashed) {
		a.crashed.Store(true)
		logger.Warn("Browser target crashed.")
	})()
	return a, nil
}

// isCrashed decides whether err means the browser is gone. CDP protocol errors come
// from a live browser; anything else is checked with a version probe.
func (a *rodActuator) isCrashed(err error) bool {
	if a.crashed.Load() {
		return true
	}
	if err == nil {
		return false
	}
	var (
		protoErr *cdp.Error
		navErr   *rod.NavigationError
	)
	if errors.As(err, &protoErr) || errors.As(err, &navErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if _, perr := (proto.BrowserGetVersion{}).Call(a.browser.Context(probeCtx)); perr != nil {
		a.crashed.Store(true)
		return true
	}
	return false
}

func (a *rodActuator) call(ctx context.Context, fallback agent.ExecutionKind, fn func(p *rod.Page) error) error {
	if a.crashed.Load() {
		return &agent.ExecutionError{Kind: agent.KindDriverCrashed, Err: errDriverCrashed}
	}
	err := fn(a.page.Context(ctx))
	if err == nil {
		return nil
	}
	return classify(ctx, err, a.isCrashed(err), fallback)
}

// Open sizes the viewport and loads the start URL.
func (a *rodActuator) Open(ctx context.Context, startURL string) error {
	err := a.call(ctx, agent.KindNavigationFailed, func(p *rod.Page) error {
		return p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             a.viewport.Width,
			Height:            a.viewport.Height,
			DeviceScaleFactor: 1,
		})
	})
	if err != nil {
		return err
	}
	return a.navigate(ctx, startURL)
}

func (a *rodActuator) navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if a.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, a.cfg.NavigationTimeout)
		defer cancel()
	}
	err := a.call(navCtx, agent.KindNavigationFailed, func(p *rod.Page) error {
		if err := p.Navigate(url); err != nil {
			return err
		}
		return p.WaitLoad()
	})
	return navigationError(ctx, err)
}

// Capture screenshots the viewport.
func (a *rodActuator) Capture(ctx context.Context) (agent.Screenshot, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatJpeg}
	if a.format.png {
		req.Format = proto.PageCaptureScreenshotFormatPng
	} else if a.format.quality > 0 {
		q := a.format.quality
		req.Quality = &q
	}

	var buf []byte
	err := a.call(ctx, agent.KindTimeout, func(p *rod.Page) error {
		var err error
		buf, err = p.Screenshot(false, req)
		return err
	})
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
func (a *rodActuator) Execute(ctx context.Context, action agent.Action) error {
	switch action.Type {
	case agent.ActionClick:
		if err := checkBounds(action.X, action.Y, a.viewport); err != nil {
			return err
		}
		x, y := float64(action.X), float64(action.Y)
		var events []proto.InputDispatchMouseEvent
		for _, pt := range a.pointer.glideTo(action.X, action.Y) {
			events = append(events, proto.InputDispatchMouseEvent{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: pt.X, Y: pt.Y})
		}
		events = append(events,
			proto.InputDispatchMouseEvent{Type: proto.InputDispatchMouseEventTypeMousePressed, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
			proto.InputDispatchMouseEvent{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		)
		err := a.call(ctx, agent.KindTimeout, func(p *rod.Page) error {
			for _, ev := range events {
				if err := ev.Call(p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return settle(ctx, a.cfg.ClickSettle)

	case agent.ActionTypeText:
		return a.call(ctx, agent.KindTimeout, func(p *rod.Page) error {
			return proto.InputInsertText{Text: action.Text}.Call(p)
		})

	case agent.ActionScroll:
		err := a.call(ctx, agent.KindTimeout, func(p *rod.Page) error {
			return proto.InputDispatchMouseEvent{
				Type:   proto.InputDispatchMouseEventTypeMouseWheel,
				X:      float64(a.viewport.Width) / 2,
				Y:      float64(a.viewport.Height) / 2,
				DeltaY: scrollDelta(action),
			}.Call(p)
		})
		if err != nil {
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

// Close closes the browser and removes its profile directory. It is safe to call
// more than once.
func (a *rodActuator) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		done := make(chan error, 1)
		a.stopEvents()
		go func() {
			err := a.browser.Close()
			a.launcher.Kill()
			a.launcher.Cleanup()
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil && !a.crashed.Load() {
				a.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			a.launcher.Kill()
			a.closeErr = fmt.Errorf("browser close interrupted: %w", ctx.Err())
		}
	})
	return a.closeErr
}
