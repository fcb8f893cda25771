// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is also canceled when secondary
// is done, and that carries secondary's deadline when it is the earlier one. Values
// come from primary only; for chromedp that is where the target lives.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if dl, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, dl)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}

	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{} { return nil }
func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that keeps ctx's values but never expires. Browser
// processes are parented on it so they outlive the request that launched them.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
