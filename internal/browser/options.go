// internal/browser/options.go
package browser

import (
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

// parseArg splits a command line flag such as "--proxy-server=host:3128" into its
// name and value. A bare flag reports hasValue false.
func parseArg(arg string) (name, value string, hasValue bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	name, value, hasValue = strings.Cut(arg, "=")
	return name, value, hasValue
}

// execAllocatorOptions builds the chromedp launch flags for a session browser.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryPath))
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := parseArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// newLauncher builds the rod launcher with the same flags the chromedp driver uses.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set(flags.Flag("window-size"), windowSize(cfg.Viewport))
	if cfg.DisableGPU {
		l = l.Set("disable-gpu")
	}
	if cfg.BinaryPath != "" {
		l = l.Bin(cfg.BinaryPath)
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := parseArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

func windowSize(v config.ViewportConfig) string {
	return strconv.Itoa(v.Width) + "," + strconv.Itoa(v.Height)
}

// captureFormat is the screenshot encoding a session uses.
type captureFormat struct {
	png     bool
	quality int
}

func newCaptureFormat(cfg config.BrowserConfig) captureFormat {
	return captureFormat{
		png:     strings.EqualFold(cfg.ScreenshotFormat, "png"),
		quality: cfg.ScreenshotQuality,
	}
}

func (f captureFormat) mimeType() string {
	if f.png {
		return "image/png"
	}
	return "image/jpeg"
}

func viewportBounds(v config.ViewportConfig) agent.Bounds {
	return agent.Bounds{Width: v.Width, Height: v.Height}
}
