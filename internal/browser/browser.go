// Package browser is the headless-browser fallback resolver: when a
// plugin's API walk can't locate a stream, it loads the episode page in a
// real (stealth-patched) Chromium instance, mitigates popups, clicks the
// play affordance, and intercepts the first outbound network response
// whose URL looks like an HLS manifest.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/animegrab/animegrab/internal/domain"
)

// ErrDriverUnavailable signals the browser could not start (missing
// native Chromium dependency, sandbox restrictions, etc). Callers fall
// through to an API-only resolution path rather than treating this as a
// hard failure.
var ErrDriverUnavailable = errors.New("browser: driver unavailable")

// hlsIndicators match the stream URL patterns spec's headless resolver
// looks for among intercepted network responses.
var hlsIndicators = []string{".m3u8", "master.m3u8", "playlist.m3u8"}

// popupMitigationScript neutralizes window.open and common ad-redirect
// triggers before the page's own scripts run.
const popupMitigationScript = `
window.open = function() { return null; };
Object.defineProperty(window, 'onbeforeunload', { get() { return null; }, set() {} });
`

// Config controls a Resolver's browser lifecycle and capture behavior.
type Config struct {
	Headless          bool
	Timeout           time.Duration
	MaxCaptureAttempts int
	AdblockExtPath    string
	MobileEmulation   bool
	BlockPopups       bool
}

// DefaultConfig returns sane defaults: headless, 30s timeout, 3 capture
// attempts, popups blocked.
func DefaultConfig() Config {
	return Config{
		Headless:           true,
		Timeout:            30 * time.Second,
		MaxCaptureAttempts: 3,
		BlockPopups:        true,
	}
}

// Resolver lazily launches one browser instance on first use and reuses
// it across subsequent resolves within a session; Cleanup terminates it.
type Resolver struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	launch  *launcher.Launcher
	started bool
	failed  bool
}

func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// ensureStarted launches the browser on first call. Subsequent calls
// reuse the same instance; if launch previously failed, it returns
// ErrDriverUnavailable immediately without retrying.
func (r *Resolver) ensureStarted() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed {
		return nil, ErrDriverUnavailable
	}
	if r.started {
		return r.browser, nil
	}

	l := launcher.New().Headless(r.cfg.Headless).Set("disable-blink-features", "AutomationControlled")
	if r.cfg.AdblockExtPath != "" {
		l = l.Set("load-extension", r.cfg.AdblockExtPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		r.failed = true
		r.logger.Warn("headless browser failed to launch", slog.String("error", err.Error()))
		return nil, ErrDriverUnavailable
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		r.failed = true
		r.logger.Warn("headless browser failed to connect", slog.String("error", err.Error()))
		return nil, ErrDriverUnavailable
	}

	r.browser = b
	r.launch = l
	r.started = true
	return b, nil
}

// Resolve loads episodeURL, mitigates popups, clicks a play affordance if
// present, and returns the first intercepted response matching an HLS
// indicator along with the request headers used to fetch it.
func (r *Resolver) Resolve(ctx context.Context, episodeURL string) (streamURL string, headers map[string]string, err error) {
	browser, err := r.ensureStarted()
	if err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	page, err := stealth.Page(browser)
	if err != nil {
		return "", nil, &domain.PluginError{Plugin: "browser", Reason: "failed to open stealth page", Err: err}
	}
	page = page.Context(ctx)
	defer page.Close()

	if r.cfg.MobileEmulation {
		page = page.MustSetViewport(390, 844, 3, true)
	}

	if err := page.Navigate(episodeURL); err != nil {
		return "", nil, &domain.PluginError{Plugin: "browser", Reason: "failed to navigate", Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return "", nil, &domain.PluginError{Plugin: "browser", Reason: "page failed to load", Err: err}
	}

	if r.cfg.BlockPopups {
		if _, err := page.Eval(popupMitigationScript); err != nil {
			r.logger.Debug("popup mitigation script failed to inject", slog.String("error", err.Error()))
		}
	}

	result := make(chan capturedStream, 1)
	stop := r.interceptHLS(page, result)
	defer stop()

	if play, err := page.Timeout(2 * time.Second).ElementR("button, .play-button, .jw-icon-display", "play"); err == nil && play != nil {
		_ = play.Click(proto.InputMouseButtonLeft, 1)
	}

	attempts := r.cfg.MaxCaptureAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		select {
		case captured := <-result:
			return captured.url, captured.headers, nil
		case <-ctx.Done():
			return "", nil, &domain.PluginError{Plugin: "browser", Reason: "no stream found"}
		case <-time.After(r.cfg.Timeout / time.Duration(attempts)):
			continue
		}
	}
	return "", nil, &domain.PluginError{Plugin: "browser", Reason: "no stream found"}
}

type capturedStream struct {
	url     string
	headers map[string]string
}

// interceptHLS hooks the page's network traffic and pushes the first
// response whose URL matches an HLS indicator onto result. Returns a stop
// function that detaches the hook.
func (r *Resolver) interceptHLS(page *rod.Page, result chan<- capturedStream) func() {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		reqURL := h.Request.URL().String()
		if isHLSURL(reqURL) {
			headers := make(map[string]string, 4)
			for k, v := range h.Request.Headers() {
				headers[k] = v.String()
			}
			select {
			case result <- capturedStream{url: reqURL, headers: headers}:
			default:
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router.MustStop
}

func isHLSURL(u string) bool {
	lower := strings.ToLower(u)
	for _, indicator := range hlsIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Cleanup terminates the underlying browser process, if one was started.
func (r *Resolver) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		_ = r.browser.Close()
	}
	if r.launch != nil {
		r.launch.Cleanup()
	}
	r.started = false
	r.browser = nil
	r.launch = nil
}
