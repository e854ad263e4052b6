// Package render drives a headless Chrome to obtain the fully rendered HTML
// of JavaScript-dependent pages.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
)

// ErrRender reports that a page could not be loaded or extracted.
var ErrRender = errors.New("render failed")

// Config controls the behavior of the headless renderer.
type Config struct {
	UserAgent         string
	Locale            string
	AcceptLanguage    string
	Referer           string
	Proxy             string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	// MinHTMLBytes is the size below which a render is considered incomplete
	// and the page is loaded once more.
	MinHTMLBytes    int
	ReadySelector   string
	ExtractSelector string
	ExecPath        string
	Headful         bool
	NoSandbox       bool
}

const (
	defaultNavTimeout = 60 * time.Second
	lifecycleDOMReady = "DOMContentLoaded"
	lifecycleIdle     = "networkIdle"
)

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1366
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 768
	}
	if c.ReadySelector == "" {
		c.ReadySelector = "body"
	}
	if c.ExtractSelector == "" {
		c.ExtractSelector = "html"
	}
}

// Chromedp renders pages with a fresh headless Chrome per call. Nothing is
// shared between calls, so a wedged browser can never leak into the next check.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Render loads rawURL and returns the rendered document. The browser is torn
// down before Render returns, on success and failure alike.
func (r *Chromedp) Render(ctx context.Context, rawURL string) (string, error) {
	start := time.Now()
	html, err := r.render(ctx, rawURL)
	metrics.ObserveRender(rawURL, err == nil, time.Since(start), len(html))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRender, rawURL, err)
	}
	return html, nil
}

func (r *Chromedp) render(ctx context.Context, rawURL string) (string, error) {
	r.logger.Info("launching headless browser",
		zap.String("url", rawURL),
		zap.Bool("proxy", r.cfg.Proxy != ""),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer func() {
		browserCancel()
		r.logger.Debug("browser closed", zap.String("url", rawURL))
	}()

	events := newLifecycle()
	chromedp.ListenTarget(browserCtx, events.capture)

	if err := chromedp.Run(browserCtx, r.setupAction()); err != nil {
		return "", fmt.Errorf("browser setup: %w", err)
	}

	if err := r.load(browserCtx, events, rawURL); err != nil {
		return "", err
	}
	html, err := r.extract(browserCtx)
	if err != nil {
		return "", err
	}
	r.logger.Info("rendered html", zap.String("url", rawURL), zap.Int("html_bytes", len(html)))

	if !TooShort(html, r.cfg.MinHTMLBytes) {
		return html, nil
	}

	r.logger.Warn("rendered html below threshold; reloading once",
		zap.String("url", rawURL),
		zap.Int("html_bytes", len(html)),
		zap.Int("min_html_bytes", r.cfg.MinHTMLBytes),
	)
	if err := r.load(browserCtx, events, rawURL); err != nil {
		return "", fmt.Errorf("reload: %w", err)
	}
	html, err = r.extract(browserCtx)
	if err != nil {
		return "", fmt.Errorf("reload: %w", err)
	}
	r.logger.Info("rendered html after reload", zap.String("url", rawURL), zap.Int("html_bytes", len(html)))
	return html, nil
}

// load navigates, waits for the DOM to be parsed, gives the network a chance
// to go idle, waits for the ready selector and then lets late scripts settle.
func (r *Chromedp) load(browserCtx context.Context, events *lifecycle, rawURL string) error {
	var loaderID string
	err := r.step(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		r.logger.Info("navigating", zap.String("url", rawURL))
		nav := page.Navigate(rawURL)
		if r.cfg.Referer != "" {
			nav = nav.WithReferrer(r.cfg.Referer)
		}
		_, loader, errorText, _, err := nav.Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errorText != "" {
			return fmt.Errorf("navigate: %s", errorText)
		}
		loaderID = string(loader)
		return events.wait(ctx, loaderID, lifecycleDOMReady)
	}))
	if err != nil {
		return err
	}

	idleCtx, cancelIdle := context.WithTimeout(browserCtx, r.cfg.NavigationTimeout)
	idleErr := events.wait(idleCtx, loaderID, lifecycleIdle)
	cancelIdle()
	switch {
	case idleErr == nil:
	case errors.Is(idleErr, context.DeadlineExceeded) && browserCtx.Err() == nil:
		r.logger.Warn("network did not go idle before timeout; continuing",
			zap.String("url", rawURL),
			zap.Duration("timeout", r.cfg.NavigationTimeout),
		)
	default:
		return fmt.Errorf("wait network idle: %w", idleErr)
	}

	if err := r.step(browserCtx, chromedp.WaitReady(r.cfg.ReadySelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", r.cfg.ReadySelector, err)
	}

	if r.cfg.SettleDelay > 0 {
		if err := chromedp.Run(browserCtx, chromedp.Sleep(r.cfg.SettleDelay)); err != nil {
			return fmt.Errorf("settle: %w", err)
		}
	}
	return nil
}

func (r *Chromedp) extract(browserCtx context.Context) (string, error) {
	var html string
	if err := r.step(browserCtx, chromedp.OuterHTML(r.cfg.ExtractSelector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract html: %w", err)
	}
	return html, nil
}

// step runs actions bounded by the navigation timeout.
func (r *Chromedp) step(browserCtx context.Context, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(browserCtx, r.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (r *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(r.cfg.UserAgent)
			if r.cfg.AcceptLanguage != "" {
				ua = ua.WithAcceptLanguage(r.cfg.AcceptLanguage)
			}
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if r.cfg.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(r.cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if r.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": r.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		width, height := int64(r.cfg.ViewportWidth), int64(r.cfg.ViewportHeight)
		if err := emulation.SetDeviceMetricsOverride(width, height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (r *Chromedp) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range r.flags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	return opts
}

// flags lists the Chrome command-line switches derived from the config.
func (r *Chromedp) flags() map[string]any {
	flags := map[string]any{
		"headless":               !r.cfg.Headful,
		"disable-gpu":            true,
		"disable-dev-shm-usage":  true,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
		"window-size":            fmt.Sprintf("%d,%d", r.cfg.ViewportWidth, r.cfg.ViewportHeight),
		"hide-scrollbars":        true,
		"mute-audio":             true,
		"no-sandbox":             r.cfg.NoSandbox,
		"disable-setuid-sandbox": r.cfg.NoSandbox,
	}
	if r.cfg.UserAgent != "" {
		flags["user-agent"] = r.cfg.UserAgent
	}
	if r.cfg.Locale != "" {
		flags["lang"] = r.cfg.Locale
	}
	if r.cfg.Proxy != "" {
		flags["proxy-server"] = r.cfg.Proxy
	}
	return flags
}

// TooShort reports whether html is implausibly small for a rendered page.
// A threshold of zero disables the check.
func TooShort(html string, minBytes int) bool {
	if minBytes <= 0 {
		return false
	}
	return len(html) < minBytes
}
