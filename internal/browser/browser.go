package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// BlockedResources lists request resource types aborted by the context.
	BlockedResources []string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        45 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1366,
		ViewportHeight: 900,
		AcceptLanguage: "uk-UA,uk;q=0.9,en;q=0.8",
		TimezoneID:     "Europe/Kyiv",
		Locale:         "uk-UA",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
		BlockedResources: []string{"image", "font", "media"},
	}
}

// headers merges the extra headers with the configured Accept-Language.
func (o *Options) headers() map[string]string {
	h := make(map[string]string, len(o.ExtraHeaders)+1)
	for k, v := range o.ExtraHeaders {
		h[k] = v
	}
	if o.AcceptLanguage != "" {
		h["Accept-Language"] = o.AcceptLanguage
	}
	return h
}

func (o *Options) blocks(resourceType string) bool {
	for _, t := range o.BlockedResources {
		if t == resourceType {
			return true
		}
	}
	return false
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.headers(),
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}

	if len(opts.BlockedResources) > 0 {
		if err := b.blockResources(); err != nil {
			b.Close()
			return nil, err
		}
	}

	return b, nil
}

func (b *Browser) blockResources() error {
	err := b.context.Route("**/*", func(route playwright.Route) {
		if b.opts.blocks(route.Request().ResourceType()) {
			if err := route.Abort(); err != nil {
				b.logger.Debug("abort request failed", "error", err)
			}
			return
		}
		if err := route.Continue(); err != nil {
			b.logger.Debug("continue request failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to install resource filter: %w", err)
	}
	return nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Close releases the context, the browser and the playwright driver, in that order.
func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Navigate loads url and waits for DOMContentLoaded. The returned status is
// nil when navigation produced no response.
func (b *Browser) Navigate(page playwright.Page, url string, timeout time.Duration) (*int, error) {
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return nil, nil
	}

	status := resp.Status()
	return &status, nil
}
