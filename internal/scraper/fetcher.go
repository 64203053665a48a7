package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/silpo-price-scraper/internal/browser"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// snippetLength bounds PageSnapshot.BodySnippet, in runes.
const snippetLength = 2000

type FetcherConfig struct {
	Browser     *browser.Options
	NavTimeout  time.Duration
	SettleDelay time.Duration
}

// PlaywrightOpener launches one browser with one page per Open call.
type PlaywrightOpener struct {
	cfg    FetcherConfig
	logger *slog.Logger
}

func NewPlaywrightOpener(cfg FetcherConfig, logger *slog.Logger) *PlaywrightOpener {
	if cfg.Browser == nil {
		cfg.Browser = browser.DefaultOptions()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = cfg.Browser.Timeout
	}
	return &PlaywrightOpener{
		cfg:    cfg,
		logger: logger.With("component", "page_fetcher"),
	}
}

func (o *PlaywrightOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := browser.New(o.cfg.Browser, o.logger)
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, err
	}

	return &playwrightSession{
		browser: b,
		page:    page,
		cfg:     o.cfg,
		logger:  o.logger,
	}, nil
}

type playwrightSession struct {
	browser *browser.Browser
	page    playwright.Page
	cfg     FetcherConfig
	logger  *slog.Logger
}

func (s *playwrightSession) Fetch(ctx context.Context, url string) (*PageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := s.cfg.NavTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	status, err := s.browser.Navigate(s.page, url, timeout)
	if err != nil {
		return nil, err
	}

	snap := &PageSnapshot{URL: url, HTTPStatus: status}

	// title, body and markup are best effort; an interstitial may lack any of them
	if title, err := s.page.Title(); err == nil {
		snap.Title = title
	}
	if body, err := s.page.Locator("body").InnerText(); err == nil {
		snap.BodySnippet = models.Truncate(body, snippetLength)
	}
	content, _ := s.page.Content()

	if browser.DetectChallenge(snap.Title, snap.BodySnippet, status) || browser.DetectChallengeMarkup(content) {
		snap.Challenge = true
		snap.HTML = content
		return snap, nil
	}

	if err := settle(ctx, s.cfg.SettleDelay); err != nil {
		return nil, err
	}

	content, err = s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	candidates, err := ExtractCandidates(content)
	if err != nil {
		return nil, err
	}
	snap.Candidates = candidates

	s.logger.Debug("page fetched",
		"url", url,
		"http_status", intValue(status),
		"candidates", len(candidates))

	return snap, nil
}

// Close releases the page and then the whole browser.
func (s *playwrightSession) Close() error {
	var pageErr error
	if s.page != nil {
		pageErr = s.page.Close()
	}
	if err := s.browser.Close(); err != nil {
		return err
	}
	if pageErr != nil {
		return fmt.Errorf("failed to close page: %w", pageErr)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
