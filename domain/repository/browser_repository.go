package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v3"
	"github.com/playwright-community/playwright-go"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	// レンダリング済みHTMLのキャッシュ期間。同一プロセス内の再スクレイプはこれを使う
	pageCacheTTL = 10 * time.Minute
	// StatuspageテンプレートのメインコンテナDOM。無いレイアウトも許容する
	contentSelector = ".layout-content"
)

// FetchFailedError はリトライを使い切ったことを表す。最後の原因を保持する。
type FetchFailedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchFailedError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("fetch aborted for %s before the first attempt: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch failed for %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

type BrowserRepository struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	pageCache  *ttlcache.Cache[string, string]
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewBrowserRepository はプロセス共有のブラウザエンジンを起動する。
// セッション(コンテキスト+ページ)はFetchPageごとに作って捨てる。
func NewBrowserRepository(cfg ScrapingConfig) (*BrowserRepository, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		if stopErr := pw.Stop(); stopErr != nil {
			slog.Error("Failed to stop playwright", slog.Any("error", stopErr))
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	cache := ttlcache.New(ttlcache.WithTTL[string, string](pageCacheTTL))
	go cache.Start()

	return &BrowserRepository{
		pw:         pw,
		browser:    browser,
		pageCache:  cache,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Second,
		timeout:    time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

func (r *BrowserRepository) Close() {
	r.pageCache.Stop()
	if err := r.browser.Close(); err != nil {
		slog.Error("Failed to close browser", slog.Any("error", err))
	}
	if err := r.pw.Stop(); err != nil {
		slog.Error("Failed to stop playwright", slog.Any("error", err))
	}
}

// FetchPage はURLをレンダリングしてHTMLを返す。リトライ込み。
func (r *BrowserRepository) FetchPage(ctx context.Context, url string) (string, error) {
	if item := r.pageCache.Get(url); item != nil {
		slog.Debug("Page cache hit", slog.String("url", url))
		return item.Value(), nil
	}

	html, err := fetchWithRetry(ctx, url, r.maxRetries, r.retryDelay, r.timeout, func() (string, error) {
		return r.renderPage(url)
	})
	if err != nil {
		return "", err
	}

	r.pageCache.Set(url, html, ttlcache.DefaultTTL)
	return html, nil
}

// renderPage は1回分のセッションでページを取得する。
// コンテキストはどの経路で抜けても必ず閉じる。
func (r *BrowserRepository) renderPage(url string) (string, error) {
	bctx, err := r.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(browserUserAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create browser context: %w", err)
	}
	defer func() {
		if err := bctx.Close(); err != nil {
			slog.Error("Failed to close browser context", slog.Any("error", err))
		}
	}()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(r.timeout.Milliseconds())),
	}); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if _, err := page.WaitForSelector(contentSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		// 想定レイアウト以外でも本文は取れることがあるので続行する
		slog.Warn("Content selector not found, continuing", slog.String("url", url), slog.Any("error", err))
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	if content == "" {
		return "", fmt.Errorf("received empty content from %s", url)
	}

	slog.Debug("Fetched page", slog.String("url", url), slog.Int("bytes", len(content)))
	return content, nil
}

// fetchWithRetry は初回retryDelay、以降倍々(maxDelayで頭打ち)の間隔でattemptを繰り返す。
func fetchWithRetry(ctx context.Context, url string, maxRetries int, retryDelay, maxDelay time.Duration, attempt func() (string, error)) (string, error) {
	delay := retryDelay
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return "", &FetchFailedError{URL: url, Attempts: i, Err: lastErr}
		}

		html, err := attempt()
		if err == nil {
			return html, nil
		}
		lastErr = err
		slog.Warn("Fetch attempt failed",
			slog.String("url", url),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Any("error", err),
		)

		if i == maxRetries-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &FetchFailedError{URL: url, Attempts: i + 1, Err: lastErr}
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", &FetchFailedError{URL: url, Attempts: maxRetries, Err: lastErr}
}
