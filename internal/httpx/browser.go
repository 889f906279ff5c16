package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Page is a live browser tab. Every wait takes an explicit timeout; an
// expired wait returns ErrWaitTimeout.
type Page interface {
	Navigate(rawURL string) (int, error)
	WaitFor(selector string, timeout time.Duration) error
	HTML() (string, error)
	Exists(selector string) (bool, error)
	Click(selector string, timeout time.Duration) error
	WaitText(selector, text string, timeout time.Duration) error
}

// PageRunner hands out a fresh, isolated page for the duration of fn.
type PageRunner interface {
	WithPage(ctx context.Context, fn func(Page) error) error
}

type BrowserOptions struct {
	Headless          bool
	ExecPath          string
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	ProfilePrefix     string
}

// Browser is the scripted retrieval strategy backed by a headless Chrome.
// Each WithPage call launches its own browser with a disposable profile.
type Browser struct {
	opts   BrowserOptions
	logger *slog.Logger
}

func NewBrowser(opts BrowserOptions, logger *slog.Logger) *Browser {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.SelectorTimeout <= 0 {
		opts.SelectorTimeout = 10 * time.Second
	}
	if opts.ProfilePrefix == "" {
		opts.ProfilePrefix = "estate-hunter-profile-"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{opts: opts, logger: logger.With("component", "browser")}
}

// WithPage launches a browser with a randomized viewport and user agent and
// runs fn against a single tab. The browser is shut down and the profile
// directory removed on every exit path.
func (b *Browser) WithPage(ctx context.Context, fn func(Page) error) error {
	return withProfileDir(b.opts.ProfilePrefix, func(dir string) error {
		width, height := randomViewport()
		userAgent := RandomUserAgent()

		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserDataDir(dir),
			chromedp.Flag("headless", b.opts.Headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-crash-reporter", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(width, height),
			chromedp.UserAgent(userAgent),
		)
		if b.opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
		defer cancelAlloc()
		tabCtx, cancelTab := chromedp.NewContext(allocCtx)
		defer cancelTab()

		headers := network.Headers{}
		for k, v := range DefaultHeaders(userAgent) {
			headers[k] = v
		}
		if err := chromedp.Run(tabCtx,
			network.Enable(),
			network.SetExtraHTTPHeaders(headers),
			chromedp.EmulateViewport(int64(width), int64(height)),
		); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}

		return fn(&chromePage{tab: tabCtx, navTimeout: b.opts.NavigationTimeout})
	})
}

// Retrieve navigates to rawURL, waits for the condition and returns the rendered markup.
func (b *Browser) Retrieve(ctx context.Context, rawURL string, wait Wait) ([]byte, int, error) {
	var (
		content []byte
		status  int
	)
	err := b.WithPage(ctx, func(p Page) error {
		var err error
		content, status, err = retrievePage(p, rawURL, wait, b.opts.SelectorTimeout)
		return err
	})
	if errors.Is(err, ErrBotDetected) {
		b.logger.Warn("bot detection triggered", "url", rawURL, "status", status)
	}
	if err != nil {
		return nil, status, &FetchError{Status: status, Err: err}
	}
	return content, status, nil
}

func retrievePage(p Page, rawURL string, wait Wait, timeout time.Duration) ([]byte, int, error) {
	status, err := p.Navigate(rawURL)
	if err != nil {
		return nil, status, err
	}
	selector := wait.Selector
	if selector == "" {
		selector = "body"
	}
	if err := p.WaitFor(selector, timeout); err != nil {
		return nil, status, err
	}
	html, err := p.HTML()
	if err != nil {
		return nil, status, err
	}
	if DetectBot([]byte(html), status) {
		return nil, status, ErrBotDetected
	}
	return []byte(html), status, nil
}

// withProfileDir creates a temporary directory for fn and removes it afterwards,
// including when fn panics.
func withProfileDir(prefix string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove profile dir: %w", rmErr)
		}
	}()
	return fn(dir)
}

type chromePage struct {
	tab        context.Context
	navTimeout time.Duration
}

func (p *chromePage) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	err := chromedp.Run(ctx, actions...)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chromedp.ErrPollingTimeout) {
		return ErrWaitTimeout
	}
	return err
}

func (p *chromePage) Navigate(rawURL string) (int, error) {
	ctx, cancel := context.WithTimeout(p.tab, p.navTimeout)
	defer cancel()
	resp, err := chromedp.RunResponse(ctx, chromedp.Navigate(rawURL))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ErrWaitTimeout
		}
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return int(resp.Status), nil
}

func (p *chromePage) WaitFor(selector string, timeout time.Duration) error {
	return p.run(timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *chromePage) HTML() (string, error) {
	var html string
	err := p.run(p.navTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Exists(selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	err = p.run(p.navTimeout, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", quoted), &found))
	return found, err
}

func (p *chromePage) Click(selector string, timeout time.Duration) error {
	return p.run(timeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) WaitText(selector, text string, timeout time.Duration) error {
	qs, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	qt, err := json.Marshal(text)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!el && el.textContent.trim() === %s; })()`, qs, qt)
	var ok bool
	return p.run(timeout+time.Second, chromedp.Poll(expr, &ok, chromedp.WithPollingTimeout(timeout)))
}
