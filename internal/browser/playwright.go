package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightProvider opens sessions through a shared Playwright driver,
// either by connecting to a running Chrome over CDP or by launching a fresh
// Chromium per task.
type PlaywrightProvider struct {
	mode     string
	cdpURL   string
	headless bool

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewCDPProvider connects every session to the Chrome DevTools endpoint at
// cdpURL. Each task gets its own connection, context and page.
func NewCDPProvider(cdpURL string) *PlaywrightProvider {
	return &PlaywrightProvider{mode: "cdp", cdpURL: cdpURL}
}

// NewLaunchProvider launches a new Chromium process for every session
func NewLaunchProvider(headless bool) *PlaywrightProvider {
	return &PlaywrightProvider{mode: "launch", headless: headless}
}

// Mode implements Provider
func (p *PlaywrightProvider) Mode() string { return p.mode }

func (p *PlaywrightProvider) driver() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pw != nil {
		return p.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if p.mode == "launch" {
		opts.Browsers = []string{"chromium"}
	} else {
		opts.SkipInstallBrowsers = true
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	p.pw = pw
	return pw, nil
}

// Open implements Provider
func (p *PlaywrightProvider) Open(ctx context.Context, taskID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := p.driver()
	if err != nil {
		return nil, err
	}

	if p.mode == "launch" {
		b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(p.headless),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		return newIsolatedSession(b, nil)
	}

	return connectCDP(pw, p.cdpURL, nil)
}

// Close stops the Playwright driver
func (p *PlaywrightProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pw == nil {
		return nil
	}
	err := p.pw.Stop()
	p.pw = nil
	return err
}

// connectCDP opens a page on an existing browser in a context of its own,
// so concurrent tasks on the same browser never share cookies or storage.
// Closing the session disposes that context and the connection only.
func connectCDP(pw *playwright.Playwright, endpoint string, onClose func() error) (Session, error) {
	b, err := pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect over CDP to %s: %w", endpoint, err)
	}
	return newIsolatedSession(b, onClose)
}

// newIsolatedSession creates a fresh context and page on b
func newIsolatedSession(b playwright.Browser, onClose func() error) (Session, error) {
	bctx, err := b.NewContext()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(DefaultTimeout)

	return &playwrightSession{browser: b, context: bctx, page: page, onClose: onClose}, nil
}

type playwrightSession struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	onClose func() error

	closeOnce sync.Once
	closeErr  error
}

func (s *playwrightSession) Goto(url string) error {
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Click(selector string) error {
	if err := s.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Fill(selector, value string) error {
	if err := s.page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Press(selector, key string) error {
	if err := s.page.Locator(selector).First().Press(key); err != nil {
		return fmt.Errorf("press failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) URL() string {
	return s.page.URL()
}

func (s *playwrightSession) Title() (string, error) {
	return s.page.Title()
}

func (s *playwrightSession) Text(maxLen int) (string, error) {
	text, err := s.page.Locator("body").InnerText()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return Truncate(text, maxLen), nil
}

// Close releases the page, its context and the browser connection, then
// runs the provider hook. Every step runs even if an earlier one failed.
func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		if s.onClose != nil {
			if err := s.onClose(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Truncate shortens s to at most maxLen runes
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
