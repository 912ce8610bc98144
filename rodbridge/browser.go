// Package rodbridge connects the capture engine to a live Chrome page via
// Rod. It injects the embedded capture script, receives interaction and
// mutation records over a Runtime binding, and serves DOM snapshots and
// network evidence to the correlation agent.
package rodbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the Chrome connection.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Headless controls the local launch mode. Ignored for remote.
	Headless bool `yaml:"headless"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *BrowserConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns one Chrome connection shared by all capture pages.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Call Start to launch or connect.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.applyDefaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("rodbridge: browser is closed")
	}

	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		b.cfg.Logger.Info("rodbridge: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().Headless(b.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodbridge: launch: %w", err)
		}
		b.lnch = l
		wsURL = u
	}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("rodbridge: connect: %w", err)
	}
	b.browser = browser
	return nil
}

// OpenPage creates a stealth tab and navigates it.
func (b *Browser) OpenPage(ctx context.Context, pageURL string) (*rod.Page, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("rodbridge: no active browser")
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("rodbridge: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("rodbridge: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("rodbridge: wait load timeout", "url", pageURL, "error", err)
	}
	return page, nil
}

// Close shuts down the browser and, for local launches, the Chrome process.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.cfg.Logger.Warn("rodbridge: browser close", "error", err)
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}
