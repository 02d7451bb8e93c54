package browser

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"sniper/internal/config"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// stealthScript hides the most common automation markers before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Launcher starts a fresh browser for one session.
//
// Every call yields a new Chrome process with a new fingerprint; the
// returned cancel function kills it.
type Launcher interface {
	Launch(ctx context.Context) (Page, Fingerprint, context.CancelFunc, error)
}

// ChromeLauncher launches local Chrome through chromedp.
type ChromeLauncher struct {
	cfg      config.BrowserConfig
	timezone string
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChromeLauncher creates a launcher for the configured browser settings.
func NewChromeLauncher(cfg config.BrowserConfig, timezone string, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		cfg:      cfg,
		timezone: timezone,
		logger:   logger.Named("browser"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Launch creates a new Chrome instance and tab.
//
// Flow:
//  1. Pick a random fingerprint (user agent, viewport)
//  2. Start Chrome with anti-automation flags and images disabled
//  3. Open the tab and apply timezone, locale and the stealth script
//
// The returned cancel closes the tab and the browser process.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, Fingerprint, context.CancelFunc, error) {
	l.mu.Lock()
	fp := RandomFingerprint(l.rng, l.timezone)
	l.mu.Unlock()

	l.logger.Info("  → Creating new browser context...",
		zap.String("user_agent", fp.UserAgent),
		zap.Int("width", fp.Width),
		zap.Int("height", fp.Height),
	)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", fp.Locale),
		chromedp.NoSandbox,
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	if l.cfg.BlockResources {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	for _, flag := range l.cfg.ExtraFlags {
		opts = append(opts, chromedp.Flag(flag, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))

	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run starts the browser; it must use the tab context itself
	// so that a timeout on it does not tear the browser down.
	err := chromedp.Run(tabCtx,
		emulation.SetTimezoneOverride(fp.Timezone),
		emulation.SetLocaleOverride().WithLocale(fp.Locale),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		cancel()
		l.logger.Warn("  ✗ Browser launch failed", zap.Error(err))
		return nil, Fingerprint{}, nil, err
	}

	l.logger.Info("  ✓ Browser context created successfully")
	return NewTab(tabCtx, l.cfg.NavigationTimeout, l.cfg.WaitTimeout), fp, cancel, nil
}

// Holder provides thread-safe access to the current page of a session.
//
// The owning runner replaces the page on every rebirth; status readers on
// other goroutines only ever see a complete (page, fingerprint) pair.
type Holder struct {
	mu     sync.RWMutex
	page   Page
	fp     Fingerprint
	cancel context.CancelFunc
}

// Get returns the current page, nil before the first Set.
func (h *Holder) Get() Page {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.page
}

// Fingerprint returns the identity of the current page.
func (h *Holder) Fingerprint() Fingerprint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fp
}

// Set swaps in a new page, cancelling the previous browser first.
func (h *Holder) Set(p Page, fp Fingerprint, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	h.page = p
	h.fp = fp
	h.cancel = cancel
}

// Cancel closes the current browser and clears the holder.
func (h *Holder) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.page = nil
}
