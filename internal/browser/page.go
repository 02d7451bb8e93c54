// Package browser provides the browser automation surface consumed by the
// booking flow and its chromedp-backed implementation.
//
// The flow never calls chromedp directly. It drives a Page, which makes the
// state machine testable against a scripted fake (see browsertest).
package browser

import (
	"context"
	"math/rand"
	"time"
)

// Page is one open browser tab.
//
// Selectors are CSS selectors. Query methods (Count, Visible, Attribute)
// never wait; WaitAny is the only method that blocks on DOM changes.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)

	Count(ctx context.Context, selector string) (int, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Attribute(ctx context.Context, selector, name string) (string, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error

	// Evaluate runs script in the page, awaiting a returned promise, and
	// decodes the JSON result into out (nil discards it).
	Evaluate(ctx context.Context, script string, out interface{}) error

	// WaitAny blocks until one of selectors matches and returns it.
	WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error)

	// Screenshot captures the element matched by selector, or the full
	// page when selector is empty.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
}

// Fingerprint is the randomized identity a session presents.
type Fingerprint struct {
	UserAgent string
	Width     int
	Height    int
	Locale    string
	Timezone  string
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// RandomFingerprint picks a user agent and jitters the viewport around 1366x768.
func RandomFingerprint(rng *rand.Rand, timezone string) Fingerprint {
	return Fingerprint{
		UserAgent: userAgents[rng.Intn(len(userAgents))],
		Width:     1366 + rng.Intn(51),
		Height:    768 + rng.Intn(31),
		Locale:    "en-US",
		Timezone:  timezone,
	}
}
