// Package browsertest provides a scripted in-memory browser.Page for tests.
//
// Queries run goquery selectors against the current HTML, so tests can
// drive the booking flow with synthetic pages instead of a real Chrome.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"sniper/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fake tab. Hooks are optional; a nil hook is a no-op.
type Page struct {
	mu sync.Mutex

	html string
	url  string

	// OnNavigate returns the HTML served for url, or an error to simulate
	// a network failure.
	OnNavigate func(url string) (string, error)
	// OnClick runs after a click on selector and may return new HTML
	// ("" keeps the current document).
	OnClick func(selector string) string
	// OnEnter runs after Enter is pressed on selector.
	OnEnter func(selector string) string
	// OnEvaluate answers scripts; the result is JSON round-tripped into out.
	OnEvaluate func(script string) (interface{}, error)
	// OnReload returns the HTML after a reload.
	OnReload func() string
	// OnContent may fail a document read.
	OnContent func() error

	ScreenshotBytes []byte

	Navigations []string
	Clicks      []string
	Fills       map[string]string
	Selects     map[string]string
	Reloads     int
}

var _ browser.Page = (*Page)(nil)

// New creates a fake page showing html at url.
func New(url, html string) *Page {
	return &Page{
		url:     url,
		html:    html,
		Fills:   make(map[string]string),
		Selects: make(map[string]string),
	}
}

// SetDocument replaces the current document.
func (p *Page) SetDocument(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url != "" {
		p.url = url
	}
	p.html = html
}

func (p *Page) doc() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(p.html))
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	hook := p.OnNavigate
	p.Navigations = append(p.Navigations, url)
	p.mu.Unlock()

	if hook == nil {
		p.SetDocument(url, "")
		return nil
	}
	html, err := hook(url)
	if err != nil {
		return err
	}
	p.SetDocument(url, html)
	return nil
}

func (p *Page) Reload(_ context.Context) error {
	p.mu.Lock()
	p.Reloads++
	hook := p.OnReload
	p.mu.Unlock()

	if hook != nil {
		if html := hook(); html != "" {
			p.SetDocument("", html)
		}
	}
	return nil
}

func (p *Page) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Content(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OnContent != nil {
		if err := p.OnContent(); err != nil {
			return "", err
		}
	}
	return p.html, nil
}

func (p *Page) Count(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.doc()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	n, err := p.Count(ctx, selector)
	return n > 0, err
}

func (p *Page) Attribute(_ context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, err := p.doc()
	if err != nil {
		return "", err
	}
	value, _ := doc.Find(selector).First().Attr(name)
	return value, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if n, _ := p.Count(ctx, selector); n == 0 {
		return fmt.Errorf("click: %s not found", selector)
	}

	p.mu.Lock()
	p.Clicks = append(p.Clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		if html := hook(selector); html != "" {
			p.SetDocument("", html)
		}
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if n, _ := p.Count(ctx, selector); n == 0 {
		return fmt.Errorf("fill: %s not found", selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fills[selector] = value
	return nil
}

func (p *Page) PressEnter(ctx context.Context, selector string) error {
	if n, _ := p.Count(ctx, selector); n == 0 {
		return fmt.Errorf("enter: %s not found", selector)
	}
	p.mu.Lock()
	hook := p.OnEnter
	p.mu.Unlock()

	if hook != nil {
		if html := hook(selector); html != "" {
			p.SetDocument("", html)
		}
	}
	return nil
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	if n, _ := p.Count(ctx, selector); n == 0 {
		return fmt.Errorf("select: %s not found", selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Selects[selector] = value
	return nil
}

func (p *Page) Evaluate(_ context.Context, script string, out interface{}) error {
	p.mu.Lock()
	hook := p.OnEvaluate
	p.mu.Unlock()

	if hook == nil {
		return fmt.Errorf("evaluate not scripted")
	}
	result, err := hook(script)
	if err != nil || out == nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// WaitAny checks the current document once; the fake never mutates on its own.
func (p *Page) WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error) {
	for _, sel := range selectors {
		if n, _ := p.Count(ctx, sel); n > 0 {
			return sel, nil
		}
	}
	return "", fmt.Errorf("none of %d selectors appeared within %s", len(selectors), timeout)
}

func (p *Page) Screenshot(_ context.Context, _ string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotBytes == nil {
		return nil, fmt.Errorf("no screenshot scripted")
	}
	return p.ScreenshotBytes, nil
}

// Launcher hands out fake pages built by NewPage, one per Launch.
type Launcher struct {
	mu       sync.Mutex
	NewPage  func(n int) *Page
	Launches int
	Closed   int
}

func (l *Launcher) Launch(_ context.Context) (browser.Page, browser.Fingerprint, context.CancelFunc, error) {
	l.mu.Lock()
	l.Launches++
	n := l.Launches
	l.mu.Unlock()

	p := l.NewPage(n)
	fp := browser.Fingerprint{UserAgent: fmt.Sprintf("fake/%d", n), Width: 1366, Height: 768}
	return p, fp, func() {
		l.mu.Lock()
		l.Closed++
		l.mu.Unlock()
	}, nil
}

// Count returns the number of launches so far.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Launches
}
