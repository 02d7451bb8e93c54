package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sniper/internal/errors"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Tab implements Page on top of a chromedp tab context.
type Tab struct {
	ctx         context.Context // chromedp tab context
	navTimeout  time.Duration
	waitTimeout time.Duration
}

// NewTab wraps an existing chromedp context.
func NewTab(ctx context.Context, navTimeout, waitTimeout time.Duration) *Tab {
	return &Tab{ctx: ctx, navTimeout: navTimeout, waitTimeout: waitTimeout}
}

// run executes actions on the tab, bounded by both the caller's ctx and timeout.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(tctx, actions...)
}

// Navigate loads url and waits for the body to be ready.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	err := t.run(ctx, t.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return errors.NewNavigationError(url, err)
	}
	return nil
}

// Reload reloads the current document.
func (t *Tab) Reload(ctx context.Context) error {
	if err := t.run(ctx, t.navTimeout, chromedp.Reload()); err != nil {
		return errors.NewNavigationError("reload", err)
	}
	return nil
}

// URL returns the current document location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var loc string
	err := t.run(ctx, t.waitTimeout, chromedp.Location(&loc))
	return loc, err
}

// Content returns the serialized document.
func (t *Tab) Content(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, t.waitTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Count returns how many elements match selector without waiting.
func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector))
	err := t.Evaluate(ctx, script, &n)
	return n, err
}

// Visible reports whether the first match has a layout box.
func (t *Tab) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	})()`, quote(selector))
	err := t.Evaluate(ctx, script, &visible)
	return visible, err
}

// Attribute returns the named attribute of the first match, "" when absent.
func (t *Tab) Attribute(ctx context.Context, selector, name string) (string, error) {
	var value string
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? (el.getAttribute(%s) || "") : "";
	})()`, quote(selector), quote(name))
	err := t.Evaluate(ctx, script, &value)
	return value, err
}

// Click clicks the first visible match.
func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, t.waitTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill clears the input and types value with key events.
func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	return t.run(ctx, t.waitTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// PressEnter sends an Enter key to the element.
func (t *Tab) PressEnter(ctx context.Context, selector string) error {
	return t.run(ctx, t.waitTimeout, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

// SelectOption sets a <select> value and fires the input and change events
// the site's scripts listen for.
func (t *Tab) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, quote(selector), quote(value))

	var ok bool
	if err := t.Evaluate(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("select %s not found", selector)
	}
	return nil
}

// Evaluate runs script and awaits a returned promise.
func (t *Tab) Evaluate(ctx context.Context, script string, out interface{}) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if out == nil {
		return t.run(ctx, t.waitTimeout, chromedp.Evaluate(script, nil, awaitPromise))
	}

	var raw []byte
	if err := t.run(ctx, t.waitTimeout, chromedp.Evaluate(script, &raw, awaitPromise)); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// WaitAny races one WaitReady per selector and returns the first that matches.
func (t *Tab) WaitAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error) {
	if len(selectors) == 0 {
		return "", fmt.Errorf("no selectors to wait for")
	}

	wctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	found := make(chan string, len(selectors))
	for _, sel := range selectors {
		go func(sel string) {
			if err := chromedp.Run(wctx, chromedp.WaitReady(sel, chromedp.ByQuery)); err == nil {
				found <- sel
			}
		}(sel)
	}

	select {
	case sel := <-found:
		return sel, nil
	case <-wctx.Done():
		return "", fmt.Errorf("none of %d selectors appeared within %s: %w", len(selectors), timeout, wctx.Err())
	}
}

// Screenshot captures an element as PNG, or the full page as JPEG.
func (t *Tab) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if selector == "" {
		err := t.run(ctx, t.waitTimeout, chromedp.FullScreenshot(&buf, 90))
		return buf, err
	}
	err := t.run(ctx, t.waitTimeout, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible))
	return buf, err
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
