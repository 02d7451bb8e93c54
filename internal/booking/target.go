package booking

import "sync"

// Target is the scout's signal to the attackers: a calendar URL with open
// days plus a channel that is closed when the URL is published.
//
// Several attackers may read the same URL and race on it; the site only
// lets one of them book.
type Target struct {
	mu     sync.Mutex
	url    string
	signal chan struct{}
}

// NewTarget returns an empty target.
func NewTarget() *Target {
	return &Target{signal: make(chan struct{})}
}

// Publish stores url and wakes every waiting attacker.
func (t *Target) Publish(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
	select {
	case <-t.signal:
	default:
		close(t.signal)
	}
}

// Wait returns a channel that is closed once a URL is published.
func (t *Target) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signal
}

// Current returns the published URL, if any.
func (t *Target) Current() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, t.url != ""
}

// Clear resets the signal if url is still the published one. A newer
// URL published meanwhile is left alone.
func (t *Target) Clear(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.url != url {
		return
	}
	t.url = ""
	select {
	case <-t.signal:
		t.signal = make(chan struct{})
	default:
	}
}
