package booking

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PrepareBaseURL forces the English locale so the phrase lists in
// pagestate match.
func PrepareBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("target url %q is not absolute", raw)
	}
	q := u.Query()
	q.Set("request_locale", "en")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// MonthURLs builds one calendar URL per offset. Each offset is taken as
// offset*30 days from now and pinned to the 15th of that month, so the
// calendar opens on the intended month regardless of today's date.
func MonthURLs(base string, offsets []int, now time.Time) ([]string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	urls := make([]string, 0, len(offsets))
	for _, offset := range offsets {
		target := now.AddDate(0, 0, offset*30)
		q := u.Query()
		q.Set("dateStr", fmt.Sprintf("15.%02d.%d", int(target.Month()), target.Year()))
		month := *u
		month.RawQuery = q.Encode()
		urls = append(urls, month.String())
	}
	return urls, nil
}

// SiteRoot is the part of base before the "/extern" application path.
func SiteRoot(base string) string {
	if i := strings.Index(base, "/extern"); i >= 0 {
		return base[:i]
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	return u.Scheme + "://" + u.Host
}

// AbsoluteURL resolves a link found in a calendar page. The site emits
// links relative to its root ("extern/appointment_showDay.do?...").
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return SiteRoot(base) + href
	default:
		return SiteRoot(base) + "/" + href
	}
}
