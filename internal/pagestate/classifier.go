// Package pagestate buckets the current appointment page into a small set
// of states by inspecting its HTML.
//
// Features:
//   - Calendar page classification with a fixed priority order
//   - Post-submit outcome detection for the booking form
//   - Tolerates in-flight navigations by retrying content reads briefly
package pagestate

import (
	"context"
	"strings"
	"time"

	"sniper/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

// State is the classification of a calendar page.
type State string

const (
	SlotsFound    State = "SLOTS_FOUND"
	EmptyCalendar State = "EMPTY_CALENDAR"
	WrongCode     State = "WRONG_CODE"
	Captcha       State = "CAPTCHA"
	Unknown       State = "UNKNOWN"
)

// Selectors shared with the booking flow.
const (
	DayLinkSelector      = "a[href*='appointment_showDay']"
	ErrorBannerSelector  = "div.global-error"
	MonthCaptchaSelector = "#appointment_captcha_month"
	CaptchaInputSelector = "input[name='captchaText']"
)

var emptyCalendarPhrases = []string{
	"unfortunately, there are no appointments available",
	"keine termine",
	"no appointments",
}

var wrongCodePhrases = []string{
	"entered text was wrong",
}

const (
	readAttempts = 3
	readBackoff  = 300 * time.Millisecond
)

// Classify reads the page and classifies it.
//
// Flow:
//  1. Read the document, retrying briefly while a navigation is in flight
//  2. Classify the HTML with ClassifyHTML
//
// A page that cannot be read at all is UNKNOWN.
func Classify(ctx context.Context, page browser.Page) State {
	html, err := readContent(ctx, page)
	if err != nil {
		return Unknown
	}
	return ClassifyHTML(html)
}

// ClassifyHTML applies the priority rules to a document. First match wins:
//  1. a day link exists (SLOTS_FOUND)
//  2. a "no appointments" phrase (EMPTY_CALENDAR)
//  3. a wrong-code phrase or error banner (WRONG_CODE)
//  4. the captcha form or input (CAPTCHA)
//  5. UNKNOWN
func ClassifyHTML(html string) State {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Unknown
	}
	text := strings.ToLower(doc.Text())

	switch {
	case doc.Find(DayLinkSelector).Length() > 0:
		return SlotsFound
	case containsAny(text, emptyCalendarPhrases):
		return EmptyCalendar
	case containsAny(text, wrongCodePhrases) || doc.Find(ErrorBannerSelector).Length() > 0:
		return WrongCode
	case doc.Find(MonthCaptchaSelector).Length() > 0 || doc.Find(CaptchaInputSelector).Length() > 0:
		return Captcha
	}
	return Unknown
}

// DayLinks returns the href of every day link on a calendar page.
func DayLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find(DayLinkSelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links
}

func readContent(ctx context.Context, page browser.Page) (string, error) {
	var lastErr error
	for i := 0; i < readAttempts; i++ {
		html, err := page.Content(ctx)
		if err == nil && html != "" {
			return html, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(readBackoff):
		}
	}
	if lastErr == nil {
		return "", nil
	}
	return "", lastErr
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
