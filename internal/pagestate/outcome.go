package pagestate

import (
	"context"
	"strings"

	"sniper/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

// Outcome is what the server answered to a booking form submission.
type Outcome string

const (
	Success        Outcome = "SUCCESS"
	SubmitWrong    Outcome = "WRONG_CODE"
	SlotLost       Outcome = "SLOT_LOST"
	FormRejected   Outcome = "FORM_REJECTED"
	SessionInvalid Outcome = "SESSION_INVALID"
	Pending        Outcome = "PENDING"
)

// LastNameSelector marks the booking form.
const LastNameSelector = "input[name='lastname']"

var successPhrases = []string{
	"appointment number",
	"termin nummer",
	"confirmation",
	"successfully",
	"erfolgreich",
	"termin wurde gebucht",
	"ihre buchung",
	"booking confirmed",
	"appointment confirmed",
}

var submitErrorPhrases = []string{"incorrect", "wrong", "falsch"}

var sessionInvalidPhrases = []string{"ref-id", "beginnen sie"}

// DetectOutcome reads the page after a submit and classifies it.
func DetectOutcome(ctx context.Context, page browser.Page) Outcome {
	html, err := readContent(ctx, page)
	if err != nil {
		return Pending
	}
	url, _ := page.URL(ctx)
	return DetectOutcomeHTML(url, html)
}

// DetectOutcomeHTML classifies a post-submit document. Order:
//  1. a success phrase (SUCCESS)
//  2. the URL is back at the calendar (SLOT_LOST, another session won)
//  3. a session-invalid marker (SESSION_INVALID)
//  4. a wrong-code phrase (WRONG_CODE)
//  5. the form is shown again (FORM_REJECTED)
//  6. PENDING
func DetectOutcomeHTML(url, html string) Outcome {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Pending
	}
	text := strings.ToLower(doc.Text())

	switch {
	case containsAny(text, successPhrases):
		return Success
	case strings.Contains(url, "appointment_showMonth") || strings.Contains(url, "appointment_showDay"):
		return SlotLost
	case containsAny(text, sessionInvalidPhrases):
		return SessionInvalid
	case containsAny(text, submitErrorPhrases):
		return SubmitWrong
	case doc.Find(LastNameSelector).Length() > 0:
		return FormRejected
	}
	return Pending
}
