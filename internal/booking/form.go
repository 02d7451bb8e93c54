package booking

import (
	"context"
	"fmt"
	"strings"

	"sniper/internal/browser"
	"sniper/internal/config"
	"sniper/internal/pagestate"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Appointment form field selectors.
const (
	firstNameSelector = "input[name='firstname']"
	emailSelector     = "input[name='email']"
	passportSelector  = "input[name='fields[0].content']"
	phoneSelector     = "input[name='fields[1].content']"
)

var emailRepeatSelectors = []string{
	"input[name='emailrepeat']",
	"input[name='emailRepeat']",
}

// option is one choice of a <select> on the form.
type option struct {
	selector string // selector of the owning <select>
	text     string
	value    string
}

// formFields reads the current document once for label lookups and
// dropdown options.
type formFields struct {
	doc *goquery.Document
}

func readForm(ctx context.Context, page browser.Page) (*formFields, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &formFields{doc: doc}, nil
}

// labelTarget finds the input a label points at by a case-insensitive
// substring of its text.
func (f *formFields) labelTarget(text string) (string, bool) {
	text = strings.ToLower(text)
	var id string
	f.doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(l.Text()), text) {
			return true
		}
		id, _ = l.Attr("for")
		return false
	})
	if id == "" {
		return "", false
	}
	return fmt.Sprintf("[id=%q]", id), true
}

// options lists non-empty choices of every <select> in document order.
func (f *formFields) options() []option {
	var out []option
	f.doc.Find("select").Each(func(i int, sel *goquery.Selection) {
		owner := fmt.Sprintf("select:nth-of-type(%d)", i+1)
		if name, ok := sel.Attr("name"); ok && name != "" {
			owner = fmt.Sprintf("select[name=%q]", name)
		} else if id, ok := sel.Attr("id"); ok && id != "" {
			owner = fmt.Sprintf("[id=%q]", id)
		}
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			text := strings.TrimSpace(o.Text())
			value, _ := o.Attr("value")
			if text != "" && value != "" {
				out = append(out, option{selector: owner, text: text, value: value})
			}
		})
	})
	return out
}

// pickCategory applies keyword priority: the first keyword that is a
// substring of any option wins. With no match the second option is taken.
func pickCategory(options []option, keywords []string) (option, string, bool) {
	for _, keyword := range keywords {
		k := strings.ToLower(keyword)
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.text), k) {
				return opt, keyword, true
			}
		}
	}
	if len(options) >= 2 {
		return options[1], "", true
	}
	return option{}, "", false
}

// phoneDigits rewrites the international prefix the way the form expects.
func phoneDigits(phone string) string {
	return strings.TrimSpace(strings.ReplaceAll(phone, "+", "00"))
}

// fillApplicant types the booking payload into the form.
//
// Flow:
//  1. Name and email fields, both variants of the repeat field
//  2. Passport and phone by label text, falling back to the fixed names
//  3. Category by keyword priority
//
// Returns an error only when the lastname field is missing, which means
// the page is not the appointment form.
func fillApplicant(ctx context.Context, page browser.Page, a config.Applicant, keywords []string, logger *zap.Logger) error {
	if err := page.Fill(ctx, pagestate.LastNameSelector, a.LastName); err != nil {
		return fmt.Errorf("fill lastname: %w", err)
	}
	fill := func(selector, value string) bool {
		if err := page.Fill(ctx, selector, value); err != nil {
			logger.Debug("  ⚠️ Field not filled", zap.String("selector", selector), zap.Error(err))
			return false
		}
		return true
	}

	fill(firstNameSelector, a.FirstName)
	fill(emailSelector, a.Email)
	for _, sel := range emailRepeatSelectors {
		if fill(sel, a.Email) {
			break
		}
	}

	form, err := readForm(ctx, page)
	if err != nil {
		return fmt.Errorf("read form: %w", err)
	}

	passport := passportSelector
	if sel, ok := form.labelTarget("Passport"); ok {
		passport = sel
	}
	fill(passport, a.Passport)

	phone := phoneSelector
	if sel, ok := form.labelTarget("Telephone"); ok {
		phone = sel
	}
	fill(phone, phoneDigits(a.Phone))

	opts := form.options()
	opt, keyword, ok := pickCategory(opts, keywords)
	switch {
	case !ok:
		logger.Warn("  ⚠️ No category could be selected", zap.Int("options", len(opts)))
	case keyword == "":
		logger.Warn("  ⚠️ No keyword matched, using second option", zap.String("option", opt.text))
	default:
		logger.Info("  ✓ Category matched", zap.String("keyword", keyword), zap.String("option", opt.text))
	}
	if ok {
		if err := page.SelectOption(ctx, opt.selector, opt.value); err != nil {
			logger.Warn("  ⚠️ Category selection failed", zap.Error(err))
		}
	}
	return nil
}

// formCleared reports whether the server dropped the typed values, which
// happens after a rejected captcha on the form.
func formCleared(ctx context.Context, page browser.Page) bool {
	value, err := page.Attribute(ctx, pagestate.LastNameSelector, "value")
	return err == nil && strings.TrimSpace(value) == ""
}
