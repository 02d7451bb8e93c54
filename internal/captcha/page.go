package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"sniper/internal/browser"
	"sniper/internal/config"

	"go.uber.org/zap"
)

// InputSelectors locate the captcha text field, most specific first.
var InputSelectors = []string{
	"input[name='captchaText']",
	"input[name='captcha']",
	"#captchaText",
	"#appointment_captcha_month input[type='text']",
}

// backgroundSelector holds the captcha as a CSS background data URL.
const backgroundSelector = "captcha > div"

var imageSelectors = []string{
	"captcha > div",
	"div.captcha-image",
	"div#captcha",
	"img[alt*='captcha']",
	"img[alt*='CAPTCHA']",
}

var submitSelectors = []string{
	"input[name='submit']",
	"input[value='Weiter']",
	"input[value='Continue']",
	"input[type='submit']",
}

var reloadSelectors = []string{
	"#appointment_newAppointmentForm_form_newappointment_refreshcaptcha",
	"input[name='action:appointment_refreshCaptcha']",
	"#appointment_captcha_month_refreshcaptcha",
	"input[name='action:appointment_refreshCaptchamonth']",
	"input[value='Load another picture']",
	"input[value='Bild laden']",
}

// reloadScript clicks any button whose label looks like a captcha refresh.
const reloadScript = `(() => {
	const buttons = Array.from(document.querySelectorAll('input[type="submit"], button'));
	for (const btn of buttons) {
		const val = (btn.value || btn.textContent || '').toLowerCase();
		if (val.includes('another') || val.includes('refresh') || val.includes('reload') || val.includes('anderes')) {
			btn.click();
			return true;
		}
	}
	return false;
})()`

var dataURLPattern = regexp.MustCompile(`url\(['"]?data:image/[^;]+;base64,([A-Za-z0-9+/=]+)['"]?\)`)

// StatusNoCaptcha is returned by PreSolve when the page has no captcha.
const StatusNoCaptcha Status = "NO_CAPTCHA"

// FindInput returns the first visible captcha input selector.
func FindInput(ctx context.Context, page browser.Page) (string, bool) {
	for _, sel := range InputSelectors {
		if ok, err := page.Visible(ctx, sel); err == nil && ok {
			return sel, true
		}
	}
	return "", false
}

// Image extracts the captcha image.
//
// Flow:
//  1. Decode the base64 data URL in the background style of "captcha > div"
//  2. Otherwise screenshot the first visible captcha element
func Image(ctx context.Context, page browser.Page) ([]byte, error) {
	if style, err := page.Attribute(ctx, backgroundSelector, "style"); err == nil && style != "" {
		if m := dataURLPattern.FindStringSubmatch(style); m != nil {
			if data, err := base64.StdEncoding.DecodeString(m[1]); err == nil {
				return data, nil
			}
		}
	}

	for _, sel := range imageSelectors {
		if ok, err := page.Visible(ctx, sel); err != nil || !ok {
			continue
		}
		if data, err := page.Screenshot(ctx, sel); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("captcha image not found")
}

// SolveFromPage fills the captcha on page.
//
// Flow:
//  1. Find the captcha input (NO_INPUT otherwise)
//  2. Use the session's pre-solved code when it was solved on this page
//  3. Otherwise extract the image (NO_IMAGE otherwise) and Solve it
//  4. Type the code into the input (FILL_ERROR on failure)
func (c *Controller) SolveFromPage(ctx context.Context, page browser.Page, req Request) Result {
	input, ok := FindInput(ctx, page)
	if !ok {
		c.logger.Warn("  ⚠️ Captcha input not found", zap.String("location", req.Location))
		return Result{Status: StatusNoInput}
	}

	var result Result
	if code, status, ok := c.cachedFor(ctx, page, req.SessionID); ok {
		c.logger.Info("  ✓ Using pre-solved captcha", zap.String("location", req.Location), zap.String("code", code))
		result = Result{Code: code, Status: status, Source: "cache"}
	} else {
		img, err := Image(ctx, page)
		if err != nil {
			c.logger.Warn("  ⚠️ Captcha image not found", zap.String("location", req.Location))
			return Result{Status: StatusNoImage}
		}
		result = c.Solve(ctx, img, req)
		if !result.OK() {
			return result
		}
	}

	if err := page.Fill(ctx, input, result.Code); err != nil {
		c.logger.Warn("  ✗ Failed to fill captcha", zap.String("location", req.Location), zap.Error(err))
		return Result{Status: StatusFillError, Source: result.Source}
	}
	return result
}

func (c *Controller) cachedFor(ctx context.Context, page browser.Page, sessionID string) (string, Status, bool) {
	if sessionID == "" {
		return "", "", false
	}
	url, err := page.URL(ctx)
	if err != nil {
		c.ClearPreSolved(sessionID)
		return "", "", false
	}
	return c.PreSolved(sessionID, url)
}

// PreSolve solves the captcha on page ahead of need with the automatic
// strategy only and caches the code for sessionID and the page URL for
// PreSolveTTL.
func (c *Controller) PreSolve(ctx context.Context, page browser.Page, sessionID, location string) Result {
	if _, ok := FindInput(ctx, page); !ok {
		return Result{Status: StatusNoCaptcha}
	}
	img, err := Image(ctx, page)
	if err != nil {
		return Result{Status: StatusNoImage}
	}
	if len(img) < c.cfg.MinImageBytes {
		return Result{Status: StatusBlackImage}
	}
	if c.Mode() == config.ModeManual {
		return Result{Status: StatusManualRequired}
	}

	code, status, source := c.solveAutomatic(ctx, img, location)
	if code == "" {
		return Result{Status: status, Source: source}
	}
	url, err := page.URL(ctx)
	if err != nil {
		return Result{Status: StatusNoImage}
	}
	c.storePreSolved(sessionID, url, code, status)
	c.logger.Info("  ✓ Pre-solved captcha", zap.String("location", location), zap.String("code", code))
	return Result{Code: code, Status: status, Source: source}
}

// Submit clicks the first visible submit control, falling back to Enter
// in the captcha input.
func Submit(ctx context.Context, page browser.Page) error {
	for _, sel := range submitSelectors {
		if ok, err := page.Visible(ctx, sel); err != nil || !ok {
			continue
		}
		if err := page.Click(ctx, sel); err == nil {
			return nil
		}
	}
	input, ok := FindInput(ctx, page)
	if !ok {
		return fmt.Errorf("no submit control and no captcha input")
	}
	return page.PressEnter(ctx, input)
}

// Reload asks the site for a fresh captcha without leaving the page.
//
// It tries the known refresh controls, then a script matching refresh
// labels, and waits briefly for the new image.
func (c *Controller) Reload(ctx context.Context, page browser.Page, location string) bool {
	for _, sel := range reloadSelectors {
		if ok, err := page.Visible(ctx, sel); err != nil || !ok {
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			script := fmt.Sprintf(`document.querySelector(%q)?.click()`, sel)
			if err := page.Evaluate(ctx, script, nil); err != nil {
				continue
			}
		}
		c.logger.Info("  → Captcha reload clicked", zap.String("location", location), zap.String("selector", sel))
		sleepCtx(ctx, c.reloadPause)
		return true
	}

	var clicked bool
	if err := page.Evaluate(ctx, reloadScript, &clicked); err == nil && clicked {
		c.logger.Info("  → Captcha reload clicked via script", zap.String("location", location))
		sleepCtx(ctx, c.reloadPause)
		return true
	}

	c.logger.Warn("  ⚠️ Could not find captcha reload control", zap.String("location", location))
	return false
}

// FormOutcome is the result of the form-stage captcha loop.
type FormOutcome string

const (
	FormSolved             FormOutcome = "SOLVED"
	FormSessionTooOld      FormOutcome = "SESSION_TOO_OLD"
	FormReloadFailed       FormOutcome = "RELOAD_FAILED"
	FormMaxAttemptsReached FormOutcome = "MAX_ATTEMPTS_REACHED"
)

// FormRequest parameterizes SolveForm.
type FormRequest struct {
	Location   string
	SessionAge func() time.Duration
	MaxAge     time.Duration // abort once the session is older
}

// SolveForm solves the booking form captcha, reloading the image after
// every failure instead of leaving the page, so the held slot is kept.
//
// The budget is FormAttempts, or ManualAttempts in MANUAL mode.
//
// Returns:
//   - the loop outcome
//   - the last solve result (its Code is filled in on SOLVED)
func (c *Controller) SolveForm(ctx context.Context, page browser.Page, req FormRequest) (FormOutcome, Result) {
	budget := c.cfg.FormAttempts
	if c.Mode() == config.ModeManual {
		budget = c.cfg.ManualAttempts
	}
	if budget < 1 {
		budget = 1
	}

	var last Result
	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			break
		}
		age := time.Duration(0)
		if req.SessionAge != nil {
			age = req.SessionAge()
		}
		c.logger.Info("  → Form captcha attempt",
			zap.String("location", req.Location),
			zap.Int("attempt", attempt),
			zap.Int("max", budget),
		)

		last = c.SolveFromPage(ctx, page, Request{
			Location:    fmt.Sprintf("%s_A%d", req.Location, attempt),
			SessionAge:  age,
			Attempt:     attempt,
			MaxAttempts: budget,
		})
		if last.OK() {
			return FormSolved, last
		}
		if attempt == budget {
			break
		}

		if req.MaxAge > 0 && age > req.MaxAge {
			c.logger.Error("  ✗ Session too old during form captcha loop", zap.Duration("age", age))
			return FormSessionTooOld, last
		}
		if !c.Reload(ctx, page, req.Location+"_RELOAD") {
			return FormReloadFailed, last
		}
	}

	c.logger.Error("  ✗ All form captcha attempts failed", zap.String("location", req.Location), zap.Int("attempts", budget))
	return FormMaxAttemptsReached, last
}
