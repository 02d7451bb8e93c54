package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sniper/internal/browser"
	"sniper/internal/captcha"
	"sniper/internal/config"
	"sniper/internal/errors"
	"sniper/internal/pagestate"
	"sniper/internal/session"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	slotLinkSelector = "a.arrow[href*='appointment_showForm']"
	navigationTries  = 2
	navigationPause  = time.Second
)

// Markers that appear once the month captcha was answered.
var monthWaitSelectors = []string{
	pagestate.ErrorBannerSelector,
	pagestate.DayLinkSelector,
	".error",
}

// Markers that appear once the booking form was submitted.
var submitWaitSelectors = []string{
	pagestate.ErrorBannerSelector,
	pagestate.MonthCaptchaSelector,
	pagestate.DayLinkSelector,
	"div.info",
	".error",
}

// Booking form submit controls, tried after Enter in the captcha field.
var formSubmitSelectors = []string{
	"#appointment_newAppointmentForm_appointment_addAppointment",
	"input[name='action:appointment_addAppointment']",
	"input[value='Submit']",
}

const formSubmitScript = `(() => { const f = document.querySelector('form'); if (f) { f.submit(); return true; } return false; })()`

// MonthOutcome ends a month scan.
type MonthOutcome string

const (
	MonthDaysFound MonthOutcome = "DAYS_FOUND"
	MonthEmpty     MonthOutcome = "EMPTY"
	MonthExhausted MonthOutcome = "EXHAUSTED"
	MonthAging     MonthOutcome = "AGING"
)

// MonthResult is what ScanMonth found.
type MonthResult struct {
	Outcome  MonthOutcome
	DayURLs  []string // absolute, in page order
	Attempts int
}

// BookOutcome ends a booking attempt that started on a day page.
type BookOutcome string

const (
	Booked       BookOutcome = "BOOKED"
	BookedDry    BookOutcome = "DRY_RUN"
	NoSlots      BookOutcome = "NO_SLOTS"
	BookFailed   BookOutcome = "FAILED"
	BookSlotGone BookOutcome = "SLOT_LOST"
)

// FlowDeps are the collaborators of a Flow. Nil Notifier and Evidence
// are replaced with no-ops.
type FlowDeps struct {
	Solver   *captcha.Controller
	Stats    *Stats
	Notifier Notifier
	Evidence Evidence
	Logger   *zap.Logger
}

// Flow drives one session through month, day, form and submit.
//
// A Flow holds no per-session state and is shared by all runners; every
// method takes the session's page and State.
type Flow struct {
	cfg      *config.Config
	base     string
	solver   *captcha.Controller
	stats    *Stats
	notifier Notifier
	evidence Evidence
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewFlow creates a flow against the prepared base URL.
func NewFlow(cfg *config.Config, base string, deps FlowDeps) *Flow {
	f := &Flow{
		cfg:      cfg,
		base:     base,
		solver:   deps.Solver,
		stats:    deps.Stats,
		notifier: deps.Notifier,
		evidence: deps.Evidence,
		logger:   deps.Logger,
		sleep:    sleepCtx,
	}
	if f.notifier == nil {
		f.notifier = nopNotifier{}
	}
	if f.evidence == nil {
		f.evidence = nopEvidence{}
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.stats == nil {
		f.stats = NewStats(time.Now())
	}
	f.logger = f.logger.Named("flow")
	return f
}

func (f *Flow) log(sess *session.State) *zap.Logger {
	return f.logger.With(zap.String("session", sess.ShortID()), zap.String("role", string(sess.Role)))
}

// open navigates with a small local retry. Every failure feeds the
// session's circuit breaker; once it trips the error is returned at once.
// A navigation always serves a new captcha, so the session's pre-solved
// code is dropped first.
func (f *Flow) open(ctx context.Context, page browser.Page, sess *session.State, url string) error {
	log := f.log(sess)
	f.solver.ClearPreSolved(sess.ID)
	var err error
	for try := 1; try <= navigationTries; try++ {
		log.Info("  → Navigating", zap.String("url", url), zap.Int("try", try))
		if err = page.Navigate(ctx, url); err == nil {
			sess.RecordNavigation()
			f.stats.Update(func(s *Snapshot) { s.PagesLoaded++ })
			return nil
		}

		failures := sess.RecordNetworkFailure()
		f.stats.Update(func(s *Snapshot) { s.NavigationErrors++ })
		log.Warn("  ⚠️ Navigation failed", zap.Int("network_failures", failures), zap.Error(err))

		if sess.Expired() || ctx.Err() != nil {
			break
		}
		if try < navigationTries && !f.sleep(ctx, navigationPause) {
			break
		}
	}
	if errors.IsNavigation(err) {
		return err
	}
	return errors.NewNavigationError(url, err)
}

// ScanMonth opens a calendar URL and works through its captcha.
//
// Flow, up to MonthAttempts times:
//  1. From the second attempt on, force a fresh captcha (reload control,
//     else a page reload) so a rejected image is never solved twice
//  2. Classify the page
//  3. SLOTS_FOUND returns the day links; EMPTY_CALENDAR returns MonthEmpty
//  4. Otherwise solve, submit and wait for the answer
//
// Returns:
//   - MonthResult on every non-fatal path, MonthExhausted included
//   - *errors.NavigationError when the calendar could not be loaded
//   - *errors.SessionPoisonedError on a black captcha
func (f *Flow) ScanMonth(ctx context.Context, page browser.Page, sess *session.State, monthURL string) (MonthResult, error) {
	log := f.log(sess).With(zap.String("stage", "month"))
	sess.EnterStage(session.StageMonth)

	if f.onPreSolvedPage(ctx, page, sess, monthURL) {
		log.Info("  → Pre-solved captcha waiting, staying on the page")
	} else if err := f.open(ctx, page, sess, monthURL); err != nil {
		return MonthResult{}, err
	}

	submitted := false
	for attempt := 1; attempt <= f.cfg.MonthAttempts; attempt++ {
		if ctx.Err() != nil {
			return MonthResult{Outcome: MonthExhausted, Attempts: attempt - 1}, ctx.Err()
		}

		state := pagestate.Classify(ctx, page)
		if res, done := f.monthTerminal(ctx, page, sess, state, submitted, attempt); done {
			return res, nil
		}
		if state == pagestate.WrongCode {
			f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })
			log.Warn("  ✗ Captcha rejected", zap.Int("attempt", attempt))
		}
		submitted = false

		if attempt > 1 {
			f.solver.ClearPreSolved(sess.ID)
			if !f.solver.Reload(ctx, page, "MONTH") {
				if err := page.Reload(ctx); err != nil {
					log.Warn("  ⚠️ Page reload failed", zap.Error(err))
				}
			}
			state = pagestate.Classify(ctx, page)
			if res, done := f.monthTerminal(ctx, page, sess, state, false, attempt); done {
				return res, nil
			}
		}

		log.Info("  → Solving month captcha", zap.Int("attempt", attempt), zap.String("state", string(state)))
		sess.RecordCaptchaAttempt()
		res := f.solver.SolveFromPage(ctx, page, captcha.Request{
			SessionID:   sess.ID,
			Location:    fmt.Sprintf("MONTH_A%d", attempt),
			SessionAge:  sess.Age(),
			Attempt:     attempt,
			MaxAttempts: f.cfg.MonthAttempts,
		})

		switch {
		case res.Status == captcha.StatusBlackImage || res.Status == captcha.StatusBlackDetected:
			return MonthResult{Attempts: attempt}, f.poison(ctx, page, sess, "black captcha: "+string(res.Status))
		case res.Status == captcha.StatusAging8:
			log.Warn("  ⚠️ 8-character captcha, session is aging", zap.Duration("cooldown", f.cfg.Session.AgingCooldown))
			f.evidence.RecordIncident(sess.ID, "AGING_8", monthURL)
			sess.RecordFailure()
			f.sleep(ctx, f.cfg.Session.AgingCooldown)
			if err := page.Reload(ctx); err != nil {
				log.Warn("  ⚠️ Page reload failed", zap.Error(err))
			}
			return MonthResult{Outcome: MonthAging, Attempts: attempt}, nil
		case !res.OK():
			log.Warn("  ⚠️ Captcha not solved", zap.String("status", string(res.Status)))
			f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })
			continue
		}

		if res.Status == captcha.StatusAging7 {
			log.Warn("  ⚠️ 7-character captcha accepted, session is aging")
		}
		if err := captcha.Submit(ctx, page); err != nil {
			log.Warn("  ⚠️ Captcha submit failed", zap.Error(err))
			continue
		}
		submitted = true
		if _, err := page.WaitAny(ctx, monthWaitSelectors, f.cfg.Browser.WaitTimeout); err != nil {
			log.Debug("  → No marker after submit", zap.Error(err))
		}
	}

	// The last answer may have been accepted on the final attempt.
	state := pagestate.Classify(ctx, page)
	if res, done := f.monthTerminal(ctx, page, sess, state, submitted, f.cfg.MonthAttempts); done {
		return res, nil
	}
	if state == pagestate.WrongCode && submitted {
		f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })
	}

	log.Warn("  ✗ Month captcha attempts exhausted", zap.Int("attempts", f.cfg.MonthAttempts))
	sess.RecordFailure()
	f.stats.Update(func(s *Snapshot) { s.MonthsScanned++ })
	return MonthResult{Outcome: MonthExhausted, Attempts: f.cfg.MonthAttempts}, nil
}

// onPreSolvedPage reports whether page still shows monthURL with the
// captcha this session solved ahead of time.
func (f *Flow) onPreSolvedPage(ctx context.Context, page browser.Page, sess *session.State, monthURL string) bool {
	if !f.solver.HasPreSolved(sess.ID, monthURL) {
		return false
	}
	current, err := page.URL(ctx)
	return err == nil && current == monthURL
}

// monthTerminal handles the two states that end a month scan. A calendar
// whose content cannot be read is not terminal; the caller retries.
func (f *Flow) monthTerminal(ctx context.Context, page browser.Page, sess *session.State, state pagestate.State, submitted bool, attempt int) (MonthResult, bool) {
	if state != pagestate.SlotsFound && state != pagestate.EmptyCalendar {
		return MonthResult{}, false
	}
	log := f.log(sess)

	var html string
	if state == pagestate.SlotsFound {
		var err error
		if html, err = page.Content(ctx); err != nil {
			log.Warn("  ⚠️ Failed to read calendar", zap.Int("attempt", attempt), zap.Error(err))
			return MonthResult{}, false
		}
	}

	if submitted {
		sess.MarkCaptchaSolved()
		f.stats.Update(func(s *Snapshot) { s.CaptchasSolved++ })
	}
	sess.RecordSuccess()
	sess.Recover()
	f.stats.Update(func(s *Snapshot) { s.MonthsScanned++ })

	if state == pagestate.EmptyCalendar {
		log.Info("  → No appointments this month", zap.Int("attempt", attempt))
		return MonthResult{Outcome: MonthEmpty, Attempts: attempt}, true
	}

	links := pagestate.DayLinks(html)
	urls := make([]string, 0, len(links))
	for _, href := range links {
		urls = append(urls, AbsoluteURL(f.base, href))
	}
	f.stats.Update(func(s *Snapshot) { s.DaysFound += len(urls) })
	log.Info("  ✓ Days available", zap.Int("days", len(urls)), zap.Int("attempt", attempt))
	f.evidence.SaveHTML(sess.ID, "days_found", html)
	return MonthResult{Outcome: MonthDaysFound, DayURLs: urls, Attempts: attempt}, true
}

// poison marks the session, keeps the page as evidence and waits out the
// cooldown before the runner rebuilds the browser.
func (f *Flow) poison(ctx context.Context, page browser.Page, sess *session.State, reason string) error {
	f.log(sess).Error("⛔ Session poisoned", zap.String("reason", reason), zap.Duration("cooldown", f.cfg.Session.PoisonCooldown))
	sess.Poison(reason)
	f.evidence.RecordIncident(sess.ID, "POISONED", reason)
	if html, err := page.Content(ctx); err == nil {
		f.evidence.SaveHTML(sess.ID, "poisoned", html)
	}
	f.sleep(ctx, f.cfg.Session.PoisonCooldown)
	return errors.NewSessionPoisonedError(sess.ID, reason)
}

// ScanDay opens a day page and returns the absolute form URLs of its
// time slots.
func (f *Flow) ScanDay(ctx context.Context, page browser.Page, sess *session.State, dayURL string) ([]string, error) {
	log := f.log(sess).With(zap.String("stage", "day"))
	if err := f.open(ctx, page, sess, dayURL); err != nil {
		return nil, err
	}
	sess.EnterStage(session.StageDay)

	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	// A second captcha in the same flow means the server flagged us.
	if sess.CaptchaSolved && doc.Find(pagestate.MonthCaptchaSelector+", "+pagestate.CaptchaInputSelector).Length() > 0 {
		return nil, f.poison(ctx, page, sess, "double captcha")
	}

	var slots []string
	doc.Find(slotLinkSelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			slots = append(slots, AbsoluteURL(f.base, href))
		}
	})
	f.stats.Update(func(s *Snapshot) { s.SlotsFound += len(slots) })
	if len(slots) == 0 {
		log.Warn("  ⚠️ Day page has no time slots", zap.String("url", dayURL))
	} else {
		log.Info("  ✓ Time slots found", zap.Int("slots", len(slots)))
	}
	return slots, nil
}

// Book takes a day URL through slot selection, form and submission.
//
// Flow:
//  1. ScanDay and pick the first slot
//  2. Open the form; a bounce to the month captcha ends the session
//  3. Fill the applicant fields and category
//  4. In dry-run mode stop here and count it as booked
//  5. Submit with the form captcha loop
func (f *Flow) Book(ctx context.Context, page browser.Page, sess *session.State, dayURL string) (BookOutcome, error) {
	log := f.log(sess).With(zap.String("stage", "form"))

	slots, err := f.ScanDay(ctx, page, sess, dayURL)
	if err != nil {
		return BookFailed, err
	}
	if len(slots) == 0 {
		sess.RecordFailure()
		return NoSlots, nil
	}

	if err := f.open(ctx, page, sess, slots[0]); err != nil {
		return BookFailed, err
	}
	sess.EnterStage(session.StageForm)

	if n, _ := page.Count(ctx, pagestate.MonthCaptchaSelector); n > 0 {
		log.Error("  ✗ Form bounced back to the month captcha")
		f.evidence.RecordIncident(sess.ID, "FORM_BOUNCE", slots[0])
		return BookFailed, errors.NewSessionExpiredError(sess.ID, "bounced to month captcha")
	}
	if n, _ := page.Count(ctx, pagestate.LastNameSelector); n == 0 {
		url, _ := page.URL(ctx)
		if strings.Contains(url, "appointment_showMonth") || strings.Contains(url, "appointment_showDay") {
			f.stats.Update(func(s *Snapshot) { s.SlotsLost++ })
			return BookSlotGone, errors.NewSlotLostError(url)
		}
		log.Warn("  ⚠️ Booking form not found", zap.String("url", url))
		sess.RecordFailure()
		return BookFailed, nil
	}

	if err := fillApplicant(ctx, page, f.cfg.Applicant, f.cfg.CategoryKeywords, log); err != nil {
		sess.RecordFailure()
		return BookFailed, err
	}
	f.stats.Update(func(s *Snapshot) { s.FormsFilled++ })
	log.Info("  ✓ Form filled")

	if f.cfg.DryRun {
		log.Warn("🛑 Dry run, not submitting the booking")
		f.saveEvidence(ctx, page, sess, "DRY_RUN_SUCCESS")
		return BookedDry, nil
	}

	return f.Submit(ctx, page, sess)
}

// Submit solves the form captcha and submits until the server answers.
//
// Outcomes per attempt:
//   - SUCCESS ends the flow
//   - WRONG_CODE and a first FORM_REJECTED retry with a fresh captcha
//   - a second silent FORM_REJECTED poisons the session
//   - SLOT_LOST returns *errors.SlotLostError; another session won
//   - SESSION_INVALID returns *errors.SessionExpiredError
func (f *Flow) Submit(ctx context.Context, page browser.Page, sess *session.State) (BookOutcome, error) {
	log := f.log(sess).With(zap.String("stage", "submit"))
	rejections := 0

	for attempt := 1; attempt <= f.cfg.SubmitAttempts; attempt++ {
		if ctx.Err() != nil {
			return BookFailed, ctx.Err()
		}

		if ok, _ := page.Visible(ctx, pagestate.CaptchaInputSelector); ok {
			outcome, res := f.solver.SolveForm(ctx, page, captcha.FormRequest{
				Location:   "BOOKING",
				SessionAge: sess.Age,
				MaxAge:     f.cfg.Session.FormMaxAge,
			})
			sess.RecordCaptchaAttempt()
			switch outcome {
			case captcha.FormSolved:
			case captcha.FormSessionTooOld:
				return BookFailed, errors.NewSessionExpiredError(sess.ID, "too old for the form captcha")
			default:
				log.Error("  ✗ Form captcha failed", zap.String("outcome", string(outcome)), zap.String("status", string(res.Status)))
				f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })
				sess.RecordFailure()
				return BookFailed, nil
			}
		}

		log.Info("  → Submitting booking", zap.Int("attempt", attempt))
		if err := submitForm(ctx, page); err != nil {
			log.Warn("  ⚠️ Submit failed", zap.Error(err))
			continue
		}
		if _, err := page.WaitAny(ctx, submitWaitSelectors, f.cfg.Browser.WaitTimeout); err != nil {
			log.Debug("  → No marker after submit", zap.Error(err))
		}
		sess.EnterStage(session.StagePostSubmit)

		switch pagestate.DetectOutcome(ctx, page) {
		case pagestate.Success:
			f.stats.Update(func(s *Snapshot) { s.CaptchasSolved++ })
			log.Info("🎉 Booking submitted successfully")
			f.saveEvidence(ctx, page, sess, "SUCCESS")
			return Booked, nil

		case pagestate.SlotLost:
			url, _ := page.URL(ctx)
			log.Warn("  ✗ Slot taken by someone else", zap.String("url", url))
			f.stats.Update(func(s *Snapshot) { s.SlotsLost++ })
			return BookSlotGone, errors.NewSlotLostError(url)

		case pagestate.SessionInvalid:
			log.Error("  ✗ Session invalid after submit")
			f.saveEvidence(ctx, page, sess, "SESSION_INVALID")
			return BookFailed, errors.NewSessionExpiredError(sess.ID, "session invalid after submit")

		case pagestate.SubmitWrong:
			log.Warn("  ✗ Form captcha rejected", zap.Int("attempt", attempt))
			f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })

		case pagestate.FormRejected:
			rejections++
			f.stats.Update(func(s *Snapshot) { s.CaptchasFailed++ })
			f.evidence.RecordIncident(sess.ID, "FORM_REJECTED", fmt.Sprintf("attempt %d", attempt))
			if rejections > 1 {
				return BookFailed, f.poison(ctx, page, sess, "silent form rejection")
			}
			log.Warn("  ⚠️ Form shown again without an error", zap.Int("attempt", attempt))
		}

		if formCleared(ctx, page) {
			log.Info("  → Refilling cleared form")
			if err := fillApplicant(ctx, page, f.cfg.Applicant, f.cfg.CategoryKeywords, log); err != nil {
				log.Warn("  ⚠️ Refill failed", zap.Error(err))
			}
		}
	}

	log.Error("  ✗ Submit attempts exhausted", zap.Int("attempts", f.cfg.SubmitAttempts))
	f.saveEvidence(ctx, page, sess, "SUBMIT_EXHAUSTED")
	sess.RecordFailure()
	return BookFailed, nil
}

// submitForm sends the booking form: Enter in the captcha field, then
// the known submit buttons, then a scripted form.submit().
func submitForm(ctx context.Context, page browser.Page) error {
	if input, ok := captcha.FindInput(ctx, page); ok {
		if err := page.PressEnter(ctx, input); err == nil {
			return nil
		}
	}
	for _, sel := range formSubmitSelectors {
		if n, _ := page.Count(ctx, sel); n == 0 {
			continue
		}
		if err := page.Click(ctx, sel); err == nil {
			return nil
		}
	}
	var submitted bool
	if err := page.Evaluate(ctx, formSubmitScript, &submitted); err != nil {
		return err
	}
	if !submitted {
		return fmt.Errorf("no form to submit")
	}
	return nil
}

func (f *Flow) saveEvidence(ctx context.Context, page browser.Page, sess *session.State, label string) {
	if html, err := page.Content(ctx); err == nil {
		if err := f.evidence.SaveHTML(sess.ID, label, html); err != nil {
			f.logger.Warn("  ⚠️ Failed to save HTML evidence", zap.Error(err))
		}
	}
	if png, err := page.Screenshot(ctx, ""); err == nil {
		if err := f.evidence.SaveScreenshot(sess.ID, label, png); err != nil {
			f.logger.Warn("  ⚠️ Failed to save screenshot", zap.Error(err))
		}
	}
}

// PreSolve loads the first calendar and solves its captcha ahead of the
// release so the first attack cycle can skip OCR.
func (f *Flow) PreSolve(ctx context.Context, page browser.Page, sess *session.State, monthURL string) captcha.Result {
	if err := f.open(ctx, page, sess, monthURL); err != nil {
		return captcha.Result{Status: captcha.StatusNoImage}
	}
	return f.solver.PreSolve(ctx, page, sess.ID, "PRE_ATTACK")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
