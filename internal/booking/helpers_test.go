package booking

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sniper/internal/browser/browsertest"
	"sniper/internal/captcha"
	"sniper/internal/config"
	"sniper/internal/session"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testTarget   = "https://service2.diplo.de/rktermin/extern/appointment_showMonth.do?locationCode=sana&realmId=1&categoryId=2"
	testSiteRoot = "https://service2.diplo.de/rktermin"
	testFormURL  = testSiteRoot + "/extern/appointment_showForm.do?locationCode=sana&openingPeriodId=77"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// noon in Aden, far from the 02:00 release.
func patrolTime() time.Time {
	loc, _ := time.LoadLocation("Asia/Aden")
	return time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
}

type fakeStrategy struct {
	mu      sync.Mutex
	answers []string
	calls   int
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Solve(_ context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	i := f.calls - 1
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	return f.answers[i], nil
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	photos   []string
}

func (n *fakeNotifier) SendMessage(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func (n *fakeNotifier) SendPhoto(_ context.Context, _ []byte, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.photos = append(n.photos, caption)
	return nil
}

func (n *fakeNotifier) all() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.messages, "\n---\n")
}

func testConfig() *config.Config {
	return &config.Config{
		TargetURL: testTarget,
		Applicant: config.Applicant{
			LastName:  "Saleh",
			FirstName: "Amal",
			Email:     "amal@example.test",
			Passport:  "12345678",
			Phone:     "+967 777 000 111",
		},
		CategoryKeywords: []string{"Student visa", "Studium"},
		MonthOffsets:     []int{2},
		MonthAttempts:    5,
		SubmitAttempts:   3,
		ExecutionMode:    config.ModeAuto,
		Captcha: config.CaptchaConfig{
			OCRRetries:     1,
			MinImageBytes:  2000,
			PreSolveTTL:    30 * time.Second,
			GarbageCodes:   []string{"4333", "333", "1111"},
			FormAttempts:   3,
			ManualAttempts: 1000,
		},
		Session: config.SessionConfig{
			MaxAge:               300 * time.Second,
			MaxIdle:              12 * time.Second,
			Heartbeat:            8 * time.Second,
			MaxConsecutiveErrors: 3,
			NetworkFailureLimit:  2,
			FormMaxAge:           30 * time.Minute,
		},
		Schedule: config.ScheduleConfig{
			Timezone:       "Asia/Aden",
			AttackHour:     2,
			AttackWindow:   2 * time.Minute,
			WarmupLead:     15 * time.Minute,
			PreAttackLead:  30 * time.Second,
			PatrolSleepMin: 10 * time.Second,
			PatrolSleepMax: 20 * time.Second,
			WarmupSleep:    5 * time.Second,
			AttackSleepMin: 500 * time.Millisecond,
			AttackSleepMax: 1500 * time.Millisecond,
		},
		Browser:  config.BrowserConfig{WaitTimeout: time.Second},
		Sessions: 1,
	}
}

func newTestFlow(t *testing.T, cfg *config.Config, strategy captcha.Strategy) (*Flow, *Stats) {
	t.Helper()
	stats := NewStats(time.Now())
	solver := captcha.NewController(cfg.Captcha, cfg.ExecutionMode, strategy, nil, zaptest.NewLogger(t))
	f := NewFlow(cfg, testTarget, FlowDeps{Solver: solver, Stats: stats, Logger: zaptest.NewLogger(t)})
	f.sleep = func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }
	return f, stats
}

func newTestSession() *session.State {
	return session.New(session.RoleSolo, 1, session.Limits{
		MaxAge:               300 * time.Second,
		MaxIdle:              time.Hour,
		MaxConsecutiveErrors: 3,
		NetworkFailureLimit:  2,
	}, nil)
}

func captchaImage() []byte {
	return bytes.Repeat([]byte{0x42}, 2500)
}

func monthCaptchaPage(img []byte, extra string) string {
	return `<html><body>` + extra + `<form id="appointment_captcha_month">` +
		`<captcha><div style="background:white url('data:image/jpg;base64,` +
		base64.StdEncoding.EncodeToString(img) + `') no-repeat scroll 0 0"></div></captcha>` +
		`<input type="text" name="captchaText">` +
		`<input type="submit" name="action:appointment_showMonth" value="Continue">` +
		`<input type="submit" id="appointment_captcha_month_refreshcaptcha" value="Load another picture">` +
		`</form></body></html>`
}

const wrongCodeBanner = `<div class="global-error">The entered text was wrong</div>`

func calendarPage(days ...int) string {
	var b strings.Builder
	b.WriteString(`<html><body><h2>March 2026</h2>`)
	for _, d := range days {
		fmt.Fprintf(&b, `<a href="extern/appointment_showDay.do?locationCode=sana&amp;dateStr=%02d.05.2026">%d</a>`, d, d)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const emptyCalendarPage = `<html><body><h2>May 2026</h2><p>Unfortunately, there are no appointments available at this time.</p></body></html>`

const dayPage = `<html><body><h2>Appointments on 16.05.2026</h2>` +
	`<a class="arrow" href="extern/appointment_showForm.do?locationCode=sana&amp;openingPeriodId=77">09:00</a>` +
	`</body></html>`

func formPage(img []byte) string {
	return `<html><body><form id="appointment_newAppointmentForm">` +
		`<input type="text" name="lastname" value="">` +
		`<input type="text" name="firstname"><input type="text" name="email"><input type="text" name="emailrepeat">` +
		`<label for="passportField">Passport number</label><input type="text" id="passportField" name="fields[0].content">` +
		`<label for="phoneField">Telephone</label><input type="text" id="phoneField" name="fields[1].content">` +
		`<select name="fields[2].content"><option value="">Please select</option>` +
		`<option value="1">Tourism</option><option value="2">Student visa (university)</option></select>` +
		`<captcha><div style="background:white url('data:image/jpg;base64,` +
		base64.StdEncoding.EncodeToString(img) + `') no-repeat scroll 0 0"></div></captcha>` +
		`<input type="text" name="captchaText">` +
		`<input type="submit" id="appointment_newAppointmentForm_appointment_addAppointment" value="Submit">` +
		`</form></body></html>`
}

const successPage = `<html><body><h2>Your appointment number is 4711. The appointment was booked successfully.</h2></body></html>`

// site routes day and form URLs to canned pages; month URLs get monthHTML.
func site(monthHTML string) func(url string) (string, error) {
	return func(url string) (string, error) {
		switch {
		case strings.Contains(url, "appointment_showForm"):
			return formPage(captchaImage()), nil
		case strings.Contains(url, "appointment_showDay"):
			return dayPage, nil
		default:
			return monthHTML, nil
		}
	}
}

func requireMonthURL(t *testing.T, now time.Time) string {
	t.Helper()
	base, err := PrepareBaseURL(testTarget)
	require.NoError(t, err)
	urls, err := MonthURLs(base, []int{2}, now)
	require.NoError(t, err)
	return urls[0]
}

func newTestPage(html string) *browsertest.Page {
	p := browsertest.New(testTarget, html)
	p.ScreenshotBytes = []byte("png")
	return p
}
