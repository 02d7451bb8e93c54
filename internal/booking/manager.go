// Package booking drives browser sessions through the appointment flow.
//
// This package implements:
//   - Calendar URL generation and the daily release schedule
//   - The month, day, form and submit state machine (Flow)
//   - One Runner per browser session with rebirth and heartbeats
//   - The Manager that owns the runners and exposes operator commands
//
// Concurrency:
//   - Each runner owns its session State exclusively
//   - Stats, the Target signal and the captcha pre-solve cache are the
//     only shared mutable state and are lock-protected
package booking

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"sniper/internal/browser"
	"sniper/internal/captcha"
	"sniper/internal/config"
	"sniper/internal/session"
	"sniper/internal/summary"

	"go.uber.org/zap"
)

// runnerStagger spaces out browser launches at startup.
const runnerStagger = 2 * time.Second

// Deps are the collaborators of a Manager.
type Deps struct {
	Launcher browser.Launcher
	Solver   *captcha.Controller
	Notifier Notifier
	Evidence Evidence
	Logger   *zap.Logger
	Now      func() time.Time
}

// Manager owns the runners and the shared state between them.
//
// It is the single command target for the operator channel: SetMode,
// Pause, Resume, RequestScreenshot, StatusReport and Stop are safe to
// call from any goroutine.
type Manager struct {
	cfg      *config.Config
	base     string
	flow     *Flow
	schedule *Schedule
	target   *Target
	stats    *Stats
	solver   *captcha.Controller
	launcher browser.Launcher
	notifier Notifier
	evidence Evidence
	logger   *zap.Logger
	limits   session.Limits
	now      func() time.Time
	stagger  time.Duration

	paused     atomic.Bool
	screenshot atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	runners []*Runner
	wg      sync.WaitGroup
}

// NewManager validates the target URL and schedule and wires the flow.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Launcher == nil || deps.Solver == nil {
		return nil, fmt.Errorf("booking manager needs a launcher and a captcha controller")
	}
	base, err := PrepareBaseURL(cfg.TargetURL)
	if err != nil {
		return nil, err
	}
	schedule, err := NewSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		base:     base,
		schedule: schedule,
		target:   NewTarget(),
		solver:   deps.Solver,
		launcher: deps.Launcher,
		notifier: deps.Notifier,
		evidence: deps.Evidence,
		logger:   deps.Logger,
		limits:   session.LimitsFromConfig(cfg.Session),
		now:      deps.Now,
		stagger:  runnerStagger,
		stop:     make(chan struct{}),
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.evidence == nil {
		m.evidence = nopEvidence{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.stats = NewStats(m.now())
	m.flow = NewFlow(cfg, base, FlowDeps{
		Solver:   deps.Solver,
		Stats:    m.stats,
		Notifier: m.notifier,
		Evidence: m.evidence,
		Logger:   m.logger,
	})
	return m, nil
}

// roles assigns one scout and attackers when several sessions run.
func roles(n int) []session.Role {
	if n <= 1 {
		return []session.Role{session.RoleSolo}
	}
	out := []session.Role{session.RoleScout}
	for i := 1; i < n; i++ {
		out = append(out, session.RoleAttacker)
	}
	return out
}

// Run starts the runners and blocks until they stop, either because ctx
// ended, Stop was called, or an appointment was booked.
//
// Flow:
//  1. Start one runner goroutine per session, staggered
//  2. Push a status report every StatusInterval
//  3. On exit save the final stats and send a summary
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	roleList := roles(m.cfg.Sessions)
	m.logger.Info("  → Starting session runners",
		zap.Int("sessions", len(roleList)),
		zap.String("mode", string(m.solver.Mode())),
		zap.Bool("dry_run", m.cfg.DryRun),
	)
	m.notify(ctx, fmt.Sprintf("🚀 Sniper started\nSessions: %d\nMode: %s\nDry run: %t",
		len(roleList), m.solver.Mode(), m.cfg.DryRun))

	m.mu.Lock()
	for i, role := range roleList {
		r := newRunner(m, i+1, role)
		m.runners = append(m.runners, r)
		m.wg.Add(1)
		go func(r *Runner, delay time.Duration) {
			if !sleepCtx(ctx, delay) {
				m.wg.Done()
				return
			}
			r.start(ctx)
		}(r, time.Duration(i)*m.stagger)
	}
	m.mu.Unlock()

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		m.statusLoop(ctx)
	}()

	m.wg.Wait()
	cancel()
	<-statusDone

	snap := m.stats.Snapshot()
	if err := m.evidence.SaveStats(snap); err != nil {
		m.logger.Warn("  ⚠️ Failed to save final stats", zap.Error(err))
	}
	m.logger.Info("  ✓ All runners stopped", zap.Bool("success", snap.Success), zap.Int("scans", snap.Scans))

	// The run context is gone; give the final message its own deadline.
	final, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	m.notify(final, "🛑 Sniper stopped\n\n"+m.StatusReport())
	return nil
}

func (m *Manager) statusLoop(ctx context.Context) {
	if m.cfg.StatusInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.notify(ctx, m.StatusReport())
		}
	}
}

// Stop ends the run. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("⛔ Stop requested")
		close(m.stop)
	})
}

// Stopped reports whether Stop was called.
func (m *Manager) Stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// Pause idles every runner without closing its browser.
func (m *Manager) Pause() {
	m.paused.Store(true)
	m.logger.Info("⏸ Paused")
}

// Resume continues after Pause.
func (m *Manager) Resume() {
	m.paused.Store(false)
	m.logger.Info("▶️ Resumed")
}

// Paused reports the pause flag.
func (m *Manager) Paused() bool {
	return m.paused.Load()
}

// SetMode switches the captcha execution mode at runtime.
func (m *Manager) SetMode(name string) (config.Mode, error) {
	mode, ok := config.ParseMode(name)
	if !ok {
		return "", fmt.Errorf("unknown mode %q", name)
	}
	m.solver.SetMode(mode)
	return mode, nil
}

// Mode is the current captcha execution mode.
func (m *Manager) Mode() config.Mode {
	return m.solver.Mode()
}

// RequestScreenshot asks the next runner at a loop boundary to send a
// screenshot of its page.
func (m *Manager) RequestScreenshot() {
	m.screenshot.Store(true)
}

func (m *Manager) takeScreenshotRequest() bool {
	return m.screenshot.CompareAndSwap(true, false)
}

// Snapshot returns the shared counters.
func (m *Manager) Snapshot() Snapshot {
	return m.stats.Snapshot()
}

// Phase is the schedule phase right now.
func (m *Manager) Phase() Phase {
	return m.schedule.PhaseAt(m.now())
}

// StatusReport is the text answer to /status.
func (m *Manager) StatusReport() string {
	return Report(m.stats.Snapshot(), m.Phase(), string(m.Mode()), m.Paused())
}

// StatusCard renders the status as an image.
func (m *Manager) StatusCard() ([]byte, error) {
	snap := m.stats.Snapshot()
	return summary.RenderCard(summary.Card{
		Mode:    string(m.Mode()),
		Phase:   string(m.Phase()),
		Running: !m.Paused(),
		Rows: []summary.Row{
			{Label: "Uptime", Value: m.now().Sub(snap.StartedAt).Round(time.Second).String()},
			{Label: "Scans", Value: strconv.Itoa(snap.Scans)},
			{Label: "Days Found", Value: strconv.Itoa(snap.DaysFound)},
			{Label: "Slots Found", Value: strconv.Itoa(snap.SlotsFound)},
			{Label: "Forms Filled", Value: strconv.Itoa(snap.FormsFilled)},
			{Label: "Captchas", Value: fmt.Sprintf("%d/%d", snap.CaptchasSolved, snap.CaptchaTotal())},
			{Label: "Rebirths", Value: strconv.Itoa(snap.Rebirths)},
			{Label: "Last Cycle", Value: snap.LastCycle},
		},
		GeneratedAt: m.now(),
	})
}

func (m *Manager) monthURLs(now time.Time) []string {
	urls, err := MonthURLs(m.base, m.cfg.MonthOffsets, now)
	if err != nil {
		m.logger.Error("  ✗ Failed to build month URLs", zap.Error(err))
		return nil
	}
	return urls
}

func (m *Manager) notify(ctx context.Context, text string) {
	if err := m.notifier.SendMessage(ctx, text); err != nil {
		m.logger.Warn("  ⚠️ Failed to send notification", zap.Error(err))
	}
}

func (m *Manager) notifySuccess(ctx context.Context, page browser.Page, sess *session.State, outcome BookOutcome) {
	text := fmt.Sprintf("🎉 APPOINTMENT BOOKED\n\nSession: %s\nAge: %ds\nApplicant: %s %s",
		sess.ShortID(), int(sess.Age().Seconds()), m.cfg.Applicant.FirstName, m.cfg.Applicant.LastName)
	if outcome == BookedDry {
		text = "🧪 DRY RUN: form filled, booking not submitted\n\n" + text
	}
	m.notify(ctx, text)
	if page == nil {
		return
	}
	if png, err := page.Screenshot(ctx, ""); err == nil {
		if err := m.notifier.SendPhoto(ctx, png, "Booking evidence"); err != nil {
			m.logger.Warn("  ⚠️ Failed to send evidence", zap.Error(err))
		}
	}
}
