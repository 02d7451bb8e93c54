package booking

import (
	"context"
	"math/rand"
	"time"

	"sniper/internal/browser"
	"sniper/internal/errors"
	"sniper/internal/session"

	"go.uber.org/zap"
)

const (
	heartbeatScript = `fetch(location.href, {method: 'HEAD', credentials: 'include'}).then(r => r.status)`
	launchBackoff   = 5 * time.Second
	pausePoll       = time.Second
	monthPauseMin   = time.Second
	monthPauseMax   = 2 * time.Second
)

// Runner drives one browser session for the manager.
//
// Lifecycle:
//  1. Build a session (browser + State) on first use
//  2. Rebuild it whenever it expires, is poisoned or a pre-attack
//     refresh is due
//  3. Run one cycle for its role, then idle with heartbeats
//  4. Repeat until the manager stops
//
// The runner's session State is never shared; only the Holder's page is
// read by the screenshot command from other goroutines.
type Runner struct {
	id     int
	role   session.Role
	m      *Manager
	holder browser.Holder
	sess   *session.State
	rng    *rand.Rand
	logger *zap.Logger

	generation   int
	retire       string    // set when an error demands a new session
	preAttackFor time.Time // release the current session was refreshed for
}

func newRunner(m *Manager, id int, role session.Role) *Runner {
	return &Runner{
		id:     id,
		role:   role,
		m:      m,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		logger: m.logger.Named("runner").With(zap.Int("runner", id), zap.String("role", string(role))),
	}
}

// Session returns the current session, nil before the first launch.
func (r *Runner) Session() *session.State {
	return r.sess
}

// start is the runner goroutine.
func (r *Runner) start(ctx context.Context) {
	defer r.m.wg.Done()
	defer r.holder.Cancel()

	r.logger.Info("  ✓ Runner started")
	for ctx.Err() == nil {
		if r.m.Paused() {
			r.serveScreenshot(ctx)
			sleepCtx(ctx, pausePoll)
			continue
		}

		phase, status := r.step(ctx)
		if ctx.Err() != nil {
			break
		}
		r.logger.Debug("  → Cycle finished", zap.String("status", status), zap.String("phase", string(phase)))
		r.idle(ctx, r.m.schedule.SleepFor(phase, r.rng))
	}
	r.logger.Info("  ✓ Runner stopped")
}

// step makes sure a healthy session exists and runs one cycle with it.
func (r *Runner) step(ctx context.Context) (Phase, string) {
	now := r.m.now()
	phase := r.m.schedule.PhaseAt(now)
	r.serveScreenshot(ctx)

	if err := r.ensureSession(ctx, phase, now); err != nil {
		r.logger.Error("  ✗ Could not create browser session", zap.Error(err))
		sleepCtx(ctx, launchBackoff)
		return phase, "launch failed"
	}

	var status string
	if r.role == session.RoleAttacker {
		status = r.attackerCycle(ctx, phase)
	} else {
		status = r.scanCycle(ctx)
	}
	r.m.stats.Cycle(status, r.m.now())
	return phase, status
}

// ensureSession rebuilds the session when it must not be used again.
func (r *Runner) ensureSession(ctx context.Context, phase Phase, now time.Time) error {
	switch {
	case r.sess == nil:
		return r.rebirth(ctx, "initial")
	case r.retire != "":
		return r.rebirth(ctx, r.retire)
	}
	if reason, expired := r.sess.ExpiryReason(); expired {
		return r.rebirth(ctx, reason)
	}

	if phase != PhasePreAttack {
		return nil
	}
	release := r.m.schedule.NextAttack(now)
	if r.preAttackFor.Equal(release) {
		return nil
	}
	r.preAttackFor = release
	if err := r.rebirth(ctx, "pre-attack refresh"); err != nil {
		return err
	}
	if r.role != session.RoleAttacker && len(r.m.monthURLs(now)) > 0 {
		res := r.m.flow.PreSolve(ctx, r.holder.Get(), r.sess, r.m.monthURLs(now)[0])
		r.logger.Info("  → Pre-attack captcha", zap.String("status", string(res.Status)))
	}
	return nil
}

// rebirth discards the browser and creates a new one with a new identity.
func (r *Runner) rebirth(ctx context.Context, reason string) error {
	page, fp, cancel, err := r.m.launcher.Launch(ctx)
	if err != nil {
		return err
	}
	r.holder.Set(page, fp, cancel)

	old := r.sess
	r.generation++
	r.sess = session.New(r.role, r.generation, r.m.limits, r.m.now)
	r.retire = ""

	if old != nil {
		r.m.stats.Update(func(s *Snapshot) { s.Rebirths++ })
		r.logger.Warn("♻️ Session reborn",
			zap.String("reason", reason),
			zap.String("old", old.ShortID()),
			zap.String("new", r.sess.ShortID()),
			zap.Int("generation", r.generation),
		)
		r.m.evidence.RecordIncident(old.ID, "REBIRTH", reason)
	} else {
		r.logger.Info("  ✓ Session created", zap.String("session", r.sess.ShortID()), zap.String("user_agent", fp.UserAgent))
	}
	return nil
}

// scanCycle walks every target month once. A solo runner books what it
// finds; the scout publishes it for the attackers.
func (r *Runner) scanCycle(ctx context.Context) string {
	urls := r.m.monthURLs(r.m.now())
	for i, monthURL := range urls {
		if ctx.Err() != nil {
			return "stopped"
		}
		if reason, expired := r.sess.ExpiryReason(); expired {
			return "expired: " + reason
		}

		res, err := r.m.flow.ScanMonth(ctx, r.holder.Get(), r.sess, monthURL)
		if err != nil {
			r.handleError(err)
			return "error: " + err.Error()
		}

		switch res.Outcome {
		case MonthDaysFound:
			if r.role == session.RoleScout {
				r.logger.Info("🎯 Days found, signalling attackers", zap.String("url", monthURL))
				r.m.target.Publish(monthURL)
				r.m.notify(ctx, "🎯 Days available, attackers signalled\n"+monthURL)
				return "days found"
			}
			if len(res.DayURLs) > 0 {
				return r.book(ctx, res.DayURLs[0], monthURL)
			}
		case MonthAging:
			return "aging"
		}

		if i < len(urls)-1 && !sleepCtx(ctx, between(r.rng, monthPauseMin, monthPauseMax)) {
			return "stopped"
		}
	}
	return "scanned"
}

// attackerCycle races on a published target, scans on its own during the
// release window and otherwise stands by.
func (r *Runner) attackerCycle(ctx context.Context, phase Phase) string {
	if monthURL, ok := r.m.target.Current(); ok {
		return r.attack(ctx, monthURL)
	}
	if phase == PhaseAttack {
		return r.scanCycle(ctx)
	}
	return "standby"
}

func (r *Runner) attack(ctx context.Context, monthURL string) string {
	r.logger.Info("⚔️ Attacking published target", zap.String("url", monthURL))
	res, err := r.m.flow.ScanMonth(ctx, r.holder.Get(), r.sess, monthURL)
	if err != nil {
		r.handleError(err)
		return "error: " + err.Error()
	}
	switch res.Outcome {
	case MonthDaysFound:
		if len(res.DayURLs) > 0 {
			return r.book(ctx, res.DayURLs[0], monthURL)
		}
	case MonthEmpty:
		r.m.target.Clear(monthURL)
		return "target gone"
	}
	return string(res.Outcome)
}

// book runs the day, form and submit stages. Only the first success is
// counted; it stops every runner.
func (r *Runner) book(ctx context.Context, dayURL, monthURL string) string {
	outcome, err := r.m.flow.Book(ctx, r.holder.Get(), r.sess, dayURL)

	switch {
	case outcome == Booked || outcome == BookedDry:
		if r.m.stats.MarkSuccess(r.sess.ID) {
			r.logger.Info("🎉 Appointment booked", zap.String("session", r.sess.ShortID()), zap.Bool("dry_run", outcome == BookedDry))
			r.m.notifySuccess(ctx, r.holder.Get(), r.sess, outcome)
			r.m.Stop()
		}
		return string(outcome)

	case errors.IsSlotLost(err):
		r.logger.Info("  → Lost the race, resuming scan", zap.Error(err))
		r.m.target.Clear(monthURL)
		return string(BookSlotGone)

	case err != nil:
		r.handleError(err)
		return "error: " + err.Error()
	}
	return string(outcome)
}

// handleError retires the session on session-fatal errors. Navigation
// errors are already counted by the circuit breaker.
func (r *Runner) handleError(err error) {
	if errors.RequiresRebirth(err) {
		r.retire = err.Error()
		r.logger.Warn("  ⚠️ Session retired", zap.Error(err))
		return
	}
	if errors.IsNavigation(err) {
		r.logger.Warn("  ⚠️ Navigation error", zap.Error(err))
		return
	}
	r.logger.Warn("  ⚠️ Cycle error", zap.Error(err))
}

// idle waits d between cycles. Every Heartbeat it pings the page so the
// site keeps the session alive; attackers wake early on a signal.
func (r *Runner) idle(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return
		}
		chunk := remaining
		if hb := r.m.cfg.Session.Heartbeat; hb > 0 && hb < chunk {
			chunk = hb
		}

		var wake <-chan struct{}
		if r.role == session.RoleAttacker {
			wake = r.m.target.Wait()
		}
		t := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-wake:
			t.Stop()
			return
		case <-t.C:
		}

		r.heartbeat(ctx)
		r.serveScreenshot(ctx)
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	page := r.holder.Get()
	if page == nil || r.sess == nil {
		return
	}
	var status int
	if err := page.Evaluate(ctx, heartbeatScript, &status); err != nil {
		r.logger.Debug("  ⚠️ Heartbeat failed", zap.Error(err))
		return
	}
	r.sess.Touch()
}

// serveScreenshot answers a pending /screenshot request. Only one runner
// takes each request.
func (r *Runner) serveScreenshot(ctx context.Context) {
	if !r.m.takeScreenshotRequest() {
		return
	}
	page := r.holder.Get()
	if page == nil {
		r.m.screenshot.Store(true)
		return
	}
	png, err := page.Screenshot(ctx, "")
	if err != nil {
		r.logger.Warn("  ⚠️ Screenshot failed", zap.Error(err))
		r.m.notify(ctx, "⚠️ Screenshot failed: "+err.Error())
		return
	}
	caption := "📸 Runner " + r.sess.ShortID() + " (" + string(r.role) + ")"
	if err := r.m.notifier.SendPhoto(ctx, png, caption); err != nil {
		r.logger.Warn("  ⚠️ Failed to send screenshot", zap.Error(err))
	}
}
