// Package session tracks the lifetime and health of one browser session.
//
// A State is owned by exactly one runner goroutine and is never shared,
// so it carries no lock. It is replaced wholesale on rebirth.
package session

import (
	"fmt"
	"time"

	"sniper/internal/config"

	"github.com/google/uuid"
)

// Role is informational in single-session mode.
type Role string

const (
	RoleSolo     Role = "solo"
	RoleScout    Role = "scout"
	RoleAttacker Role = "attacker"
)

// Health of a session. Poisoned is terminal.
type Health int

const (
	Clean Health = iota
	Warning
	Degraded
	Poisoned
)

func (h Health) String() string {
	switch h {
	case Clean:
		return "CLEAN"
	case Warning:
		return "WARNING"
	case Degraded:
		return "DEGRADED"
	case Poisoned:
		return "POISONED"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

// Stage is the last flow stage the session reached. Health rules depend on it.
type Stage string

const (
	StageMonth      Stage = "MONTH"
	StageDay        Stage = "DAY"
	StageForm       Stage = "FORM"
	StagePostSubmit Stage = "POST_SUBMIT"
)

// Limits are the expiry thresholds, taken from config.SessionConfig.
type Limits struct {
	MaxAge               time.Duration
	MaxIdle              time.Duration
	MaxConsecutiveErrors int
	NetworkFailureLimit  int
}

// LimitsFromConfig copies the session thresholds out of the config.
func LimitsFromConfig(cfg config.SessionConfig) Limits {
	return Limits{
		MaxAge:               cfg.MaxAge,
		MaxIdle:              cfg.MaxIdle,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		NetworkFailureLimit:  cfg.NetworkFailureLimit,
	}
}

// State is the mutable record of one browser session.
type State struct {
	ID           string
	Role         Role
	Generation   int // rebirth counter of the owning runner
	CreatedAt    time.Time
	LastActivity time.Time

	ConsecutiveFailures int
	NetworkFailures     int
	CaptchaAttempts     int
	CaptchaSolved       bool // a captcha was accepted in the current flow
	Stage               Stage

	Health       Health
	PoisonReason string

	limits Limits
	now    func() time.Time
}

// New creates a fresh session with a random identifier.
//
// Parameters:
//   - role: scout, attacker or solo
//   - generation: how many sessions the runner has created before this one
//   - limits: expiry thresholds
//   - now: clock, time.Now when nil
func New(role Role, generation int, limits Limits, now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &State{
		ID:           uuid.NewString(),
		Role:         role,
		Generation:   generation,
		CreatedAt:    t,
		LastActivity: t,
		Stage:        StageMonth,
		Health:       Clean,
		limits:       limits,
		now:          now,
	}
}

// ShortID is the first block of the identifier, used in logs and captions.
func (s *State) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Age is the time since creation.
func (s *State) Age() time.Duration {
	return s.now().Sub(s.CreatedAt)
}

// Idle is the time since the last recorded activity.
func (s *State) Idle() time.Duration {
	return s.now().Sub(s.LastActivity)
}

// Touch records activity (a navigation, a captcha event, a heartbeat).
func (s *State) Touch() {
	s.LastActivity = s.now()
}

// RecordSuccess resets the consecutive failure counters after a good step.
func (s *State) RecordSuccess() {
	s.ConsecutiveFailures = 0
	s.NetworkFailures = 0
	s.Touch()
}

// RecordFailure counts a non-network failure and lowers health one level,
// never past Degraded. It returns the new consecutive count.
func (s *State) RecordFailure() int {
	s.ConsecutiveFailures++
	if s.Health < Degraded {
		s.Health++
	}
	return s.ConsecutiveFailures
}

// RecordNetworkFailure counts a failed navigation and returns the new count.
func (s *State) RecordNetworkFailure() int {
	s.NetworkFailures++
	return s.NetworkFailures
}

// RecordNavigation closes the circuit breaker after a page loaded.
func (s *State) RecordNavigation() {
	s.NetworkFailures = 0
	s.Touch()
}

// RecordCaptchaAttempt counts one solve attempt and returns the total.
func (s *State) RecordCaptchaAttempt() int {
	s.CaptchaAttempts++
	s.Touch()
	return s.CaptchaAttempts
}

// MarkCaptchaSolved records that the server accepted a captcha.
func (s *State) MarkCaptchaSolved() {
	s.CaptchaSolved = true
	s.Touch()
}

// EnterStage moves the session to a flow stage. Returning to the month
// stage starts a new flow, so the solved-captcha marker is cleared.
func (s *State) EnterStage(stage Stage) {
	s.Stage = stage
	if stage == StageMonth {
		s.CaptchaSolved = false
	}
	s.Touch()
}

// Recover raises health one level after a clean step. A poisoned session
// never recovers.
func (s *State) Recover() {
	if s.Health > Clean && s.Health < Poisoned {
		s.Health--
	}
}

// Poison marks the session as flagged by the server.
func (s *State) Poison(reason string) {
	s.Health = Poisoned
	s.PoisonReason = reason
}

// ExpiryReason reports why the session must be rebuilt, if it must.
//
// Rules, first match wins:
//   - health is POISONED
//   - age exceeds MaxAge
//   - idle exceeds MaxIdle
//   - NetworkFailures reached the circuit breaker limit
//   - ConsecutiveFailures reached MaxConsecutiveErrors
func (s *State) ExpiryReason() (string, bool) {
	switch {
	case s.Health == Poisoned:
		return "poisoned: " + s.PoisonReason, true
	case s.limits.MaxAge > 0 && s.Age() > s.limits.MaxAge:
		return fmt.Sprintf("age %s > %s", s.Age().Round(time.Second), s.limits.MaxAge), true
	case s.limits.MaxIdle > 0 && s.Idle() > s.limits.MaxIdle:
		return fmt.Sprintf("idle %s > %s", s.Idle().Round(time.Second), s.limits.MaxIdle), true
	case s.limits.NetworkFailureLimit > 0 && s.NetworkFailures >= s.limits.NetworkFailureLimit:
		return fmt.Sprintf("circuit breaker: %d network failures", s.NetworkFailures), true
	case s.limits.MaxConsecutiveErrors > 0 && s.ConsecutiveFailures >= s.limits.MaxConsecutiveErrors:
		return fmt.Sprintf("%d consecutive failures", s.ConsecutiveFailures), true
	}
	return "", false
}

// Expired reports whether ExpiryReason yields a reason.
func (s *State) Expired() bool {
	_, expired := s.ExpiryReason()
	return expired
}
