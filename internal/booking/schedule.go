package booking

import (
	"fmt"
	"math/rand"
	"time"

	"sniper/internal/config"
)

// Phase is the scan intensity derived from the wall clock.
type Phase string

const (
	PhasePatrol    Phase = "PATROL"
	PhaseWarmup    Phase = "WARMUP"
	PhasePreAttack Phase = "PRE_ATTACK"
	PhaseAttack    Phase = "ATTACK"
)

// Schedule maps wall-clock time in the site's timezone to a Phase.
//
// Timeline around the daily release at AttackHour:00:
//
//	... PATROL | WARMUP (WarmupLead) | PRE_ATTACK (PreAttackLead) | ATTACK (AttackWindow) | PATROL ...
type Schedule struct {
	cfg config.ScheduleConfig
	loc *time.Location
}

// NewSchedule loads the configured timezone.
func NewSchedule(cfg config.ScheduleConfig) (*Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Schedule{cfg: cfg, loc: loc}, nil
}

// Location is the site timezone.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// PhaseAt returns the phase for t.
func (s *Schedule) PhaseAt(t time.Time) Phase {
	local := t.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.AttackHour, 0, 0, 0, s.loc)

	// The warmup before a midnight release starts on the previous day.
	for _, start := range []time.Time{today, today.AddDate(0, 0, 1)} {
		switch {
		case !local.Before(start) && local.Before(start.Add(s.cfg.AttackWindow)):
			return PhaseAttack
		case !local.Before(start.Add(-s.cfg.PreAttackLead)) && local.Before(start):
			return PhasePreAttack
		case !local.Before(start.Add(-s.cfg.WarmupLead)) && local.Before(start):
			return PhaseWarmup
		}
	}
	return PhasePatrol
}

// NextAttack returns the start of the next release window after t.
func (s *Schedule) NextAttack(t time.Time) time.Time {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.AttackHour, 0, 0, 0, s.loc)
	if !start.After(local) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// SleepFor picks the pause between two scan cycles for phase.
func (s *Schedule) SleepFor(phase Phase, rng *rand.Rand) time.Duration {
	switch phase {
	case PhaseAttack, PhasePreAttack:
		return between(rng, s.cfg.AttackSleepMin, s.cfg.AttackSleepMax)
	case PhaseWarmup:
		return s.cfg.WarmupSleep
	default:
		return between(rng, s.cfg.PatrolSleepMin, s.cfg.PatrolSleepMax)
	}
}

func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)))
}
