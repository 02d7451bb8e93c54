package booking

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snapshot is a copy of the shared counters.
type Snapshot struct {
	StartedAt        time.Time `json:"started_at"`
	Scans            int       `json:"scans"`
	PagesLoaded      int       `json:"pages_loaded"`
	MonthsScanned    int       `json:"months_scanned"`
	DaysFound        int       `json:"days_found"`
	SlotsFound       int       `json:"slots_found"`
	FormsFilled      int       `json:"forms_filled"`
	CaptchasSolved   int       `json:"captchas_solved"`
	CaptchasFailed   int       `json:"captchas_failed"`
	NavigationErrors int       `json:"navigation_errors"`
	Rebirths         int       `json:"rebirths"`
	SlotsLost        int       `json:"slots_lost"`
	Success          bool      `json:"success"`
	SuccessSession   string    `json:"success_session,omitempty"`
	LastCycle        string    `json:"last_cycle"`
	LastCycleAt      time.Time `json:"last_cycle_at"`
}

// CaptchaTotal is solved plus failed.
func (s Snapshot) CaptchaTotal() int {
	return s.CaptchasSolved + s.CaptchasFailed
}

// Stats are the counters shared by every runner.
type Stats struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStats starts the counters at now.
func NewStats(now time.Time) *Stats {
	return &Stats{snap: Snapshot{StartedAt: now}}
}

// Update applies fn under the lock.
func (s *Stats) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// MarkSuccess records the booking. Only the first caller gets true, so a
// lost race can never count twice.
func (s *Stats) MarkSuccess(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Success {
		return false
	}
	s.snap.Success = true
	s.snap.SuccessSession = sessionID
	return true
}

// Cycle records the outcome of one scan cycle for the health endpoint.
func (s *Stats) Cycle(status string, at time.Time) {
	s.Update(func(snap *Snapshot) {
		snap.Scans++
		snap.LastCycle = status
		snap.LastCycleAt = at
	})
}

// Report renders the text status sent over the command channel.
func Report(snap Snapshot, phase Phase, mode string, paused bool) string {
	state := "🟢 Running"
	if paused {
		state = "⏸ Paused"
	}

	var b strings.Builder
	b.WriteString("📊 STATUS REPORT\n\n")
	fmt.Fprintf(&b, "Mode: %s (%s)\n", mode, phase)
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Uptime: %s\n\n", time.Since(snap.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Scans: %d\n", snap.Scans)
	fmt.Fprintf(&b, "Days Found: %d\n", snap.DaysFound)
	fmt.Fprintf(&b, "Slots Found: %d\n", snap.SlotsFound)
	fmt.Fprintf(&b, "Forms Filled: %d\n", snap.FormsFilled)
	fmt.Fprintf(&b, "Captchas: %d/%d\n", snap.CaptchasSolved, snap.CaptchaTotal())
	fmt.Fprintf(&b, "Rebirths: %d\n", snap.Rebirths)
	if snap.Success {
		fmt.Fprintf(&b, "\n🎉 Booked by session %s\n", snap.SuccessSession)
	}
	return b.String()
}
