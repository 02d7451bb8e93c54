package captcha

import (
	"context"
	"fmt"
	"time"
)

// HumanRelay sends a captcha to a person and waits for the typed answer.
//
// RequestSolution returns "" and a nil error when nobody answered within
// timeout.
type HumanRelay interface {
	RequestSolution(ctx context.Context, image []byte, caption string, timeout time.Duration) (string, error)
}

// Request carries the context shown to a human solver and used in logs.
//
// SessionID selects that session's pre-solved code; an empty ID never
// uses the cache.
type Request struct {
	SessionID   string
	Location    string
	SessionAge  time.Duration
	Attempt     int
	MaxAttempts int
}

func (r Request) caption(timeout time.Duration) string {
	attempt, total := r.Attempt, r.MaxAttempts
	if attempt < 1 {
		attempt = 1
	}
	if total < attempt {
		total = attempt
	}
	return fmt.Sprintf("🔐 CAPTCHA REQUIRED\n\n"+
		"📍 Location: %s\n"+
		"⏱️ Session Age: %ds\n"+
		"🔄 Attempt: %d/%d\n\n"+
		"Reply with the %d characters you see.\n"+
		"Timeout: %d seconds",
		r.Location, int(r.SessionAge.Seconds()), attempt, total, NominalLength, int(timeout.Seconds()))
}

// NormalizeReply cleans a human answer. Replies must be 4 to 10 letters or
// digits.
func NormalizeReply(reply string) (string, bool) {
	code := Clean(reply)
	if len(code) < 4 || len(code) > 10 {
		return "", false
	}
	return code, true
}
