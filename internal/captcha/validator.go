// Package captcha turns captcha images into codes the appointment site
// accepts.
//
// Features:
//   - Length and repetition based validation of solver output
//   - Pluggable solving strategies (local OCR server, 2captcha, capsolver)
//   - Optional image preprocessing before OCR
//   - Human relay fallback governed by the execution mode
//   - Short-lived pre-solved code cache
//   - Page helpers: image extraction, input fill, submit, reload
package captcha

import (
	"strings"
)

// Status is the outcome of one validation or solve.
type Status string

// Validator statuses.
const (
	StatusValid         Status = "VALID"
	StatusAging7        Status = "AGING_7"
	StatusAging8        Status = "AGING_8"
	StatusTooShort      Status = "TOO_SHORT"
	StatusTooLong       Status = "TOO_LONG"
	StatusBlackDetected Status = "BLACK_DETECTED"
	StatusEmpty         Status = "EMPTY"
	StatusManual        Status = "MANUAL"
)

// Controller statuses.
const (
	StatusBlackImage     Status = "BLACK_IMAGE"
	StatusNoImage        Status = "NO_IMAGE"
	StatusNoInput        Status = "NO_INPUT"
	StatusFillError      Status = "FILL_ERROR"
	StatusManualRequired Status = "MANUAL_REQUIRED"
	StatusManualTimeout  Status = "MANUAL_TIMEOUT"
	StatusNoStrategy     Status = "NO_STRATEGY"
	StatusSolverError    Status = "SOLVER_ERROR"
)

// NominalLength is the fixed length of the site's codes.
const NominalLength = 6

// AutoSkip is the status returned in AUTO mode when a solve failed with s
// and no human may be asked.
func AutoSkip(s Status) Status {
	return Status("AUTO_SKIP_" + string(s))
}

// Aging reports whether s is one of the accepted-but-degrading statuses.
func (s Status) Aging() bool {
	return s == StatusAging7 || s == StatusAging8
}

// Validator classifies solver output.
type Validator struct {
	garbage map[string]struct{}
}

// NewValidator creates a validator that rejects the given literal codes as
// poisoned-image output.
func NewValidator(garbage []string) *Validator {
	v := &Validator{garbage: make(map[string]struct{}, len(garbage))}
	for _, g := range garbage {
		if c := Clean(g); c != "" {
			v.garbage[c] = struct{}{}
		}
	}
	return v
}

// Clean lowercases s and keeps only ASCII letters and digits.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate cleans raw and classifies it.
//
// Rules, in order:
//  1. empty after cleaning: EMPTY
//  2. a garbage literal, or one repeated character longer than 3: BLACK_DETECTED
//  3. shorter than 4: TOO_SHORT
//  4. exactly 6: VALID
//  5. 7 or 8: AGING_7 / AGING_8, accepted
//  6. longer than 8: TOO_LONG
//  7. 4 or 5: TOO_SHORT
//
// Returns:
//   - the cleaned code
//   - whether it may be submitted
//   - the status
func (v *Validator) Validate(raw string) (string, bool, Status) {
	code := Clean(raw)
	n := len(code)

	switch {
	case n == 0:
		return code, false, StatusEmpty
	case v.isGarbage(code):
		return code, false, StatusBlackDetected
	case n < 4:
		return code, false, StatusTooShort
	case n == NominalLength:
		return code, true, StatusValid
	case n == 7:
		return code, true, StatusAging7
	case n == 8:
		return code, true, StatusAging8
	case n > 8:
		return code, false, StatusTooLong
	}
	return code, false, StatusTooShort
}

func (v *Validator) isGarbage(code string) bool {
	if _, ok := v.garbage[code]; ok {
		return true
	}
	return len(code) > 3 && strings.Count(code, code[:1]) == len(code)
}
