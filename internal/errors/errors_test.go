package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpiredError(t *testing.T) {
	err := NewSessionExpiredError("abc", "age 301s > 300s")
	assert.Equal(t, "session abc expired: age 301s > 300s", err.Error())
}

func TestNavigationErrorUnwrap(t *testing.T) {
	base := fmt.Errorf("net::ERR_TIMED_OUT")
	err := NewNavigationError("https://example.test/month", base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "https://example.test/month")
}

func TestIsHelpersFollowWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		expected bool
	}{
		{"config", NewConfigError("TARGET_URL", "required"), IsConfigError, true},
		{"wrapped poisoned", fmt.Errorf("month: %w", NewSessionPoisonedError("s1", "black image")), IsSessionPoisoned, true},
		{"wrapped solver", fmt.Errorf("solve: %w", NewSolverError("ocr", fmt.Errorf("503"))), IsSolver, true},
		{"slot lost", NewSlotLostError("/extern/appointment_showMonth.do"), IsSlotLost, true},
		{"navigation is not expired", NewNavigationError("u", nil), IsSessionExpired, false},
		{"nil", nil, IsNavigation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestRequiresRebirth(t *testing.T) {
	assert.True(t, RequiresRebirth(NewSessionExpiredError("s", "idle")))
	assert.True(t, RequiresRebirth(fmt.Errorf("x: %w", NewSessionPoisonedError("s", "double captcha"))))
	assert.False(t, RequiresRebirth(NewNavigationError("u", nil)))
}
