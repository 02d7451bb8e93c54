// Package errors provides custom error types for the sniper application.
//
// Each type maps to one recovery strategy of the booking flow:
//   - ConfigError: system-fatal, raised at startup and never retried
//   - NavigationError: transient, retried locally with a small bounded loop
//   - SessionExpiredError: the session outlived its budget, rebirth required
//   - SessionPoisonedError: the server flagged the session, abandon it now
//   - SolverError: one captcha strategy failed, the controller falls back
//   - SlotLostError: another session won the race for the slot
package errors

import (
	stderrors "errors"
	"fmt"
)

// ConfigError indicates missing or invalid configuration at startup.
//
// Recovery strategy: none, the process exits.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Message)
}

// NewConfigError creates a new configuration error for the given key
func NewConfigError(key, msg string) *ConfigError {
	return &ConfigError{Key: key, Message: msg}
}

// NavigationError wraps a failed page load or element interaction.
//
// This error is returned when:
//   - Navigation times out or the connection drops
//   - An expected element never becomes visible
//   - In-page script evaluation fails
//
// Recovery strategy: local retry, then count a network failure on the session
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigation error: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigation error: %s", e.URL)
}

// Unwrap returns the wrapped error for error chain inspection
func (e *NavigationError) Unwrap() error {
	return e.Err
}

// NewNavigationError creates a new navigation error with context
func NewNavigationError(url string, err error) *NavigationError {
	return &NavigationError{URL: url, Err: err}
}

// SessionExpiredError indicates the session exceeded its age or idle budget.
//
// Recovery strategy: rebirth the browser context with a new fingerprint
type SessionExpiredError struct {
	SessionID string
	Message   string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s expired: %s", e.SessionID, e.Message)
}

// NewSessionExpiredError creates a new session expired error with context
func NewSessionExpiredError(sessionID, msg string) *SessionExpiredError {
	return &SessionExpiredError{SessionID: sessionID, Message: msg}
}

// SessionPoisonedError indicates the server is serving garbage to this session.
//
// This error is returned when:
//   - The captcha image is under the black-image byte threshold
//   - A second captcha appears right after one was accepted
//   - The booking form silently reappears after submission
//
// Recovery strategy: abandon the session immediately, no further captcha attempts
type SessionPoisonedError struct {
	SessionID string
	Reason    string
}

func (e *SessionPoisonedError) Error() string {
	return fmt.Sprintf("session %s poisoned: %s", e.SessionID, e.Reason)
}

// NewSessionPoisonedError creates a new poisoned session error
func NewSessionPoisonedError(sessionID, reason string) *SessionPoisonedError {
	return &SessionPoisonedError{SessionID: sessionID, Reason: reason}
}

// SolverError wraps a failure of one captcha solving provider.
type SolverError struct {
	Provider string
	Err      error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver %s failed: %v", e.Provider, e.Err)
}

// Unwrap returns the wrapped error for error chain inspection
func (e *SolverError) Unwrap() error {
	return e.Err
}

// NewSolverError creates a new solver error for the named provider
func NewSolverError(provider string, err error) *SolverError {
	return &SolverError{Provider: provider, Err: err}
}

// SlotLostError indicates the flow was redirected back to the calendar
// after submitting, meaning another client took the slot first.
type SlotLostError struct {
	URL string
}

func (e *SlotLostError) Error() string {
	return fmt.Sprintf("slot lost: redirected to %s", e.URL)
}

// NewSlotLostError creates a new slot lost error
func NewSlotLostError(url string) *SlotLostError {
	return &SlotLostError{URL: url}
}

// IsConfigError checks if the error chain contains a configuration error
func IsConfigError(err error) bool {
	var target *ConfigError
	return stderrors.As(err, &target)
}

// IsNavigation checks if the error chain contains a navigation error
func IsNavigation(err error) bool {
	var target *NavigationError
	return stderrors.As(err, &target)
}

// IsSessionExpired checks if the error chain contains a session expired error
func IsSessionExpired(err error) bool {
	var target *SessionExpiredError
	return stderrors.As(err, &target)
}

// IsSessionPoisoned checks if the error chain contains a poisoned session error
func IsSessionPoisoned(err error) bool {
	var target *SessionPoisonedError
	return stderrors.As(err, &target)
}

// IsSolver checks if the error chain contains a solver error
func IsSolver(err error) bool {
	var target *SolverError
	return stderrors.As(err, &target)
}

// IsSlotLost checks if the error chain contains a slot lost error
func IsSlotLost(err error) bool {
	var target *SlotLostError
	return stderrors.As(err, &target)
}

// RequiresRebirth reports whether the error means the current browser
// session must be discarded.
func RequiresRebirth(err error) bool {
	return IsSessionExpired(err) || IsSessionPoisoned(err)
}
