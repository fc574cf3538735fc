package service

import (
	"errors"
	"fmt"
	"time"
)

// Service errors. Verification failures are deliberately generic: the
// caller learns that a code or credential was wrong, never which
// mechanism was attempted or why it failed.
var (
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrInvalidCode             = errors.New("invalid verification code")
	ErrTwoFactorNotSetUp       = errors.New("two-factor authentication is not set up")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorRequired       = errors.New("two-factor verification required")
	ErrTwoFactorLocked         = errors.New("two-factor verification temporarily locked")
	ErrAccountNotActive        = errors.New("account is not active")
)

// LockedError carries the remaining lockout deadline. It matches
// ErrTwoFactorLocked under errors.Is.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("two-factor verification locked until %s", e.Until.Format(time.RFC3339))
}

// Is reports whether target is ErrTwoFactorLocked
func (e *LockedError) Is(target error) bool {
	return target == ErrTwoFactorLocked
}

// Remaining returns the lockout duration left at now
func (e *LockedError) Remaining(now time.Time) time.Duration {
	if e.Until.Before(now) {
		return 0
	}
	return e.Until.Sub(now)
}
