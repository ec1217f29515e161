package auth

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means no account matches the given id, username or email.
	ErrNotFound = errors.New("auth: account not found")

	// ErrInvalidLogin is the generic failed-password answer. It deliberately
	// carries no detail about which part of the check failed.
	ErrInvalidLogin = errors.New("auth: invalid login attempt")

	// ErrEmailNotConfirmed blocks login until the confirmation link is used.
	ErrEmailNotConfirmed = errors.New("auth: email not confirmed")

	// ErrEmailTaken rejects a registration for an already-known email.
	ErrEmailTaken = errors.New("auth: email already registered")

	// ErrInvalidRefreshToken covers a missing account, a mismatched value and
	// an expired stored token alike; the caller cannot tell them apart.
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")

	// ErrInvalidCode rejects a wrong or expired confirmation/reset code.
	ErrInvalidCode = errors.New("auth: invalid or expired code")

	// ErrResetNotAllowed hides whether the account is missing or unconfirmed.
	ErrResetNotAllowed = errors.New("auth: account does not exist or email not confirmed")

	// ErrWeakPassword rejects passwords that fail the policy.
	ErrWeakPassword = errors.New("auth: password does not meet requirements")

	// ErrUsernameTaken rejects a registration for an already-known username.
	ErrUsernameTaken = errors.New("auth: username already registered")

	// ErrConcurrencyConflict surfaces a lost optimistic-concurrency race from
	// the store. The request can be retried.
	ErrConcurrencyConflict = errors.New("auth: account was modified concurrently")
)

// ErrAccountLocked reports an active lockout window.
type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "auth: account locked until " + e.Until.UTC().Format(time.RFC3339)
}
