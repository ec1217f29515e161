package auth

import "time"

// LockoutPolicy guards login attempts with a per-account failure counter and
// lockout window. It mutates the counter fields on the account; persisting the
// change is the caller's job.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 10 * time.Minute
)

// DefaultLockoutPolicy is five consecutive failures, ten minutes locked.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

// Locked reports whether the account is inside an active lockout window.
// A window that has elapsed counts as open; no reset is needed to unlock.
func (p LockoutPolicy) Locked(a *Account, now time.Time) bool {
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// NoteLockedAttempt records an attempt made while the account is locked.
// The counter resets to zero, matching the long-observed behavior of this
// system. A stricter policy would retain the count or extend the window;
// changing that is a deliberate decision, not a cleanup.
func (p LockoutPolicy) NoteLockedAttempt(a *Account) {
	a.FailedLoginCount = 0
}

// RegisterFailure counts a failed password check on an open account and
// reports whether this attempt triggered a lockout. On lockout the counter
// stays at the threshold.
func (p LockoutPolicy) RegisterFailure(a *Account, now time.Time) bool {
	a.FailedLoginCount++
	if a.FailedLoginCount >= p.Threshold {
		until := now.Add(p.Duration)
		a.LockoutUntil = &until
		return true
	}

	return false
}

// RegisterSuccess clears the counter and any lockout after a successful
// password check.
func (p LockoutPolicy) RegisterSuccess(a *Account) {
	a.FailedLoginCount = 0
	a.LockoutUntil = nil
}
