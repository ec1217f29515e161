package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicy_FailuresBelowThresholdDoNotLock(t *testing.T) {
	policy := DefaultLockoutPolicy()
	account := &Account{}
	now := time.Now().UTC()

	for i := 0; i < DefaultLockoutThreshold-1; i++ {
		locked := policy.RegisterFailure(account, now)
		assert.False(t, locked)
	}

	assert.Equal(t, DefaultLockoutThreshold-1, account.FailedLoginCount)
	assert.Nil(t, account.LockoutUntil)
	assert.False(t, policy.Locked(account, now))
}

func TestLockoutPolicy_ThresholdFailureLocks(t *testing.T) {
	policy := DefaultLockoutPolicy()
	account := &Account{FailedLoginCount: DefaultLockoutThreshold - 1}
	now := time.Now().UTC()

	locked := policy.RegisterFailure(account, now)
	require.True(t, locked)
	require.NotNil(t, account.LockoutUntil)
	assert.Equal(t, now.Add(DefaultLockoutDuration), *account.LockoutUntil)
	assert.Equal(t, DefaultLockoutThreshold, account.FailedLoginCount)

	assert.True(t, policy.Locked(account, now))
	assert.True(t, policy.Locked(account, now.Add(DefaultLockoutDuration-time.Second)))
	assert.False(t, policy.Locked(account, now.Add(DefaultLockoutDuration)))
}

func TestLockoutPolicy_LockedAttemptResetsCounter(t *testing.T) {
	policy := DefaultLockoutPolicy()
	until := time.Now().UTC().Add(5 * time.Minute)
	account := &Account{FailedLoginCount: DefaultLockoutThreshold, LockoutUntil: &until}

	policy.NoteLockedAttempt(account)

	assert.Equal(t, 0, account.FailedLoginCount)
	// Only the counter resets; the window keeps running.
	require.NotNil(t, account.LockoutUntil)
	assert.Equal(t, until, *account.LockoutUntil)
}

func TestLockoutPolicy_SuccessClearsCounterAndWindow(t *testing.T) {
	policy := DefaultLockoutPolicy()
	until := time.Now().UTC().Add(-time.Minute)
	account := &Account{FailedLoginCount: 3, LockoutUntil: &until}

	policy.RegisterSuccess(account)

	assert.Equal(t, 0, account.FailedLoginCount)
	assert.Nil(t, account.LockoutUntil)
}

func TestLockoutPolicy_CustomThreshold(t *testing.T) {
	policy := LockoutPolicy{Threshold: 2, Duration: time.Minute}
	account := &Account{}
	now := time.Now().UTC()

	assert.False(t, policy.RegisterFailure(account, now))
	assert.True(t, policy.RegisterFailure(account, now))
	require.NotNil(t, account.LockoutUntil)
	assert.Equal(t, now.Add(time.Minute), *account.LockoutUntil)
}
