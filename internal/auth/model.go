package auth

import (
	"fmt"
	"time"
)

// Role is the single role carried as a token claim.
type Role string

const (
	RoleUser     Role = "user"
	RoleAuthor   Role = "author"
	RoleEmployer Role = "employer"
)

// ParseRole maps a request value onto the fixed role set.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleUser, RoleAuthor, RoleEmployer:
		return Role(value), nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// Account is the user record the identity core reads and writes. At most one
// refresh token is live per account; RefreshToken and RefreshTokenExpiry are
// always set and cleared together.
type Account struct {
	ID             string
	Username       string
	Email          string
	Phone          string
	PasswordHash   string
	Role           Role
	EmailConfirmed bool

	FailedLoginCount int
	LockoutUntil     *time.Time

	RefreshToken       *string
	RefreshTokenExpiry *time.Time

	ConfirmCode       *string
	ConfirmCodeExpiry *time.Time
	ResetCode         *string
	ResetCodeExpiry   *time.Time

	PendingPhone          *string
	PhoneChangeCode       *string
	PhoneChangeCodeExpiry *time.Time

	// Version backs the store's optimistic concurrency check.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetRefreshToken stores a rotated refresh token with its expiry.
func (a *Account) SetRefreshToken(value string, expiresAt time.Time) {
	a.RefreshToken = &value
	a.RefreshTokenExpiry = &expiresAt
}

// ClearRefreshToken drops the stored refresh token, if any.
func (a *Account) ClearRefreshToken() {
	a.RefreshToken = nil
	a.RefreshTokenExpiry = nil
}

// TokenPair is what login and refresh hand back to the boundary.
type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry *time.Time
}

// RegistrationResult identifies the account pending email confirmation.
type RegistrationResult struct {
	AccountID string
	ReturnURL string
}
