package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"portfolio-identity/internal/mail"
	"portfolio-identity/internal/observability"
	"portfolio-identity/internal/token"
)

const (
	confirmCodeTTL     = 24 * time.Hour
	resetCodeTTL       = time.Hour
	phoneChangeCodeTTL = 10 * time.Minute
)

// Service orchestrates login, refresh, revoke and the account-lifecycle flows
// by composing the token manager, the lockout policy and the user store.
type Service struct {
	store   UserStore
	tokens  *token.Manager
	mail    mail.Sender
	lockout LockoutPolicy
	logger  *observability.Logger
	now     func() time.Time
}

func NewService(store UserStore, tokens *token.Manager, sender mail.Sender, lockout LockoutPolicy, logger *observability.Logger) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		mail:    sender,
		lockout: lockout,
		logger:  logger,
		now:     time.Now,
	}
}

// Login checks the credentials behind the lockout policy. Success always
// yields an access token; a refresh token is issued and persisted only with
// rememberMe, and any previously stored one is cleared without it so a stale
// token cannot outlive a non-persistent session.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool) (*TokenPair, error) {
	account, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !account.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}

	now := s.now().UTC()

	if s.lockout.Locked(account, now) {
		until := *account.LockoutUntil
		s.lockout.NoteLockedAttempt(account)
		if err := s.store.Update(ctx, account); err != nil {
			return nil, err
		}
		return nil, ErrAccountLocked{Until: until}
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		lockedNow := s.lockout.RegisterFailure(account, now)
		if err := s.store.Update(ctx, account); err != nil {
			return nil, err
		}
		if lockedNow {
			return nil, ErrAccountLocked{Until: *account.LockoutUntil}
		}
		return nil, ErrInvalidLogin
	}

	s.lockout.RegisterSuccess(account)

	pair, err := s.issuePair(account, rememberMe)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded", "account_id", account.ID)

	return pair, nil
}

// Refresh exchanges an expired access token plus the matching refresh token
// for a fresh pair. Refresh tokens are single-use: the stored value is
// overwritten on success, so presenting the old one again fails.
func (s *Service) Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ParseExpired(accessToken)
	if err != nil {
		return nil, err
	}

	account, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	now := s.now().UTC()
	if account.RefreshToken == nil || account.RefreshTokenExpiry == nil || !account.RefreshTokenExpiry.After(now) {
		return nil, ErrInvalidRefreshToken
	}
	if subtle.ConstantTimeCompare([]byte(*account.RefreshToken), []byte(refreshToken)) != 1 {
		return nil, ErrInvalidRefreshToken
	}

	pair, err := s.issuePair(account, true)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("tokens rotated", "account_id", account.ID)

	return pair, nil
}

// Revoke clears the stored refresh token. Revoking an account that has no
// live token succeeds silently.
func (s *Service) Revoke(ctx context.Context, accountID string) error {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	account.ClearRefreshToken()
	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("refresh token revoked", "account_id", account.ID)

	return nil
}

// RegisterParams carries the registration request.
type RegisterParams struct {
	Username  string
	Email     string
	Password  string
	Role      Role
	HostURL   string
	ReturnURL string
}

// Register creates an unconfirmed account and mails the confirmation link.
// No tokens are issued until the email is confirmed.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*RegistrationResult, error) {
	if err := validatePassword(params.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.FindByEmail(ctx, params.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.FindByUsername(ctx, params.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate account id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := randomCode()
	if err != nil {
		return nil, err
	}
	codeExpiry := s.now().UTC().Add(confirmCodeTTL)

	account := &Account{
		ID:                id.String(),
		Username:          params.Username,
		Email:             params.Email,
		PasswordHash:      string(hash),
		Role:              params.Role,
		ConfirmCode:       &code,
		ConfirmCodeExpiry: &codeExpiry,
	}

	if err := s.store.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "account_id", account.ID)

	subject, body := mail.ConfirmationMessage(params.HostURL, account.ID, code, params.ReturnURL)
	s.sendMail(ctx, account.Email, subject, body)

	return &RegistrationResult{AccountID: account.ID, ReturnURL: params.ReturnURL}, nil
}

// ConfirmEmail validates the mailed code and marks the email confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, accountID, code string) error {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !codeMatches(account.ConfirmCode, account.ConfirmCodeExpiry, code, s.now().UTC()) {
		return ErrInvalidCode
	}

	account.EmailConfirmed = true
	account.ConfirmCode = nil
	account.ConfirmCodeExpiry = nil

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("email confirmed", "account_id", account.ID)

	return nil
}

// ResendConfirmation regenerates the confirmation code and re-sends the mail.
func (s *Service) ResendConfirmation(ctx context.Context, email, returnURL, hostURL string) error {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := randomCode()
	if err != nil {
		return err
	}
	codeExpiry := s.now().UTC().Add(confirmCodeTTL)
	account.ConfirmCode = &code
	account.ConfirmCodeExpiry = &codeExpiry

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	subject, body := mail.ConfirmationMessage(hostURL, account.ID, code, returnURL)
	s.sendMail(ctx, account.Email, subject, body)

	return nil
}

// ForgotPassword stores a reset code and mails the reset link. The single
// error hides whether the account is missing or merely unconfirmed.
func (s *Service) ForgotPassword(ctx context.Context, email, hostURL string) error {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrResetNotAllowed
		}
		return err
	}
	if !account.EmailConfirmed {
		return ErrResetNotAllowed
	}

	code, err := randomCode()
	if err != nil {
		return err
	}
	codeExpiry := s.now().UTC().Add(resetCodeTTL)
	account.ResetCode = &code
	account.ResetCodeExpiry = &codeExpiry

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	subject, body := mail.ResetMessage(hostURL, account.Email, code)
	s.sendMail(ctx, account.Email, subject, body)

	return nil
}

// ResetPassword replaces the password hash after validating the mailed code.
// Any stored refresh token is revoked: a reset usually follows a suspected
// compromise.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	if !codeMatches(account.ResetCode, account.ResetCodeExpiry, code, s.now().UTC()) {
		return ErrInvalidCode
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	account.PasswordHash = string(hash)
	account.ResetCode = nil
	account.ResetCodeExpiry = nil
	account.ClearRefreshToken()

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("password reset", "account_id", account.ID)

	return nil
}

// RequestPhoneChange stores a pending number with a short numeric code and
// mails the code to the account's confirmed address.
func (s *Service) RequestPhoneChange(ctx context.Context, accountID, newPhone string) error {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	code, err := numericCode()
	if err != nil {
		return err
	}
	codeExpiry := s.now().UTC().Add(phoneChangeCodeTTL)
	account.PendingPhone = &newPhone
	account.PhoneChangeCode = &code
	account.PhoneChangeCodeExpiry = &codeExpiry

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	subject, body := mail.PhoneChangeMessage(newPhone, code)
	s.sendMail(ctx, account.Email, subject, body)

	return nil
}

// ConfirmPhoneChange applies the pending number once the code checks out.
func (s *Service) ConfirmPhoneChange(ctx context.Context, accountID, newPhone, code string) error {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	if account.PendingPhone == nil || *account.PendingPhone != newPhone {
		return ErrInvalidCode
	}
	if !codeMatches(account.PhoneChangeCode, account.PhoneChangeCodeExpiry, code, s.now().UTC()) {
		return ErrInvalidCode
	}

	account.Phone = newPhone
	account.PendingPhone = nil
	account.PhoneChangeCode = nil
	account.PhoneChangeCodeExpiry = nil

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("phone number changed", "account_id", account.ID)

	return nil
}

// issuePair mints the access token and, when persist is set, a rotated
// refresh token stored on the account. Without persist the stored refresh
// token is cleared.
func (s *Service) issuePair(account *Account, persist bool) (*TokenPair, error) {
	access, accessExpiry, err := s.tokens.IssueAccessToken(account.ID, account.Username, string(account.Role))
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{AccessToken: access, AccessTokenExpiry: accessExpiry}

	if persist {
		refresh, refreshExpiry, err := s.tokens.IssueRefreshToken()
		if err != nil {
			return nil, err
		}
		account.SetRefreshToken(refresh, refreshExpiry)
		pair.RefreshToken = refresh
		pair.RefreshTokenExpiry = &refreshExpiry
	} else {
		account.ClearRefreshToken()
	}

	return pair, nil
}

func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if err := s.mail.Send(ctx, to, subject, body); err != nil {
		s.logger.Error("mail delivery failed", "to", to, "error", err.Error())
	}
}

func codeMatches(stored *string, expiry *time.Time, presented string, now time.Time) bool {
	if stored == nil || expiry == nil || !expiry.After(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) == 1
}

func randomCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func numericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate numeric code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// validatePassword enforces the registration policy: at least eight
// characters with an uppercase letter, a lowercase letter, a digit and a
// non-alphanumeric character.
func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}

	if !upper || !lower || !digit || !special {
		return ErrWeakPassword
	}

	return nil
}
