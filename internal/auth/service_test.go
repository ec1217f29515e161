package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"portfolio-identity/internal/observability"
	"portfolio-identity/internal/token"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*Account)}
}

func (s *fakeStore) put(account *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.Version == 0 {
		account.Version = 1
	}
	clone := *account
	s.accounts[account.ID] = &clone
}

func (s *fakeStore) get(id string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *s.accounts[id]
	return &clone
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*Account, error) {
	return s.findBy(func(a *Account) bool { return a.ID == id })
}

func (s *fakeStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	return s.findBy(func(a *Account) bool { return a.Username == username })
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	return s.findBy(func(a *Account) bool { return a.Email == email })
}

func (s *fakeStore) findBy(match func(*Account) bool) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if match(account) {
			clone := *account
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) Create(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.Version = 1
	clone := *account
	s.accounts[account.ID] = &clone
	return nil
}

func (s *fakeStore) Update(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != account.Version {
		return ErrConcurrencyConflict
	}
	account.Version++
	clone := *account
	s.accounts[account.ID] = &clone
	return nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (s *fakeSender) last(t *testing.T) sentMail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

const (
	testSigningSecret = "0123456789abcdef0123456789abcdef"
	testIssuer        = "https://id.example.com"
	testAudience      = "example-api"
)

func testTokenManager(t *testing.T) *token.Manager {
	t.Helper()
	m, err := token.NewManager(token.Config{
		Secret:     []byte(testSigningSecret),
		Issuer:     testIssuer,
		Audience:   testAudience,
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeSender, *token.Manager) {
	t.Helper()
	store := newFakeStore()
	sender := &fakeSender{}
	tokens := testTokenManager(t)
	logger := observability.NewLogger(8)
	service := NewService(store, tokens, sender, DefaultLockoutPolicy(), logger)
	return service, store, sender, tokens
}

const testPassword = "Abcd_123"

func seedAccount(t *testing.T, store *fakeStore, mutate func(*Account)) *Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	account := &Account{
		ID:             uuid.NewString(),
		Username:       "alice",
		Email:          "alice@example.com",
		PasswordHash:   string(hash),
		Role:           RoleAuthor,
		EmailConfirmed: true,
	}
	if mutate != nil {
		mutate(account)
	}
	store.put(account)
	return account
}

func TestLogin_SuccessWithRememberMe(t *testing.T) {
	service, store, _, tokens := newTestService(t)
	seeded := seedAccount(t, store, nil)

	pair, err := service.Login(context.Background(), "alice", testPassword, true)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotNil(t, pair.RefreshTokenExpiry)

	claims, err := tokens.ParseValid(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "author", claims.Role)

	stored := store.get(seeded.ID)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)
	require.NotNil(t, stored.RefreshTokenExpiry)
}

func TestLogin_WithoutRememberMeClearsStoredRefresh(t *testing.T) {
	service, store, _, _ := newTestService(t)
	stale := "stale-refresh-token"
	staleExpiry := time.Now().Add(time.Hour)
	seeded := seedAccount(t, store, func(a *Account) {
		a.RefreshToken = &stale
		a.RefreshTokenExpiry = &staleExpiry
	})

	pair, err := service.Login(context.Background(), "alice", testPassword, false)
	require.NoError(t, err)
	assert.Empty(t, pair.RefreshToken)
	assert.Nil(t, pair.RefreshTokenExpiry)

	stored := store.get(seeded.ID)
	assert.Nil(t, stored.RefreshToken)
	assert.Nil(t, stored.RefreshTokenExpiry)
}

func TestLogin_UnknownUser(t *testing.T) {
	service, _, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), "nobody", testPassword, false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLogin_EmailNotConfirmed(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seedAccount(t, store, func(a *Account) { a.EmailConfirmed = false })

	_, err := service.Login(context.Background(), "alice", testPassword, false)
	require.ErrorIs(t, err, ErrEmailNotConfirmed)
}

func TestLogin_WrongPasswordIncrementsCounter(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seeded := seedAccount(t, store, nil)

	_, err := service.Login(context.Background(), "alice", "wrong-Password1!", false)
	require.ErrorIs(t, err, ErrInvalidLogin)

	stored := store.get(seeded.ID)
	assert.Equal(t, 1, stored.FailedLoginCount)
	assert.Nil(t, stored.LockoutUntil)
}

func TestLogin_FifthFailureLocksAccount(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seeded := seedAccount(t, store, func(a *Account) { a.FailedLoginCount = 4 })

	_, err := service.Login(context.Background(), "alice", "wrong-Password1!", false)
	var locked ErrAccountLocked
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), locked.Until, time.Minute)

	stored := store.get(seeded.ID)
	assert.Equal(t, 5, stored.FailedLoginCount)
	require.NotNil(t, stored.LockoutUntil)
}

// An attempt during an active lockout is rejected and resets the failure
// counter to zero. This mirrors the system's established behavior; a stricter
// policy would retain the count.
func TestLogin_AttemptWhileLockedResetsCounter(t *testing.T) {
	service, store, _, _ := newTestService(t)
	until := time.Now().Add(5 * time.Minute)
	seeded := seedAccount(t, store, func(a *Account) {
		a.FailedLoginCount = 5
		a.LockoutUntil = &until
	})

	_, err := service.Login(context.Background(), "alice", testPassword, false)
	var locked ErrAccountLocked
	require.ErrorAs(t, err, &locked)

	stored := store.get(seeded.ID)
	assert.Equal(t, 0, stored.FailedLoginCount)
	require.NotNil(t, stored.LockoutUntil)
}

func TestLogin_ElapsedLockoutAllowsLogin(t *testing.T) {
	service, store, _, _ := newTestService(t)
	until := time.Now().Add(-time.Minute)
	seeded := seedAccount(t, store, func(a *Account) {
		a.FailedLoginCount = 5
		a.LockoutUntil = &until
	})

	_, err := service.Login(context.Background(), "alice", testPassword, false)
	require.NoError(t, err)

	stored := store.get(seeded.ID)
	assert.Equal(t, 0, stored.FailedLoginCount)
	assert.Nil(t, stored.LockoutUntil)
}

func TestRefresh_RotatesAndOldTokenIsSingleUse(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seeded := seedAccount(t, store, nil)

	pair, err := service.Login(context.Background(), "alice", testPassword, true)
	require.NoError(t, err)

	rotated, err := service.Refresh(context.Background(), pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	stored := store.get(seeded.ID)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, rotated.RefreshToken, *stored.RefreshToken)

	// The rotated-out value must never work again.
	_, err = service.Refresh(context.Background(), pair.AccessToken, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_AcceptsExpiredAccessToken(t *testing.T) {
	service, store, _, _ := newTestService(t)
	value := "live-refresh-value"
	expiry := time.Now().Add(time.Hour)
	seeded := seedAccount(t, store, func(a *Account) {
		a.RefreshToken = &value
		a.RefreshTokenExpiry = &expiry
	})

	access := expiredAccessToken(t, seeded.ID)

	pair, err := service.Refresh(context.Background(), access, value)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEqual(t, value, pair.RefreshToken)
}

func TestRefresh_MalformedAccessToken(t *testing.T) {
	service, _, _, _ := newTestService(t)

	_, err := service.Refresh(context.Background(), "not-a-token", "whatever")
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestRefresh_WrongRefreshValue(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seedAccount(t, store, nil)

	pair, err := service.Login(context.Background(), "alice", testPassword, true)
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), pair.AccessToken, "forged-refresh-value")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_ExpiredStoredToken(t *testing.T) {
	service, store, _, tokens := newTestService(t)
	expired := time.Now().Add(-time.Hour)
	value := "expired-refresh-value"
	seeded := seedAccount(t, store, func(a *Account) {
		a.RefreshToken = &value
		a.RefreshTokenExpiry = &expired
	})

	access, _, err := tokens.IssueAccessToken(seeded.ID, seeded.Username, string(seeded.Role))
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), access, value)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_UnknownAccount(t *testing.T) {
	service, _, _, tokens := newTestService(t)

	access, _, err := tokens.IssueAccessToken(uuid.NewString(), "ghost", "user")
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), access, "whatever")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRevoke_IsIdempotent(t *testing.T) {
	service, store, _, _ := newTestService(t)
	value := "live-refresh-token"
	expiry := time.Now().Add(time.Hour)
	seeded := seedAccount(t, store, func(a *Account) {
		a.RefreshToken = &value
		a.RefreshTokenExpiry = &expiry
	})

	require.NoError(t, service.Revoke(context.Background(), seeded.ID))
	stored := store.get(seeded.ID)
	assert.Nil(t, stored.RefreshToken)
	assert.Nil(t, stored.RefreshTokenExpiry)

	require.NoError(t, service.Revoke(context.Background(), seeded.ID))
	stored = store.get(seeded.ID)
	assert.Nil(t, stored.RefreshToken)
}

func TestRevoke_UnknownAccount(t *testing.T) {
	service, _, _, _ := newTestService(t)

	err := service.Revoke(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func registerParams() RegisterParams {
	return RegisterParams{
		Username:  "bob",
		Email:     "bob@example.com",
		Password:  "Abcd_123",
		Role:      RoleUser,
		HostURL:   "https://front.example.com",
		ReturnURL: "https://front.example.com/catalog",
	}
}

func TestRegister_CreatesUnconfirmedAccountAndSendsMail(t *testing.T) {
	service, store, sender, _ := newTestService(t)

	result, err := service.Register(context.Background(), registerParams())
	require.NoError(t, err)
	require.NotEmpty(t, result.AccountID)

	stored := store.get(result.AccountID)
	assert.False(t, stored.EmailConfirmed)
	assert.Equal(t, RoleUser, stored.Role)
	require.NotNil(t, stored.ConfirmCode)
	require.NotNil(t, stored.ConfirmCodeExpiry)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Abcd_123")))

	msg := sender.last(t)
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Contains(t, msg.Body, result.AccountID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seedAccount(t, store, func(a *Account) { a.Email = "bob@example.com" })

	_, err := service.Register(context.Background(), registerParams())
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	service, store, _, _ := newTestService(t)
	seedAccount(t, store, func(a *Account) { a.Username = "bob" })

	_, err := service.Register(context.Background(), registerParams())
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_PasswordPolicy(t *testing.T) {
	service, _, _, _ := newTestService(t)

	rejected := []string{
		"short1!",     // too short
		"abcd_1234",   // no uppercase
		"ABCD_1234",   // no lowercase
		"Abcdefg_",    // no digit
		"Abcd1234",    // no special
	}
	for _, password := range rejected {
		params := registerParams()
		params.Password = password
		_, err := service.Register(context.Background(), params)
		require.ErrorIs(t, err, ErrWeakPassword, "password %q", password)
	}
}

func TestConfirmEmail_Flow(t *testing.T) {
	service, store, _, _ := newTestService(t)

	result, err := service.Register(context.Background(), registerParams())
	require.NoError(t, err)

	stored := store.get(result.AccountID)
	code := *stored.ConfirmCode

	require.ErrorIs(t, service.ConfirmEmail(context.Background(), result.AccountID, "wrong-code"), ErrInvalidCode)

	require.NoError(t, service.ConfirmEmail(context.Background(), result.AccountID, code))
	stored = store.get(result.AccountID)
	assert.True(t, stored.EmailConfirmed)
	assert.Nil(t, stored.ConfirmCode)

	// Confirmed accounts can log in.
	_, err = service.Login(context.Background(), "bob", "Abcd_123", false)
	require.NoError(t, err)
}

func TestConfirmEmail_ExpiredCode(t *testing.T) {
	service, store, _, _ := newTestService(t)
	code := "the-code"
	expired := time.Now().Add(-time.Minute)
	seeded := seedAccount(t, store, func(a *Account) {
		a.EmailConfirmed = false
		a.ConfirmCode = &code
		a.ConfirmCodeExpiry = &expired
	})

	err := service.ConfirmEmail(context.Background(), seeded.ID, code)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestResendConfirmation_ReplacesCode(t *testing.T) {
	service, store, sender, _ := newTestService(t)

	result, err := service.Register(context.Background(), registerParams())
	require.NoError(t, err)
	firstCode := *store.get(result.AccountID).ConfirmCode

	require.NoError(t, service.ResendConfirmation(context.Background(), "bob@example.com", "", "https://front.example.com"))

	secondCode := *store.get(result.AccountID).ConfirmCode
	assert.NotEqual(t, firstCode, secondCode)
	assert.Contains(t, sender.last(t).Body, secondCode)
}

func TestForgotPassword_HidesAccountState(t *testing.T) {
	service, store, _, _ := newTestService(t)

	err := service.ForgotPassword(context.Background(), "nobody@example.com", "https://front.example.com")
	require.ErrorIs(t, err, ErrResetNotAllowed)

	seedAccount(t, store, func(a *Account) { a.EmailConfirmed = false })
	err = service.ForgotPassword(context.Background(), "alice@example.com", "https://front.example.com")
	require.ErrorIs(t, err, ErrResetNotAllowed)
}

func TestResetPassword_Flow(t *testing.T) {
	service, store, _, _ := newTestService(t)
	stale := "live-refresh-token"
	staleExpiry := time.Now().Add(time.Hour)
	seeded := seedAccount(t, store, func(a *Account) {
		a.RefreshToken = &stale
		a.RefreshTokenExpiry = &staleExpiry
	})

	require.NoError(t, service.ForgotPassword(context.Background(), "alice@example.com", "https://front.example.com"))
	code := *store.get(seeded.ID).ResetCode

	require.ErrorIs(t,
		service.ResetPassword(context.Background(), "alice@example.com", "wrong", "Efgh_456"),
		ErrInvalidCode)

	require.NoError(t, service.ResetPassword(context.Background(), "alice@example.com", code, "Efgh_456"))

	stored := store.get(seeded.ID)
	assert.Nil(t, stored.ResetCode)
	// A reset revokes the live session.
	assert.Nil(t, stored.RefreshToken)

	_, err := service.Login(context.Background(), "alice", "Efgh_456", false)
	require.NoError(t, err)
	_, err = service.Login(context.Background(), "alice", testPassword, false)
	require.ErrorIs(t, err, ErrInvalidLogin)
}

func TestPhoneChange_Flow(t *testing.T) {
	service, store, sender, _ := newTestService(t)
	seeded := seedAccount(t, store, nil)

	require.NoError(t, service.RequestPhoneChange(context.Background(), seeded.ID, "+15551234567"))

	stored := store.get(seeded.ID)
	require.NotNil(t, stored.PhoneChangeCode)
	code := *stored.PhoneChangeCode
	assert.Len(t, code, 6)
	assert.Contains(t, sender.last(t).Body, code)

	require.ErrorIs(t,
		service.ConfirmPhoneChange(context.Background(), seeded.ID, "+15550000000", code),
		ErrInvalidCode)
	require.ErrorIs(t,
		service.ConfirmPhoneChange(context.Background(), seeded.ID, "+15551234567", "000000"),
		ErrInvalidCode)

	require.NoError(t, service.ConfirmPhoneChange(context.Background(), seeded.ID, "+15551234567", code))
	stored = store.get(seeded.ID)
	assert.Equal(t, "+15551234567", stored.Phone)
	assert.Nil(t, stored.PendingPhone)
	assert.Nil(t, stored.PhoneChangeCode)
}
