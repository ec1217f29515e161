package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented token can be unusable:
// malformed structure, wrong algorithm, bad signature, failed claim checks.
var ErrInvalidToken = errors.New("token: invalid token")

const (
	minSecretBytes = 32
	refreshBytes   = 64

	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Config holds the signing material and token parameters. Read-only after
// construction; safe for concurrent use.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the access-token claim set: subject carries the account id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Manager mints and verifies access tokens and generates opaque refresh
// secrets. It holds no mutable state.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager validates the config and returns a Manager. An empty or short
// secret is a construction error so a misconfigured process refuses to start.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("token: signing secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	return &Manager{cfg: cfg, now: time.Now}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// IssueAccessToken mints a signed HS256 access token for the account.
func (m *Manager) IssueAccessToken(accountID, username, role string) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.cfg.AccessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		Role:     role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// IssueRefreshToken generates an opaque refresh secret. The value embeds no
// state; it only means something next to the copy stored on the account.
func (m *Manager) IssueRefreshToken() (string, time.Time, error) {
	buf := make([]byte, refreshBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), m.now().UTC().Add(m.cfg.RefreshTTL), nil
}

// ParseValid fully verifies a token: signature, HS256 only, issuer, audience
// and lifetime. Used for protected-endpoint authentication.
func (m *Manager) ParseValid(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
}

// ParseExpired verifies the signature and structure but skips the lifetime,
// issuer and audience checks. It exists so the refresh flow can recover the
// subject from a legitimately expired access token; tampered signatures and
// non-HMAC algorithms are still rejected.
func (m *Manager) ParseExpired(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
}

func (m *Manager) parse(tokenStr string, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return m.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
