package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess            = "access"
	TokenTypeRefresh           = "refresh"
	TokenTypeEmailVerification = "email-verification"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenType      = errors.New("unexpected token type")
)

type Claims struct {
	Email       string   `json:"email,omitempty"`
	TokenType   string   `json:"type"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid subject", ErrTokenMalformed)
	}
	return uint(id), nil
}

func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// SignedToken is a compact token together with the claims it carries.
type SignedToken struct {
	Raw    string
	Claims *Claims
}

func (m *JWTManager) SignAccessToken(userID uint, email string, roles, perms []string, ttl time.Duration) (SignedToken, error) {
	claims := m.newClaims(userID, TokenTypeAccess, ttl)
	claims.Email = email
	claims.Roles = roles
	claims.Permissions = perms
	return m.sign(claims, m.accessSecret)
}

func (m *JWTManager) SignRefreshToken(userID uint, ttl time.Duration) (SignedToken, error) {
	return m.sign(m.newClaims(userID, TokenTypeRefresh, ttl), m.refreshSecret)
}

// SignEmailVerificationToken shares the access secret; the type claim keeps it
// from being accepted as an access token.
func (m *JWTManager) SignEmailVerificationToken(userID uint, email string, ttl time.Duration) (SignedToken, error) {
	claims := m.newClaims(userID, TokenTypeEmailVerification, ttl)
	claims.Email = email
	return m.sign(claims, m.accessSecret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, TokenTypeAccess)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, TokenTypeRefresh)
}

func (m *JWTManager) ParseEmailVerificationToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, TokenTypeEmailVerification)
}

func (m *JWTManager) newClaims(userID uint, tokenType string, ttl time.Duration) *Claims {
	now := m.now()
	return &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
}

func (m *JWTManager) sign(claims *Claims, secret []byte) (SignedToken, error) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Raw: raw, Claims: claims}, nil
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: %s", ErrTokenType, claims.TokenType)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrTokenMalformed)
	}
	return claims, nil
}
