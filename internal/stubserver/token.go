package stubserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errInvalidSessionToken  = errors.New("session token is invalid")
)

// TokenIssuerConfig configures the stub's session-cookie signer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and validates the JWT session cookies the stub hands out,
// keeping it stateless across restarts.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{secret: cfg.SigningSecret, ttl: ttl, clock: clock}, nil
}

// Issue produces a signed session token for the authenticated username.
func (i *TokenIssuer) Issue(username string) (string, error) {
	now := i.clock()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    "scanner-stub",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("stubserver: sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses a session token and returns the username it was issued for.
func (i *TokenIssuer) Validate(rawToken string) (string, error) {
	parsed, err := jwt.ParseWithClaims(rawToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidSessionToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errInvalidSessionToken
	}
	return claims.Subject, nil
}
