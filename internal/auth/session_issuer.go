package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 30 * 24 * time.Hour

var (
	ErrMissingSigningSecret = errors.New("session issuer: signing secret required")
	ErrMissingIssuer        = errors.New("session issuer: issuer required")
	ErrMissingCookieName    = errors.New("session issuer: cookie name required")
	ErrMissingSessionToken  = errors.New("session issuer: token required")
	ErrInvalidSessionToken  = errors.New("session issuer: invalid token")
	ErrExpiredSessionToken  = errors.New("session issuer: token expired")
	ErrInvalidSubject       = errors.New("session issuer: subject must be a positive user id")
)

// SessionIssuerConfig configures the anonymous session JWTs.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs and validates HS256 session tokens whose subject is a user id.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	ttl           time.Duration
	clock         func() time.Time
}

// NewSessionIssuer validates the configuration and constructs an issuer.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie carrying the session token.
func (i *SessionIssuer) CookieName() string {
	return i.cookieName
}

// TTL returns the lifetime of issued tokens.
func (i *SessionIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for userID.
func (i *SessionIssuer) Issue(userID int64) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, ErrInvalidSubject
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	registered := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken checks the signature, issuer and expiry and returns the user id.
func (i *SessionIssuer) ValidateToken(tokenString string) (int64, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return 0, ErrMissingSessionToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredSessionToken
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidSubject
	}
	return userID, nil
}

// ValidateRequest reads the session cookie and validates it.
func (i *SessionIssuer) ValidateRequest(r *http.Request) (int64, error) {
	if r == nil {
		return 0, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(i.cookieName)
	if err != nil || cookie == nil {
		return 0, ErrMissingSessionToken
	}
	return i.ValidateToken(cookie.Value)
}
