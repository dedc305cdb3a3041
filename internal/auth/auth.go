// Package auth verifies bearer session tokens and the cron shared secret.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in session tokens
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

var (
	// ErrUnauthenticated is returned when a request has no valid session
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the session lacks a required role
	ErrForbidden = errors.New("forbidden")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Role   string
}

// HasRole reports whether the caller holds any of roles
func (i *Identity) HasRole(roles ...string) bool {
	return i != nil && slices.Contains(roles, i.Role)
}

// Claims are the session token claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 session tokens
type Authenticator struct {
	secret     []byte
	ttl        time.Duration
	cronSecret string
	now        func() time.Time
}

// NewAuthenticator creates an authenticator. An empty cronSecret leaves the
// cron endpoint open.
func NewAuthenticator(secret string, ttl time.Duration, cronSecret string, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		secret:     []byte(secret),
		ttl:        ttl,
		cronSecret: cronSecret,
		now:        now,
	}
}

// IssueToken signs a session token for userID
func (a *Authenticator) IssueToken(userID, role string) (string, error) {
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate resolves the caller from an "Authorization: Bearer" header
func (a *Authenticator) Authenticate(header http.Header) (*Identity, error) {
	raw, ok := bearer(header)
	if !ok {
		return nil, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	return &Identity{UserID: claims.Subject, Role: role}, nil
}

// Require authenticates the caller and checks that it holds one of roles.
// With no roles any authenticated caller passes.
func (a *Authenticator) Require(header http.Header, roles ...string) (*Identity, error) {
	identity, err := a.Authenticate(header)
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 && !identity.HasRole(roles...) {
		return nil, ErrForbidden
	}
	return identity, nil
}

// CronAuthorized reports whether a scheduler request carries the cron secret
func (a *Authenticator) CronAuthorized(header http.Header) bool {
	if a.cronSecret == "" {
		return true
	}
	raw, ok := bearer(header)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw), []byte(a.cronSecret)) == 1
}

func bearer(header http.Header) (string, bool) {
	value := header.Get("Authorization")
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
