// Package auth issues and verifies admin bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the only role that passes Verify.
const RoleAdmin = "admin"

const issuer = "pyqapi"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing authentication token")
	ErrNotConfigured      = errors.New("admin authentication is not configured")
)

// Claims holds JWT token claims.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Auth handles admin login and token verification against a single configured credential pair.
type Auth struct {
	email    string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// New creates a new Auth handler. password may be plain text or a bcrypt hash.
func New(email, password, jwtSecret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{
		email:    email,
		password: password,
		secret:   []byte(jwtSecret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Login checks the submitted credentials and issues a signed admin token.
func (a *Auth) Login(email, password string) (*Token, error) {
	if a.email == "" || a.password == "" || len(a.secret) == 0 {
		return nil, ErrNotConfigured
	}
	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(strings.TrimSpace(email))), []byte(strings.ToLower(a.email))) == 1
	if !a.passwordMatches(password) || !emailOK {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	claims := &Claims{
		Email: a.email,
		Role:  RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.email,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (a *Auth) passwordMatches(password string) bool {
	if isBcryptHash(a.password) {
		return bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Verify checks signature, expiry and role.
func (a *Auth) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrNotConfigured)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: role %q is not allowed", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
