// Package auth guards the storage-mutating endpoints with scoped JWT
// bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ScopeCellsWrite allows saving and deleting cell sets.
	ScopeCellsWrite = "cells:write"
	// ScopeIndexWrite allows adding entries to the key index.
	ScopeIndexWrite = "index:write"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the registered claims plus the granted scopes.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// JWTConfig configures token issuing and checking. Empty Issuer or
// Audience are neither set nor checked.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Expiry   time.Duration
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:   "gridd",
		Audience: "gridd",
		Expiry:   time.Hour,
		Leeway:   30 * time.Second,
	}
}

// JWTManager signs and verifies HS256 tokens with a shared secret.
type JWTManager struct {
	cfg    JWTConfig
	key    []byte
	parser *jwt.Parser
}

func NewJWTManager(cfg JWTConfig) (*JWTManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: empty jwt secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTManager{cfg: cfg, key: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// IssueToken signs a token for subject that is valid from now for the
// configured expiry.
func (m *JWTManager) IssueToken(subject string, scopes ...string) (string, error) {
	now := time.Now()
	rc := jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.Expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if m.cfg.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Scopes: scopes, RegisteredClaims: rc}).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken returns the claims of a well-signed, current token.
// Failures are ErrTokenExpired or wrap ErrInvalidToken.
func (m *JWTManager) ValidateToken(raw string) (*Claims, error) {
	var claims Claims
	_, err := m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	switch {
	case err == nil:
		return &claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}
