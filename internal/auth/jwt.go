// Package auth provides JWT authentication for the anchor API.
// It issues and validates HS256 tokens carrying a subject and a set of roles.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"evalgo.org/anchor/internal/config"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingSecret is returned when signing without a configured secret
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

const issuer = "anchor"

// Role grants access to a class of API routes.
type Role string

const (
	// RoleAdmin may do anything
	RoleAdmin Role = "admin"
	// RoleOperator may start, stop and cancel
	RoleOperator Role = "operator"
	// RoleViewer may only read
	RoleViewer Role = "viewer"
)

// ParseRoles parses a comma separated role list.
func ParseRoles(s string) ([]Role, error) {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch r := Role(part); r {
		case RoleAdmin, RoleOperator, RoleViewer:
			roles = append(roles, r)
		default:
			return nil, fmt.Errorf("unknown role: %q", part)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	return roles, nil
}

// Claims represents JWT custom claims
type Claims struct {
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// JWTService signs and validates tokens
type JWTService struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.SecurityConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.JWTSecret),
		expiration: cfg.JWTExpiration,
	}
}

// GenerateToken generates a new access token for subject
func (s *JWTService) GenerateToken(subject string, roles []Role) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HasRole reports whether the claims carry any of roles. Admin implies every role.
func (c *Claims) HasRole(roles ...Role) bool {
	for _, have := range c.Roles {
		if have == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
