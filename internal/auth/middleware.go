package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/internal/config"
)

// ContextKeyClaims is the key for storing JWT claims in context
const ContextKeyClaims = "claims"

// Middleware is the authentication middleware
type Middleware struct {
	jwtService *JWTService
	enabled    bool
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg config.SecurityConfig) *Middleware {
	return &Middleware{
		jwtService: NewJWTService(cfg),
		enabled:    cfg.AuthEnabled,
	}
}

// Enabled reports whether requests are checked at all.
func (m *Middleware) Enabled() bool {
	return m.enabled
}

// RequireAuth is middleware that requires a valid bearer token
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.enabled {
			return next(c)
		}

		tokenString, err := bearerToken(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}

		claims, err := m.jwtService.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(ContextKeyClaims, claims)
		return next(c)
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the access_token query parameter for WebSocket clients.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}

// RequireRole is middleware that requires any of roles. It must run after RequireAuth.
func (m *Middleware) RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.enabled {
				return next(c)
			}

			claims, ok := GetClaims(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !claims.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}

			return next(c)
		}
	}
}

// RequireRead allows any authenticated caller
func (m *Middleware) RequireRead(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(next)
}

// RequireWrite allows operators and admins
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(m.RequireRole(RoleOperator)(next))
}

// GetClaims extracts JWT claims from Echo context
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}
