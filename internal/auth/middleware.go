package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const claimsKey = "auth.claims"

// BearerToken extracts the token from the Authorization header, or from the
// token query parameter for WebSocket upgrades.
func BearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.QueryParam("token")
}

// RequireUser rejects requests without a valid session.
func (s *Service) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := BearerToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		}
		claims, err := s.Session(c.Request().Context(), token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": ErrUnauthorized.Error()})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := ClaimsFrom(c)
		if claims == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": ErrUnauthorized.Error()})
		}
		if !claims.IsAdmin() {
			return c.JSON(http.StatusForbidden, map[string]string{"error": ErrForbidden.Error()})
		}
		return next(c)
	}
}

func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsKey).(*Claims)
	return claims
}
