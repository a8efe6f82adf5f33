package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// extractUserID extracts the caller's identity from the request.
// Priority: Authorization bearer token > X-Forwarded-User (oauth2-proxy) >
// X-Forwarded-Email (oauth2-proxy) > X-Remote-User (kube-rbac-proxy) >
// "api-client"
func extractUserID(c *echo.Context) string {
	if user, ok := authenticatedUserID(c); ok {
		return user
	}
	return "api-client"
}

// authenticatedUserID reports the caller's identity, and whether the request
// carried one at all. The WebSocket endpoint requires an identity; the REST
// endpoints fall back to the shared api-client principal.
func authenticatedUserID(c *echo.Context) (string, bool) {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token, true
		}
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user, true
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email, true
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user, true
	}
	return "", false
}
