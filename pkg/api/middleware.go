package api

import (
	echo "github.com/labstack/echo/v5"
)

// securityHeaders hardens every response served to the scan console. The
// API carries per-user scan findings and quiz state, so nothing it returns
// may be framed, content-sniffed, or cached by intermediaries, and no
// browser device feature is ever needed.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
