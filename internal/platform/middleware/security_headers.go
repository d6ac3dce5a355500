package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type SecurityHeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive. Only set it
	// when the API is served over TLS.
	HSTSMaxAge time.Duration
}

// SecurityHeaders sets response headers for a JSON API whose responses may
// carry portal access keys and passwords, so nothing is cached or framed.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	headers := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Cache-Control", "no-store"},
		{"Pragma", "no-cache"},
	}
	if cfg.HSTSMaxAge > 0 {
		headers = append(headers, [2]string{
			"Strict-Transport-Security",
			"max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10),
		})
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range headers {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
