package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/platform/auth"
)

// ErrPanic wraps the value recovered from a panicking handler. The central
// error handler renders it as an opaque 500.
var ErrPanic = errors.New("handler panicked")

// Recovery turns a handler panic into ErrPanic and logs it with the stack,
// the route and the caller. http.ErrAbortHandler is re-raised so net/http
// can abort the response as usual.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				evt := logger.Error().
					Str("request_id", requestIDOf(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack())
				if p, ok := c.Get("principal").(*auth.Principal); ok {
					evt = evt.Str("user_id", p.ID).Str("role", p.Role.String())
				}
				evt.Msg("panic recovered")

				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}()
			return next(c)
		}
	}
}

func requestIDOf(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
