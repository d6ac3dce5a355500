package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error        string                 `json:"error"`
	Code         string                 `json:"code,omitempty"`
	RequiredRole string                 `json:"required_role,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// StatusAndBody maps an error onto an HTTP status and response body.
// Unclassified errors become 500 without leaking their message.
func StatusAndBody(err error) (int, Body) {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		ae *AuthenticationError
		pe *PermissionError
		he *echo.HTTPError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, Body{Error: ve.Error(), Code: "validation_error", Details: ve.Details}
	case errors.As(err, &nf):
		return http.StatusNotFound, Body{Error: nf.Error(), Code: "not_found"}
	case errors.As(err, &ce):
		return http.StatusConflict, Body{Error: ce.Message, Code: "conflict"}
	case errors.As(err, &ae):
		return http.StatusUnauthorized, Body{Error: ae.Message, Code: "authentication_failed"}
	case errors.As(err, &pe):
		return http.StatusForbidden, Body{Error: pe.Message, Code: pe.Code, RequiredRole: pe.RequiredRole}
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, Body{Error: msg}
	default:
		return http.StatusInternalServerError, Body{Error: "internal server error"}
	}
}

// HTTPErrorHandler returns an echo.HTTPErrorHandler that renders the
// taxonomy above and logs server-side failures.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := StatusAndBody(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", requestID(c)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
