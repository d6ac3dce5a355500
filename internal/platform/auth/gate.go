package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/platform/apperr"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller attached to an allowed request.
type Principal struct {
	ID   string
	Role Role
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller attached by the gate. Public paths
// carry no principal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// Gate runs every request through the policy before any handler sees it.
type Gate struct {
	policy   *Policy
	identity IdentityProvider
	logger   zerolog.Logger
}

func NewGate(policy *Policy, identity IdentityProvider, logger zerolog.Logger) *Gate {
	return &Gate{policy: policy, identity: identity, logger: logger}
}

func (g *Gate) Policy() *Policy { return g.policy }

// Authorize decides one request. It returns a nil principal and nil error
// for public paths.
func (g *Gate) Authorize(ctx context.Context, token, path, method string) (*Principal, error) {
	if g.policy.IsPublic(path) {
		return nil, nil
	}

	id, err := g.identity.GetPrincipal(ctx, token)
	if err != nil || id == nil {
		return nil, apperr.Authentication("authentication required")
	}

	if !id.Active {
		return nil, apperr.Permission(apperr.CodeAccountDisabled, "account is disabled")
	}

	role, err := ParseRole(id.Role)
	if err != nil {
		return nil, apperr.Permission(apperr.CodeInvalidRole, err.Error())
	}

	if err := g.policy.Evaluate(role, path, method); err != nil {
		return nil, err
	}

	return &Principal{ID: id.ID, Role: role}, nil
}

// Middleware adapts the gate to echo. Denials are returned as errors for the
// HTTP error handler to render.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			token, err := bearerToken(req.Header.Get(echo.HeaderAuthorization))
			var principal *Principal
			if err == nil || g.policy.IsPublic(req.URL.Path) {
				principal, err = g.Authorize(req.Context(), token, req.URL.Path, req.Method)
			}
			if err != nil {
				g.logger.Warn().
					Str("path", req.URL.Path).
					Str("method", req.Method).
					Str("reason", reasonCode(err)).
					Msg("request denied")
				return err
			}
			if principal != nil {
				c.Set("principal", principal)
				c.SetRequest(req.WithContext(WithPrincipal(req.Context(), principal)))
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperr.Authentication("invalid authorization header")
	}
	return token, nil
}

func reasonCode(err error) string {
	if code := apperr.PermissionCode(err); code != "" {
		return code
	}
	return "authentication_failed"
}
