package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbill/billing/internal/platform/apperr"
)

func TestDefaultPolicy_Evaluate(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name   string
		role   Role
		path   string
		method string
		allow  bool
	}{
		{"secretary reads invoice", RoleSecretary, "/api/invoices/5", http.MethodGet, true},
		{"secretary records payment", RoleSecretary, "/api/payments", http.MethodPost, true},
		{"doctor writes invoice", RoleDoctor, "/api/invoices/5", http.MethodPost, false},
		{"doctor reads invoice", RoleDoctor, "/api/invoices/5", http.MethodGet, false},
		{"doctor reads exams", RoleDoctor, "/api/exams/12", http.MethodGet, true},
		{"accountant lists payments", RoleAccountant, "/api/payments", http.MethodGet, true},
		{"accountant reads reports", RoleAccountant, "/api/reports/daily", http.MethodGet, false},
		{"accountant issues credential", RoleAccountant, "/api/credentials", http.MethodPost, false},
		{"admin issues credential", RoleAdmin, "/api/credentials", http.MethodPost, true},
		{"superuser anywhere", RoleSuperuser, "/api/anything/at/all", http.MethodDelete, true},
		{"prefix is not a substring match", RoleSecretary, "/api/invoicesX", http.MethodGet, false},
		{"public path for any role", RoleDoctor, "/api/patient-portal/login", http.MethodPost, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Evaluate(tt.role, tt.path, tt.method)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.CodePermissionDenied, apperr.PermissionCode(err))
		})
	}
}

func TestEvaluate_NamesRequiredRole(t *testing.T) {
	err := DefaultPolicy().Evaluate(RoleDoctor, "/api/invoices/5", http.MethodPost)
	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "admin or secretary or accountant", pe.RequiredRole)
}

func TestDefaultPolicy_PublicPaths(t *testing.T) {
	p := DefaultPolicy()
	for _, path := range []string{"/", "/health", "/health/db", "/api/auth/token", "/api/auth/token/refresh", "/api/patient-portal/login"} {
		assert.True(t, p.IsPublic(path), path)
	}
	for _, path := range []string{"/health/extra", "/api/auth/me", "/api/invoices", "/api/patient-portalx"} {
		assert.False(t, p.IsPublic(path), path)
	}
}

func TestNewPolicy_MethodRestriction(t *testing.T) {
	p, err := NewPolicy(nil, map[Role][]RuleSpec{
		RoleDoctor: {{Pattern: Prefix("/api/invoices"), Methods: []string{http.MethodGet}}},
	})
	require.NoError(t, err)

	assert.NoError(t, p.Evaluate(RoleDoctor, "/api/invoices/5", http.MethodGet))
	err = p.Evaluate(RoleDoctor, "/api/invoices/5", http.MethodPost)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.PermissionCode(err))

	var pe *apperr.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "superuser", pe.RequiredRole)
}

func TestNewPolicy_InvalidPattern(t *testing.T) {
	_, err := NewPolicy([]string{"("}, nil)
	assert.Error(t, err)

	_, err = NewPolicy(nil, map[Role][]RuleSpec{RoleAdmin: {{Pattern: "[a-"}}})
	assert.Error(t, err)
}

func TestNewPolicy_CopiesInput(t *testing.T) {
	methods := []string{http.MethodGet}
	specs := map[Role][]RuleSpec{RoleAdmin: {{Pattern: Prefix("/api/reports"), Methods: methods}}}
	p, err := NewPolicy(nil, specs)
	require.NoError(t, err)

	methods[0] = http.MethodPost
	assert.True(t, p.Allows(RoleAdmin, "/api/reports", http.MethodGet))
	assert.False(t, p.Allows(RoleAdmin, "/api/reports", http.MethodPost))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, `^/api/invoices(/.*)?$`, Prefix("/api/invoices/"))
	assert.Equal(t, `^/api/patient-portal(/.*)?$`, Prefix("/api/patient-portal"))
}

func TestDescribe(t *testing.T) {
	lines := DefaultPolicy().Describe()
	assert.Contains(t, lines, "superuser   .*")
	assert.Contains(t, lines, "secretary   ^/api/invoices(/.*)?$")
}
