package auth

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/medbill/billing/internal/platform/apperr"
)

// RuleSpec is the uncompiled form of a Rule.
type RuleSpec struct {
	Pattern string
	// Methods restricts the rule to these HTTP methods. Empty means any.
	Methods []string
}

// Rule grants access to paths matching Pattern.
type Rule struct {
	Pattern *regexp.Regexp
	Methods []string
}

func (r Rule) matches(path, method string) bool {
	if !r.Pattern.MatchString(path) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Policy is the role to path-pattern table. It is never mutated after
// construction and is safe for concurrent use.
type Policy struct {
	public []*regexp.Regexp
	rules  map[Role][]Rule
}

// NewPolicy compiles a policy. Superuser needs no rules: it matches every path.
func NewPolicy(public []string, rules map[Role][]RuleSpec) (*Policy, error) {
	p := &Policy{rules: make(map[Role][]Rule, len(rules))}
	for _, expr := range public {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile public pattern %q: %w", expr, err)
		}
		p.public = append(p.public, re)
	}
	for role, specs := range rules {
		if role == RoleSuperuser {
			continue
		}
		compiled := make([]Rule, 0, len(specs))
		for _, s := range specs {
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", role, s.Pattern, err)
			}
			methods := make([]string, len(s.Methods))
			copy(methods, s.Methods)
			compiled = append(compiled, Rule{Pattern: re, Methods: methods})
		}
		p.rules[role] = compiled
	}
	return p, nil
}

// Prefix returns a pattern matching path and everything below it.
func Prefix(path string) string {
	return "^" + regexp.QuoteMeta(strings.TrimSuffix(path, "/")) + "(/.*)?$"
}

func prefixes(paths ...string) []RuleSpec {
	out := make([]RuleSpec, len(paths))
	for i, p := range paths {
		out[i] = RuleSpec{Pattern: Prefix(p)}
	}
	return out
}

// DefaultPolicy is the clinic deployment's access table.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(
		[]string{`^/$`, `^/health(/db)?$`, Prefix("/api/auth/token"), Prefix("/api/patient-portal")},
		map[Role][]RuleSpec{
			RoleAdmin: prefixes("/api/patients", "/api/exams", "/api/invoices", "/api/payments",
				"/api/reports", "/api/auth", "/api/credentials"),
			RoleDoctor: prefixes("/api/patients", "/api/exams", "/api/reports", "/api/auth"),
			RoleSecretary: prefixes("/api/patients", "/api/exams", "/api/invoices", "/api/payments",
				"/api/reports", "/api/auth", "/api/credentials"),
			RoleAccountant: prefixes("/api/patients", "/api/exams", "/api/invoices", "/api/payments",
				"/api/auth"),
		},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// IsPublic reports whether path bypasses authentication.
func (p *Policy) IsPublic(path string) bool {
	for _, re := range p.public {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Allows reports whether role may call method on path.
func (p *Policy) Allows(role Role, path, method string) bool {
	if role == RoleSuperuser {
		return true
	}
	for _, r := range p.rules[role] {
		if r.matches(path, method) {
			return true
		}
	}
	return false
}

// Evaluate decides a request for an authenticated role. Public paths are
// always allowed. A denial is a PermissionError naming the roles that would
// have been allowed.
func (p *Policy) Evaluate(role Role, path, method string) error {
	if p.IsPublic(path) || p.Allows(role, path, method) {
		return nil
	}
	return &apperr.PermissionError{
		Code:         apperr.CodePermissionDenied,
		Message:      fmt.Sprintf("role %s may not %s %s", role, method, path),
		RequiredRole: strings.Join(p.rolesAllowing(path, method), " or "),
	}
}

func (p *Policy) rolesAllowing(path, method string) []string {
	var names []string
	for _, role := range AllRoles {
		if role == RoleSuperuser {
			continue
		}
		if p.Allows(role, path, method) {
			names = append(names, role.String())
		}
	}
	if len(names) == 0 {
		names = append(names, RoleSuperuser.String())
	}
	return names
}

// Describe renders the policy for display, one line per pattern.
func (p *Policy) Describe() []string {
	lines := make([]string, 0)
	for _, re := range p.public {
		lines = append(lines, "public      "+re.String())
	}
	lines = append(lines, "superuser   .*")
	roles := make([]Role, 0, len(p.rules))
	for role := range p.rules {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	for _, role := range roles {
		for _, r := range p.rules[role] {
			line := fmt.Sprintf("%-11s %s", role, r.Pattern)
			if len(r.Methods) > 0 {
				line += " [" + strings.Join(r.Methods, ",") + "]"
			}
			lines = append(lines, line)
		}
	}
	return lines
}
