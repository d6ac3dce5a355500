package auth

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"superuser", RoleSuperuser, false},
		{"admin", RoleAdmin, false},
		{"Doctor", RoleDoctor, false},
		{" secretary ", RoleSecretary, false},
		{"accountant", RoleAccountant, false},
		{"", 0, true},
		{"nurse", 0, true},
		{"physician", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRole_StringRoundTrip(t *testing.T) {
	for _, r := range AllRoles {
		parsed, err := ParseRole(r.String())
		if err != nil {
			t.Fatalf("ParseRole(%s): %v", r, err)
		}
		if parsed != r {
			t.Errorf("expected %v, got %v", r, parsed)
		}
	}
	if got := Role(42).String(); got != "Role(42)" {
		t.Errorf("unexpected string for unknown role: %s", got)
	}
}
