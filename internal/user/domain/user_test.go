package domain

import "testing"

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
		want    string
	}{
		{"normalizes", "  Dev@Example.COM ", false, "dev@example.com"},
		{"empty", "", true, ""},
		{"no at sign", "dev.example.com", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Email: tt.email}
			err := u.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && u.Email != tt.want {
				t.Errorf("Email = %q, want %q", u.Email, tt.want)
			}
			if !tt.wantErr && u.Status != UserStatusActive {
				t.Errorf("Status = %q, want active", u.Status)
			}
		})
	}
}

func TestUserActive(t *testing.T) {
	var nilUser *User
	if nilUser.Active() {
		t.Error("nil user should not be active")
	}
	if (&User{Status: UserStatusDisabled}).Active() {
		t.Error("disabled user should not be active")
	}
	if !(&User{Status: UserStatusActive}).Active() {
		t.Error("active user should be active")
	}
}
