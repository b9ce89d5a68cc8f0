package middleware

import "testing"

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"plain params untouched", "path=/home&version=v3", "path=/home&version=v3"},
		{"token redacted", "token=atk_secret123", "token=[REDACTED]"},
		{"mixed case redacted", "Password=hunter2", "Password=[REDACTED]"},
		{"sensitive among others", "path=/home&token=atk_x&version=v3", "path=/home&token=[REDACTED]&version=v3"},
		{"encoded name redacted", "%74oken=atk_x", "%74oken=[REDACTED]"},
		{"valueless pair passed through", "debug&token=atk_x", "debug&token=[REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactQueryString(tt.raw); got != tt.want {
				t.Errorf("redactQueryString(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
