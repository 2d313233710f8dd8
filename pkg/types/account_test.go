package types

import "testing"

func TestIsAccountDir(t *testing.T) {
	tests := map[string]bool{
		"210987654321":                true,
		"o-a1b2c3d4e5/210987654321":   true,
		"o-/210987654321":             false,
		"21098765432":                 false,
		"2109876543210":               false,
		"21098765432x":                false,
		"x-a1b2c3d4e5/210987654321":   false,
		"o-a1b2c3d4e5/not-an-account": false,
	}
	for dir, want := range tests {
		if got := IsAccountDir(dir); got != want {
			t.Errorf("IsAccountDir(%q) = %v, want %v", dir, got, want)
		}
	}
}

func TestIsAccountID(t *testing.T) {
	for _, id := range []string{"000000000000", "210987654321"} {
		if !IsAccountID(id) {
			t.Errorf("IsAccountID(%q) = false", id)
		}
	}
	for _, id := range []string{"", "o-a1b2c3d4e5", "21098765432a", "2109876543210"} {
		if IsAccountID(id) {
			t.Errorf("IsAccountID(%q) = true", id)
		}
	}
}
