package auth

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("short", 12); err == nil {
		t.Fatal("expected error for password below the length floor")
	}
	if err := ValidatePassword(strings.Repeat("x", 129)+"a", 12); err == nil {
		t.Fatal("expected error for password above the length ceiling")
	}
	if err := ValidatePassword("aaaaaaaaaaaa", 12); err == nil {
		t.Fatal("expected error for single repeating character")
	}
	if err := ValidatePassword("Password1234", 12); err == nil {
		t.Fatal("expected error for common password")
	}
	if err := ValidatePassword("a perfectly fine passphrase", 12); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	// minLength zero falls back to the 12-character default.
	if err := ValidatePassword("elevenchars", 0); err == nil {
		t.Fatal("expected default floor of 12 to reject 11 characters")
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("op@example.com"); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	for _, email := range []string{"", "not-an-email", "a@b@c", "Op <op@example.com>"} {
		if err := ValidateEmail(email); err == nil {
			t.Fatalf("expected rejection of %q", email)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"alice", "a.b-c_d", "op3rator"} {
		if err := ValidateUsername(name); err != nil {
			t.Fatalf("expected acceptance of %q, got %v", name, err)
		}
	}
	for _, name := range []string{"ab", "Alice", ".leading", strings.Repeat("a", 33), "with space"} {
		if err := ValidateUsername(name); err == nil {
			t.Fatalf("expected rejection of %q", name)
		}
	}
}
