package webauthn

import "testing"

func TestDeriveRPID(t *testing.T) {
	cases := []struct {
		origin string
		want   string
	}{
		{"https://app.example.com", "app.example.com"},
		{"https://app.example.com/", "app.example.com"},
		{"app.example.com/x", "app.example.com"},
		{"https://app.example.com:8443/foo/bar", "app.example.com:8443"},
	}
	for _, c := range cases {
		got, err := DeriveRPID(c.origin)
		if err != nil {
			t.Fatalf("DeriveRPID(%q): %v", c.origin, err)
		}
		if got != c.want {
			t.Errorf("DeriveRPID(%q) = %q, want %q", c.origin, got, c.want)
		}
	}
}

func TestNewRelyingPartyDefaults(t *testing.T) {
	rp, err := NewRelyingParty("Example App", "https://app.example.com", "")
	if err != nil {
		t.Fatalf("NewRelyingParty: %v", err)
	}
	if rp.ID != "app.example.com" {
		t.Errorf("ID = %q", rp.ID)
	}
	if rp.UserVerification != UserVerificationPreferred {
		t.Errorf("UserVerification = %q, want preferred", rp.UserVerification)
	}
	if rp.Attestation != AttestationNone {
		t.Errorf("Attestation = %q, want none", rp.Attestation)
	}
	if rp.AllowCrossOrigin {
		t.Error("AllowCrossOrigin should default to false")
	}
}

func TestNewRelyingPartyExplicitID(t *testing.T) {
	rp, err := NewRelyingParty("Example App", "https://app.example.com", "example.com")
	if err != nil {
		t.Fatalf("NewRelyingParty: %v", err)
	}
	if rp.ID != "example.com" {
		t.Errorf("ID = %q, want explicit override example.com", rp.ID)
	}
}

func TestNewRelyingPartyRejectsEmptyOrigin(t *testing.T) {
	if _, err := NewRelyingParty("Example App", "", ""); err == nil {
		t.Fatal("expected error for empty origin")
	}
}
