package clientdata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
)

func mustJSON(typ, challenge, origin string, crossOrigin bool) []byte {
	co := ""
	if crossOrigin {
		co = `,"crossOrigin":true`
	}
	return []byte(fmt.Sprintf(`{"type":%q,"challenge":%q,"origin":%q%s}`, typ, challenge, origin, co))
}

func TestDecodeAndVerifyOK(t *testing.T) {
	challenge := []byte("0123456789abcdef0123456789abcde")
	enc := base64.RawURLEncoding.EncodeToString(challenge)
	raw := mustJSON(TypeCreate, enc, "https://app.example.com", false)

	cd, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Verify(cd, TypeCreate, challenge, "https://app.example.com", false); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyTypeMismatch(t *testing.T) {
	challenge := []byte("c")
	enc := base64.RawURLEncoding.EncodeToString(challenge)
	raw := mustJSON(TypeGet, enc, "https://app.example.com", false)
	cd, _ := Decode(raw)
	if err := Verify(cd, TypeCreate, challenge, "https://app.example.com", false); !errors.Is(err, ErrWebAuthnTypeMismatch) {
		t.Fatalf("got %v, want ErrWebAuthnTypeMismatch", err)
	}
}

func TestVerifyChallengeMismatch(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString([]byte("issued-challenge"))
	raw := mustJSON(TypeCreate, enc, "https://app.example.com", false)
	cd, _ := Decode(raw)
	if err := Verify(cd, TypeCreate, []byte("different-challenge"), "https://app.example.com", false); err != ErrChallengeMismatch {
		t.Fatalf("got %v, want ErrChallengeMismatch", err)
	}
}

func TestVerifyOriginMismatch(t *testing.T) {
	challenge := []byte("c")
	enc := base64.RawURLEncoding.EncodeToString(challenge)
	raw := mustJSON(TypeCreate, enc, "https://evil.example.com", false)
	cd, _ := Decode(raw)
	if err := Verify(cd, TypeCreate, challenge, "https://app.example.com", false); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("got %v, want ErrOriginMismatch", err)
	}
}

func TestVerifyCrossOriginRejectedByDefault(t *testing.T) {
	challenge := []byte("c")
	enc := base64.RawURLEncoding.EncodeToString(challenge)
	raw := mustJSON(TypeCreate, enc, "https://app.example.com", true)
	cd, _ := Decode(raw)
	if err := Verify(cd, TypeCreate, challenge, "https://app.example.com", false); err != ErrCrossOriginRejected {
		t.Fatalf("got %v, want ErrCrossOriginRejected", err)
	}
	if err := Verify(cd, TypeCreate, challenge, "https://app.example.com", true); err != nil {
		t.Fatalf("allowCrossOrigin=true should accept: %v", err)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}
