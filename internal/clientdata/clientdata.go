// Package clientdata decodes and verifies the WebAuthn client data JSON
// object returned alongside every attestation and assertion response.
package clientdata

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeCreate = "webauthn.create"
	TypeGet    = "webauthn.get"
)

var (
	ErrJSONDecode          = errors.New("clientdata: invalid JSON")
	ErrWebAuthnTypeMismatch = errors.New("clientdata: unexpected type")
	ErrChallengeMismatch    = errors.New("clientdata: challenge does not match")
	ErrOriginMismatch       = errors.New("clientdata: origin does not match")
	ErrCrossOriginRejected  = errors.New("clientdata: crossOrigin responses are rejected")
)

// TokenBinding mirrors the optional tokenBinding dictionary. It is decoded
// but never validated (WebAuthn §6.1 marks it a feature stub here; status
// "present" would require matching a token-binding ID the library does not
// have access to).
type TokenBinding struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// ClientData is the decoded clientDataJSON object (WebAuthn §5.8.1).
type ClientData struct {
	Type         string        `json:"type"`
	Challenge    string        `json:"challenge"`
	Origin       string        `json:"origin"`
	CrossOrigin  bool          `json:"crossOrigin,omitempty"`
	TokenBinding *TokenBinding `json:"tokenBinding,omitempty"`
}

// Decode parses raw clientDataJSON bytes.
func Decode(raw []byte) (*ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONDecode, err)
	}
	return &cd, nil
}

// Verify checks type, challenge and origin against the expected values. The
// challenge comparison is byte-for-byte after base64url-no-padding decoding
// the client's challenge; wantChallenge is the raw issued bytes.
// crossOrigin=true is rejected unless allowCrossOrigin is set.
func Verify(cd *ClientData, wantType string, wantChallenge []byte, wantOrigin string, allowCrossOrigin bool) error {
	if cd.Type != wantType {
		return fmt.Errorf("%w: got %q, want %q", ErrWebAuthnTypeMismatch, cd.Type, wantType)
	}
	gotChallenge, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return fmt.Errorf("%w: challenge: %v", ErrJSONDecode, err)
	}
	if !constantTimeEqual(gotChallenge, wantChallenge) {
		return ErrChallengeMismatch
	}
	if cd.Origin != wantOrigin {
		return fmt.Errorf("%w: got %q, want %q", ErrOriginMismatch, cd.Origin, wantOrigin)
	}
	if cd.CrossOrigin && !allowCrossOrigin {
		return ErrCrossOriginRejected
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
