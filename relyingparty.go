package webauthn

import (
	"fmt"
	"strings"
)

// UserVerification is the authenticator user-verification policy (WebAuthn
// §5.4.5).
type UserVerification string

const (
	UserVerificationRequired    UserVerification = "required"
	UserVerificationPreferred   UserVerification = "preferred"
	UserVerificationDiscouraged UserVerification = "discouraged"
)

// AttestationConveyance is the attestation conveyance preference (WebAuthn
// §5.4.7).
type AttestationConveyance string

const (
	AttestationNone     AttestationConveyance = "none"
	AttestationIndirect AttestationConveyance = "indirect"
	AttestationDirect   AttestationConveyance = "direct"
)

// RelyingParty identifies the server validating credentials (WebAuthn
// §5.4.2) and carries the policy knobs that govern every validation call
// made through it. It holds no state across calls; every method is safe
// for concurrent use.
type RelyingParty struct {
	Name string
	ID   string

	// Origin is the full scheme+host[:port] the RP serves from, e.g.
	// "https://app.example.com". Required; ID is derived from it unless
	// explicitly overridden via NewRelyingParty's id parameter.
	Origin string

	// UserVerification is the policy advertised in requests. It is not
	// checked on responses under any policy: a UV=0 response is accepted
	// even when the policy is "required".
	UserVerification UserVerification

	// Attestation is the conveyance preference advertised in creation
	// requests.
	Attestation AttestationConveyance

	// AllowCrossOrigin, when true, accepts clientData with crossOrigin=true.
	// Default false per DESIGN.md's open-question decision 3.
	AllowCrossOrigin bool
}

// NewRelyingParty constructs a RelyingParty. If id is empty, the RP ID is
// derived from origin by stripping the scheme and any path (SPEC_FULL.md
// §6, "derive"). Defaults: UserVerification=preferred, Attestation=none.
func NewRelyingParty(name, origin, id string) (*RelyingParty, error) {
	if origin == "" {
		return nil, fmt.Errorf("webauthn: NewRelyingParty: origin must not be empty")
	}
	if id == "" {
		var err error
		id, err = DeriveRPID(origin)
		if err != nil {
			return nil, err
		}
	}
	return &RelyingParty{
		Name:             name,
		ID:               id,
		Origin:           origin,
		UserVerification: UserVerificationPreferred,
		Attestation:      AttestationNone,
	}, nil
}

// DeriveRPID strips the URI scheme (up to and including "://", if present)
// and any path (from the first "/" onward) from origin, per SPEC_FULL.md §6
// and Testable Property 2.
func DeriveRPID(origin string) (string, error) {
	s := origin
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		s = s[:idx]
	}
	if s == "" {
		return "", fmt.Errorf("webauthn: DeriveRPID: origin %q has no host", origin)
	}
	return s, nil
}
