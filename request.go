package webauthn

import (
	"crypto/rand"
	"fmt"
)

// ChallengeSize is the fixed length of every generated challenge (SPEC_FULL.md
// §4.7).
const ChallengeSize = 32

// User is the account a credential is bound to (SPEC_FULL.md §3). ID is the
// User Handle: an opaque, stable identifier, never an email or login name.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

// PublicKeyParams names one acceptable credential public key algorithm.
type PublicKeyParams struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

// DefaultPublicKeyParams is the algorithm preference list advertised in
// creation requests. ES256 (-7) is first and is the only algorithm this
// library fully verifies end-to-end. The others are advertised, but
// VerifyRegistration accepts only fido-u2f attestations of P-256 keys, so a
// credential created with one of them is rejected at registration.
var DefaultPublicKeyParams = []PublicKeyParams{
	{Type: "public-key", Alg: -7},   // ES256
	{Type: "public-key", Alg: -257}, // RS256
	{Type: "public-key", Alg: -35},  // ES384
	{Type: "public-key", Alg: -36},  // ES512
	{Type: "public-key", Alg: -8},   // EdDSA
}

// AuthenticatorSelection constrains which authenticators may fulfil a
// creation request (WebAuthn §5.4.4).
type AuthenticatorSelection struct {
	AuthenticatorAttachment string           `json:"authenticatorAttachment,omitempty"`
	RequireResidentKey      bool             `json:"requireResidentKey"`
	UserVerification        UserVerification `json:"userVerification"`
}

// relyingPartyEntity is the {name, id} shape embedded in creation requests.
type relyingPartyEntity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// userEntity is the {id, name, displayName} shape embedded in creation
// requests, with ID base64url-no-pad encoded for JSON transport.
type userEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// CreationRequest is the server-assembled input to
// navigator.credentials.create() (SPEC_FULL.md §4.7).
type CreationRequest struct {
	Challenge              []byte                  `json:"-"`
	ChallengeB64            string                  `json:"challenge"`
	RP                     relyingPartyEntity      `json:"rp"`
	User                   userEntity              `json:"user"`
	PubKeyCredParams       []PublicKeyParams       `json:"pubKeyCredParams"`
	AuthenticatorSelection AuthenticatorSelection  `json:"authenticatorSelection"`
	Attestation            AttestationConveyance   `json:"attestation"`
	TimeoutMS              uint32                  `json:"timeout,omitempty"`
}

// CredentialDescriptor references one existing credential (WebAuthn §5.10.3).
type CredentialDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

// AssertionRequest is the server-assembled input to
// navigator.credentials.get() (SPEC_FULL.md §4.7).
type AssertionRequest struct {
	Challenge        []byte                  `json:"-"`
	ChallengeB64      string                  `json:"challenge"`
	RPID             string                  `json:"rpId"`
	AllowCredentials []CredentialDescriptor  `json:"allowCredentials"`
	UserVerification UserVerification        `json:"userVerification"`
	TimeoutMS        uint32                  `json:"timeout,omitempty"`
}

// NewChallenge draws ChallengeSize bytes from the platform CSPRNG. Every
// call returns fresh, independent bytes — Testable Property 1.
func NewChallenge() ([]byte, error) {
	b := make([]byte, ChallengeSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("webauthn: NewChallenge: %w", err)
	}
	return b, nil
}

// NewCreationRequest builds a credential-creation request for user, scoped
// to rp, with a freshly generated challenge. timeoutMS of 0 omits the
// timeout field.
func (rp *RelyingParty) NewCreationRequest(user User, timeoutMS uint32) (*CreationRequest, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}
	return &CreationRequest{
		Challenge:    challenge,
		ChallengeB64: b64urlEncode(challenge),
		RP:           relyingPartyEntity{Name: rp.Name, ID: rp.ID},
		User: userEntity{
			ID:          b64urlEncode(user.ID),
			Name:        user.Name,
			DisplayName: user.DisplayName,
		},
		PubKeyCredParams: DefaultPublicKeyParams,
		AuthenticatorSelection: AuthenticatorSelection{
			RequireResidentKey: false,
			UserVerification:   rp.UserVerification,
		},
		Attestation: rp.Attestation,
		TimeoutMS:   timeoutMS,
	}, nil
}

// NewAssertionRequest builds an authentication request against the given
// set of allowed credential IDs, with a freshly generated challenge.
func (rp *RelyingParty) NewAssertionRequest(allowedCredentialIDs [][]byte, timeoutMS uint32) (*AssertionRequest, error) {
	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}
	allow := make([]CredentialDescriptor, len(allowedCredentialIDs))
	for i, id := range allowedCredentialIDs {
		allow[i] = CredentialDescriptor{Type: "public-key", ID: b64urlEncode(id)}
	}
	return &AssertionRequest{
		Challenge:        challenge,
		ChallengeB64:     b64urlEncode(challenge),
		RPID:             rp.ID,
		AllowCredentials: allow,
		UserVerification: rp.UserVerification,
		TimeoutMS:        timeoutMS,
	}, nil
}
