package webauthn

import "webauthnrp/internal/cose"

// Device is the durable result of a successful registration (SPEC_FULL.md
// §3). It is the only value this library expects a caller to persist; the
// core never stores it itself.
type Device struct {
	CredentialID []byte
	// PublicKey is the ANSI X9.62 uncompressed encoding (0x04 || x || y) of
	// the credential's public key. Populated for every device this
	// library's own VerifyRegistration produces, since C3 (fido-u2f) only
	// ever attests an ES256 key.
	PublicKey []byte
	// Algorithm is the COSE algorithm identifier of PublicKey/COSEKey.
	// Devices registered through this library are always
	// cose.AlgorithmES256; the zero value is treated as ES256 for
	// compatibility with records stored before this field existed.
	Algorithm cose.Algorithm
	// COSEKey, when set, is the raw CBOR-encoded COSE_Key for a device
	// whose public key arrived through some channel other than this
	// library's own C5 (e.g. imported from another relying party's
	// export) and so cannot be described by the ES256-only PublicKey
	// field above. VerifyAssertion prefers COSEKey over PublicKey when
	// both are present.
	COSEKey   []byte
	SignCount uint32
}

// AssertionResult is returned by VerifyAssertion on success.
type AssertionResult struct {
	// UpdatedSignCount is the authenticator's reported counter; the caller
	// persists it onto the matching Device.
	UpdatedSignCount uint32
	// CounterRegressed is set when the new counter did not strictly exceed
	// the device's prior counter (and neither was the both-zero no-counter
	// case). Per DESIGN.md's open-question decision 1, this is a soft signal:
	// VerifyAssertion still returns success, leaving escalation to the
	// caller.
	CounterRegressed bool
	// UserHandle is the authenticator-reported user handle, if present.
	UserHandle []byte
}
