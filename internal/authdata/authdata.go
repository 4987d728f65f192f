// Package authdata decodes the WebAuthn authenticator data byte layout
// (rpIdHash, flags, signature counter, and optional attested credential
// data embedding a COSE public key).
package authdata

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"webauthnrp/internal/cose"
)

// Flags is the authenticator data flags bitfield (WebAuthn §6.1).
type Flags byte

const (
	FlagUserPresent            Flags = 0x01
	FlagUserVerified           Flags = 0x04
	FlagAttestedCredentialData Flags = 0x40
	FlagExtensionData          Flags = 0x80
)

func (f Flags) UserPresent() bool            { return f&FlagUserPresent != 0 }
func (f Flags) UserVerified() bool           { return f&FlagUserVerified != 0 }
func (f Flags) AttestedCredentialData() bool { return f&FlagAttestedCredentialData != 0 }
func (f Flags) ExtensionData() bool          { return f&FlagExtensionData != 0 }

// AttestedCredential is the attested credential data block (WebAuthn §6.5.2),
// present only when Flags.AttestedCredentialData() is set.
type AttestedCredential struct {
	AAGUID       [16]byte
	CredentialID []byte
	PublicKey    *cose.Key
}

// AuthenticatorData is the decoded authData structure (WebAuthn §6.1).
type AuthenticatorData struct {
	RPIDHash  [32]byte
	Flags     Flags
	SignCount uint32

	AttestedCredential *AttestedCredential

	// Raw holds the exact bytes this value was decoded from, needed by
	// callers that must re-hash or re-concatenate authData verbatim
	// (e.g. the assertion signature base string).
	Raw []byte
}

var (
	// ErrTooShort indicates the buffer is shorter than its flags require.
	ErrTooShort = errors.New("authdata: buffer too short")
	// ErrUnsupportedExtensions indicates trailing extension data, which this
	// package does not parse.
	ErrUnsupportedExtensions = errors.New("authdata: extension data not supported")
	// ErrTrailingBytes indicates unexpected bytes after the parsed structure.
	ErrTrailingBytes = errors.New("authdata: trailing bytes after credential public key")
	// ErrRPIDHashMismatch indicates the rpIdHash doesn't match the expected RP ID.
	ErrRPIDHashMismatch = errors.New("authdata: rpIdHash does not match relying party ID")
	// ErrUserNotPresent indicates the UP flag is not set.
	ErrUserNotPresent = errors.New("authdata: user presence flag not set")
)

// Decode parses b into an AuthenticatorData. If AT=1, the embedded COSE_Key
// is decoded via the cose package, which also reports how many bytes it
// consumed so decoding can stop at the correct offset; any bytes beyond that
// are rejected unless ED=1 (unsupported extensions).
func Decode(b []byte) (*AuthenticatorData, error) {
	if len(b) < 37 {
		return nil, fmt.Errorf("%w: need at least 37 bytes, got %d", ErrTooShort, len(b))
	}
	ad := &AuthenticatorData{Raw: b}
	copy(ad.RPIDHash[:], b[:32])
	ad.Flags = Flags(b[32])
	ad.SignCount = binary.BigEndian.Uint32(b[33:37])
	rest := b[37:]

	if !ad.Flags.AttestedCredentialData() {
		if len(rest) != 0 {
			if ad.Flags.ExtensionData() {
				return nil, ErrUnsupportedExtensions
			}
			return nil, fmt.Errorf("%w: %d bytes after fixed header with AT=0", ErrTrailingBytes, len(rest))
		}
		return ad, nil
	}

	if len(rest) < 16+2 {
		return nil, fmt.Errorf("%w: attested credential header", ErrTooShort)
	}
	ac := &AttestedCredential{}
	copy(ac.AAGUID[:], rest[:16])
	rest = rest[16:]

	credIDLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if credIDLen < 1 || credIDLen > 1023 {
		return nil, fmt.Errorf("authdata: invalid credentialId length %d", credIDLen)
	}
	if len(rest) < credIDLen {
		return nil, fmt.Errorf("%w: credentialId", ErrTooShort)
	}
	ac.CredentialID = append([]byte{}, rest[:credIDLen]...)
	rest = rest[credIDLen:]

	key, n, err := cose.Decode(rest)
	if err != nil {
		return nil, fmt.Errorf("authdata: credentialPublicKey: %w", err)
	}
	ac.PublicKey = key
	rest = rest[n:]

	if len(rest) != 0 {
		if ad.Flags.ExtensionData() {
			return nil, ErrUnsupportedExtensions
		}
		return nil, fmt.Errorf("%w: %d bytes after credentialPublicKey", ErrTrailingBytes, len(rest))
	}

	ad.AttestedCredential = ac
	return ad, nil
}

// Validate checks the rpIdHash against the expected RP ID and that the user
// presence flag is set. User-verification enforcement is policy-driven and
// left to the caller (see the root package's UserVerification config).
func (ad *AuthenticatorData) Validate(expectedRPID string) error {
	want := sha256.Sum256([]byte(expectedRPID))
	if subtle.ConstantTimeCompare(want[:], ad.RPIDHash[:]) != 1 {
		return ErrRPIDHashMismatch
	}
	if !ad.Flags.UserPresent() {
		return ErrUserNotPresent
	}
	return nil
}
