// Package attestation parses and verifies WebAuthn attestation objects
// (WebAuthn §6.5). Only the fido-u2f format is verified; every other
// registered format is recognized and rejected with ErrUnsupportedFormat
// rather than silently accepted, per the format allowlist policy.
package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"webauthnrp/internal/authdata"
)

// Format is an attestation statement format identifier (WebAuthn §8).
type Format string

const (
	FormatFIDOU2F         Format = "fido-u2f"
	FormatPacked          Format = "packed"
	FormatTPM             Format = "tpm"
	FormatAndroidKey      Format = "android-key"
	FormatAndroidSafetyNet Format = "android-safetynet"
	FormatApple           Format = "apple"
	FormatNone            Format = "none"
)

var (
	// ErrUnsupportedFormat indicates an attestation statement format this
	// package does not verify.
	ErrUnsupportedFormat = errors.New("attestation: unsupported attestation statement format")
	// ErrCBORDecode indicates the outer attestation object failed to decode.
	ErrCBORDecode = errors.New("attestation: invalid CBOR attestation object")
	// ErrMalformedStatement indicates the attStmt map was missing a field a
	// given format requires.
	ErrMalformedStatement = errors.New("attestation: malformed attestation statement")
	// ErrCertificateCount indicates the fido-u2f x5c array did not contain
	// exactly one certificate.
	ErrCertificateCount = errors.New("attestation: fido-u2f requires exactly one x5c certificate")
	// ErrSignatureVerification indicates the attestation signature did not
	// verify against the embedded certificate's public key.
	ErrSignatureVerification = errors.New("attestation: signature verification failed")
	// ErrUnsupportedKeyType indicates the credential public key embedded in
	// authData is not in a form fido-u2f attestation can cover (EC2/P-256).
	ErrUnsupportedKeyType = errors.New("attestation: unsupported credential public key type")
)

// Object is a decoded attestation object (WebAuthn §6.5.4).
type Object struct {
	Format     Format
	Statement  map[string]cbor.RawMessage
	AuthData   *authdata.AuthenticatorData
	RawAuthData []byte
}

type rawObject struct {
	Fmt      string                     `cbor:"fmt"`
	AttStmt  map[string]cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte                     `cbor:"authData"`
}

// Decode parses the outer CBOR-encoded attestation object and the
// authenticator data it embeds, but does not verify the attestation
// signature — call Verify for that.
func Decode(b []byte) (*Object, error) {
	var ro rawObject
	if err := cbor.Unmarshal(b, &ro); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCBORDecode, err)
	}
	ad, err := authdata.Decode(ro.AuthData)
	if err != nil {
		return nil, fmt.Errorf("attestation: authData: %w", err)
	}
	return &Object{
		Format:      Format(ro.Fmt),
		Statement:   ro.AttStmt,
		AuthData:    ad,
		RawAuthData: ro.AuthData,
	}, nil
}

// Verify checks the attestation statement against clientDataHash, the
// SHA-256 hash of the serialized client data JSON. Only fido-u2f is
// actually verified; every other format returns ErrUnsupportedFormat.
func (o *Object) Verify(clientDataHash [32]byte) error {
	switch o.Format {
	case FormatFIDOU2F:
		return o.verifyFIDOU2F(clientDataHash)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, o.Format)
	}
}

type fidoU2FStatement struct {
	X5C []cbor.RawMessage `cbor:"x5c"`
	Sig []byte            `cbor:"sig"`
}

// verifyFIDOU2F implements the FIDO U2F attestation statement format
// (WebAuthn §8.6). The signature base string is
// 0x00 || rpIdHash || clientDataHash || credentialId || publicKeyU2F,
// where publicKeyU2F is the ANSI X9.62 uncompressed point encoding of the
// credential's P-256 public key, signed with ECDSA-SHA256 over the sole
// certificate in x5c (index 0 — there is never more than one for fido-u2f).
func (o *Object) verifyFIDOU2F(clientDataHash [32]byte) error {
	var stmt fidoU2FStatement
	if err := decodeStatement(o.Statement, &stmt); err != nil {
		return err
	}
	if len(stmt.X5C) != 1 {
		return fmt.Errorf("%w: got %d", ErrCertificateCount, len(stmt.X5C))
	}
	if len(stmt.Sig) == 0 {
		return fmt.Errorf("%w: sig", ErrMalformedStatement)
	}

	var certDER []byte
	if err := cbor.Unmarshal(stmt.X5C[0], &certDER); err != nil {
		return fmt.Errorf("%w: x5c[0]: %v", ErrMalformedStatement, err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("%w: x5c[0]: %v", ErrMalformedStatement, err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: attestation certificate is not EC", ErrUnsupportedKeyType)
	}

	ac := o.AuthData.AttestedCredential
	if ac == nil {
		return fmt.Errorf("%w: no attested credential data", ErrMalformedStatement)
	}
	pubKeyU2F, err := ac.PublicKey.RawUncompressedPoint()
	if err != nil {
		return fmt.Errorf("%w: credential public key: %v", ErrUnsupportedKeyType, err)
	}

	var verifyData bytes.Buffer
	verifyData.WriteByte(0x00)
	verifyData.Write(o.AuthData.RPIDHash[:])
	verifyData.Write(clientDataHash[:])
	verifyData.Write(ac.CredentialID)
	verifyData.Write(pubKeyU2F)

	digest := sha256.Sum256(verifyData.Bytes())
	if !ecdsa.VerifyASN1(pub, digest[:], stmt.Sig) {
		return ErrSignatureVerification
	}
	return nil
}

func decodeStatement(m map[string]cbor.RawMessage, v interface{}) error {
	b, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}
	return nil
}
