package webauthn

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"webauthnrp/internal/attestation"
	"webauthnrp/internal/authdata"
	"webauthnrp/internal/clientdata"
	"webauthnrp/internal/cose"
)

// CreationResponseInner is the nested "response" object of a creation
// response (SPEC_FULL.md §6).
type CreationResponseInner struct {
	ClientDataJSON    string
	AttestationObject string
}

// CreationResponse is the client's reply to a creation request (SPEC_FULL.md
// §6). UnmarshalJSON tolerates the alternate field-name spellings §6
// requires ("clientDataJson", "rawID", "attestationData").
type CreationResponse struct {
	ID       string
	RawID    string
	Type     string
	Response CreationResponseInner
}

func (r *CreationResponse) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("webauthn: CreationResponse: %w", err)
	}
	r.ID = firstString(m, "id")
	r.RawID = firstString(m, "rawId", "rawID")
	r.Type = firstString(m, "type")
	if raw, ok := firstRaw(m, "response"); ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("webauthn: CreationResponse.response: %w", err)
		}
		r.Response.ClientDataJSON = firstString(inner, "clientDataJSON", "clientDataJson")
		r.Response.AttestationObject = firstString(inner, "attestationObject", "attestationData")
	}
	return nil
}

func firstRaw(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	raw, ok := firstRaw(m, keys...)
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// VerifyRegistration validates a creation response against the challenge
// issued with the corresponding creation request, composing C1-C4
// (SPEC_FULL.md §4.5). On success it returns the Device the caller should
// persist.
func (rp *RelyingParty) VerifyRegistration(resp *CreationResponse, expectedChallenge []byte) (*Device, error) {
	const op = "VerifyRegistration"

	if resp.Type != "public-key" {
		return nil, wrapErr(op, IncorrectResponseType, fmt.Errorf("type=%q", resp.Type))
	}

	cdBytes, err := decodeFlexibleBase64(op, resp.Response.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	clientDataHash := sha256.Sum256(cdBytes)

	cd, err := clientdata.Decode(cdBytes)
	if err != nil {
		return nil, wrapErr(op, JsonDecode, err)
	}
	if err := clientdata.Verify(cd, clientdata.TypeCreate, expectedChallenge, rp.Origin, rp.AllowCrossOrigin); err != nil {
		return nil, translateClientDataErr(op, err)
	}

	attObjBytes, err := decodeFlexibleBase64(op, resp.Response.AttestationObject)
	if err != nil {
		return nil, err
	}
	obj, err := attestation.Decode(attObjBytes)
	if err != nil {
		return nil, wrapErr(op, CborDecode, err)
	}
	if !obj.AuthData.Flags.AttestedCredentialData() {
		return nil, wrapErr(op, InvalidCosePublicKey, fmt.Errorf("authData carries no attested credential"))
	}
	if err := obj.AuthData.Validate(rp.ID); err != nil {
		return nil, translateAuthDataErr(op, err)
	}
	if err := obj.Verify(clientDataHash); err != nil {
		return nil, translateAttestationErr(op, err)
	}

	rawID, err := decodeFlexibleBase64(op, resp.RawID)
	if err != nil {
		return nil, err
	}
	ac := obj.AuthData.AttestedCredential
	if !bytes.Equal(ac.CredentialID, rawID) {
		return nil, wrapErr(op, CredentialIdMismatch, fmt.Errorf("id/rawId does not match authData credentialId"))
	}

	pubKey, err := ac.PublicKey.RawUncompressedPoint()
	if err != nil {
		return nil, wrapErr(op, PublicKeyMissing, err)
	}

	return &Device{
		CredentialID: ac.CredentialID,
		PublicKey:    pubKey,
		Algorithm:    cose.AlgorithmES256,
		SignCount:    obj.AuthData.SignCount,
	}, nil
}

func translateClientDataErr(op string, err error) error {
	switch {
	case errors.Is(err, clientdata.ErrWebAuthnTypeMismatch):
		return wrapErr(op, WebAuthnTypeMismatch, err)
	case errors.Is(err, clientdata.ErrChallengeMismatch):
		return wrapErr(op, ChallengeMismatch, err)
	case errors.Is(err, clientdata.ErrOriginMismatch):
		return wrapErr(op, OriginMismatch, err)
	case errors.Is(err, clientdata.ErrCrossOriginRejected):
		return wrapErr(op, OriginMismatch, err)
	default:
		return wrapErr(op, JsonDecode, err)
	}
}

func translateAuthDataErr(op string, err error) error {
	switch {
	case errors.Is(err, authdata.ErrRPIDHashMismatch):
		return wrapErr(op, RpIdHashMismatch, err)
	case errors.Is(err, authdata.ErrUserNotPresent):
		return wrapErr(op, UserNotPresent, err)
	default:
		return wrapErr(op, CborDecode, err)
	}
}

func translateAttestationErr(op string, err error) error {
	switch {
	case errors.Is(err, attestation.ErrUnsupportedFormat):
		return wrapErr(op, UnsupportedAttestationFormat, err)
	case errors.Is(err, attestation.ErrCertificateCount):
		return wrapErr(op, TooManyX509Certificates, err)
	case errors.Is(err, attestation.ErrSignatureVerification):
		return wrapErr(op, SignatureFailed, err)
	case errors.Is(err, attestation.ErrUnsupportedKeyType):
		return wrapErr(op, InvalidCosePublicKey, err)
	case errors.Is(err, attestation.ErrMalformedStatement):
		return wrapErr(op, BadX509Certificate, err)
	default:
		return wrapErr(op, BadX509Certificate, err)
	}
}
